package tokens

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
)

// DefaultTokenFile: путь по умолчанию для файла с токеном.
const DefaultTokenFile = ".secrets/twitch_tokens.json"

// FileTokenStore сохраняет токены в JSON файле.
type FileTokenStore struct {
	Path string
}

type fileToken struct {
	Access    string `json:"access"`
	ExpiresAt string `json:"expires_at"`
}

func (store FileTokenStore) tokenPath() string {
	if strings.TrimSpace(store.Path) == "" {
		return DefaultTokenFile
	}
	return store.Path
}

// LoadAppToken загружает токен; отсутствие файла возвращается как ошибка, совместимая с os.ErrNotExist.
func (store FileTokenStore) LoadAppToken() (*Token, error) {
	path := store.tokenPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.With("path", path).Wrapf(err, "load app token: read file")
	}

	var payload fileToken
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "load app token: decode json")
	}

	expiresAt, err := time.Parse(time.RFC3339, payload.ExpiresAt)
	if err != nil {
		return nil, oops.With("path", path).Wrapf(err, "load app token: parse expires_at")
	}

	return &Token{
		Access:    payload.Access,
		ExpiresAt: expiresAt,
	}, nil
}

// SaveAppToken сохраняет токен с правами 0600.
func (store FileTokenStore) SaveAppToken(token Token) error {
	path := store.tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.With("path", path).Wrapf(err, "save app token: create dir")
	}

	data, err := json.Marshal(fileToken{
		Access:    token.Access,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return oops.Wrapf(err, "save app token: encode json")
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.With("path", path).Wrapf(err, "save app token: write file")
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return oops.With("path", path).Wrapf(err, "save app token: chmod file")
	}
	return nil
}
