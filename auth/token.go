package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
)

// DefaultTokenURL: эндпоинт client credentials Twitch.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// AppCredentials хранит учётные данные приложения Twitch.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
	// TokenURL переопределяет эндпоинт (тесты, прокси).
	TokenURL string
}

// GetAppToken запрашивает OAuth токен приложения у Twitch.
func GetAppToken(ctx context.Context, client *http.Client, creds AppCredentials) (accessToken string, expiresIn time.Duration, err error) {
	if client == nil {
		client = http.DefaultClient
	}
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	form := url.Values{}
	form.Set("client_id", strings.TrimSpace(creds.ClientID))
	form.Set("client_secret", strings.TrimSpace(creds.ClientSecret))
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, oops.Wrapf(err, "twitch oauth: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, oops.Code(errutil.CodeTransport).Wrapf(err, "twitch oauth: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := errutil.CodeTransport
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			code = errutil.CodeAuth
		}
		return "", 0, oops.Code(code).
			With("status", resp.StatusCode).
			Errorf("twitch oauth: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, oops.Wrapf(err, "twitch oauth: decode response")
	}
	if payload.AccessToken == "" {
		return "", 0, oops.Code(errutil.CodeAuth).Errorf("twitch oauth: empty access token")
	}

	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}
