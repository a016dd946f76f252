package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-relay/config"
	"twitch-chat-relay/emote"
	"twitch-chat-relay/errutil"
)

func TestAuthAppRequiresCredentials(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := newRootCmd()
	cmd.SetArgs([]string{"auth", "app"})

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, errutil.CodeConfig)
}

func TestAuthAppStoresToken(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":3600}`))
	}))
	defer srv.Close()

	tokenFile := filepath.Join(t.TempDir(), "tokens.json")
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_OAUTH_URL", srv.URL)
	t.Setenv("TOKEN_FILE", tokenFile)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"auth", "app"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "ok, expires at "))
	assert.FileExists(t, tokenFile)
}

func TestEmoteEngineProviders(t *testing.T) {
	cfg := config.Config{Emotes: config.EmoteConfig{FFZEnabled: true}}
	assert.Equal(t, []string{emote.SourceFFZ}, newEmoteEngine(cfg, nil, nil).Providers())

	cfg.Emotes.ClientID, cfg.Emotes.ClientSecret = "id", "secret"
	assert.Equal(t, []string{emote.SourceTwitch, emote.SourceFFZ}, newEmoteEngine(cfg, nil, nil).Providers())
}
