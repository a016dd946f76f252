package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-relay/errutil"
)

func TestGetAppToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":3600,"token_type":"bearer"}`))
	}))
	defer srv.Close()

	token, expiresIn, err := GetAppToken(context.Background(), srv.Client(), AppCredentials{
		ClientID:     " id ",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
	})

	require.NoError(t, err)
	assert.Equal(t, "abc", token)
	assert.Equal(t, time.Hour, expiresIn)
}

func TestGetAppTokenRejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"status":403,"message":"invalid client secret"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, _, err := GetAppToken(context.Background(), srv.Client(), AppCredentials{ClientID: "id", ClientSecret: "bad", TokenURL: srv.URL})
	errutil.AssertErrorCode(t, err, errutil.CodeAuth)
}

func TestGetAppTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, _, err := GetAppToken(context.Background(), srv.Client(), AppCredentials{ClientID: "id", ClientSecret: "s", TokenURL: srv.URL})
	errutil.AssertErrorCode(t, err, errutil.CodeTransport)
}
