package tokens

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerFetchesAndPersists(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "tokens.json")}
	calls := 0
	manager := NewAppTokenManager(store, func(context.Context) (string, time.Duration, error) {
		calls++
		return "fresh", time.Hour, nil
	})

	token, err := manager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token.Access)

	again, err := manager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, 1, calls)

	stored, err := store.LoadAppToken()
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Access)
}

func TestManagerUsesStoredToken(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "tokens.json")}
	require.NoError(t, store.SaveAppToken(Token{Access: "stored", ExpiresAt: time.Now().Add(time.Hour)}))

	manager := NewAppTokenManager(store, func(context.Context) (string, time.Duration, error) {
		t.Fatal("fetcher must not be called")
		return "", 0, nil
	})

	token, err := manager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", token.Access)
}

func TestManagerRefreshesAfterInvalidate(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "tokens.json")}
	n := 0
	manager := NewAppTokenManager(store, func(context.Context) (string, time.Duration, error) {
		n++
		return []string{"first", "second"}[n-1], time.Hour, nil
	})

	first, err := manager.Get(context.Background())
	require.NoError(t, err)
	manager.Invalidate()
	second, err := manager.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "first", first.Access)
	assert.Equal(t, "second", second.Access)
}

func TestManagerRespectsCancelledContext(t *testing.T) {
	manager := NewAppTokenManager(FileTokenStore{Path: filepath.Join(t.TempDir(), "t.json")}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
