package tokens

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

const refreshMargin = 5 * time.Minute

// AppTokenFetcher запрашивает новый токен приложения.
type AppTokenFetcher func(ctx context.Context) (accessToken string, expiresIn time.Duration, err error)

// AppTokenManager выдаёт токен приложения: из памяти, из хранилища или запрашивая новый.
type AppTokenManager struct {
	store    TokenStore
	getToken AppTokenFetcher
	now      func() time.Time

	mu      sync.Mutex
	current *Token
}

// NewAppTokenManager создает менеджер токенов приложения.
func NewAppTokenManager(store TokenStore, getToken AppTokenFetcher) *AppTokenManager {
	return &AppTokenManager{
		store:    store,
		getToken: getToken,
		now:      time.Now,
	}
}

// Get возвращает действующий токен, обновляя его при необходимости.
func (manager *AppTokenManager) Get(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	manager.mu.Lock()
	defer manager.mu.Unlock()

	now := manager.now()
	if manager.current != nil && !manager.current.ExpiringSoon(now, refreshMargin) {
		return *manager.current, nil
	}

	if manager.current == nil {
		token, err := manager.store.LoadAppToken()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Token{}, err
		}
		if token != nil && !token.ExpiringSoon(now, refreshMargin) {
			manager.current = token
			return *token, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	accessToken, expiresIn, err := manager.getToken(ctx)
	if err != nil {
		return Token{}, err
	}

	fresh := Token{
		Access:    accessToken,
		ExpiresAt: now.Add(expiresIn),
	}
	if err := manager.store.SaveAppToken(fresh); err != nil {
		return Token{}, err
	}
	manager.current = &fresh
	return fresh, nil
}

// Invalidate забывает токен, например после ответа 401; следующий Get запросит новый.
func (manager *AppTokenManager) Invalidate() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if manager.current != nil {
		manager.current.Access = ""
	}
}
