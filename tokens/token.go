package tokens

import "time"

// Token описывает OAuth токен приложения.
type Token struct {
	Access    string
	ExpiresAt time.Time
}

// ExpiringSoon сообщает, что токен истекает в пределах margin.
func (t Token) ExpiringSoon(now time.Time, margin time.Duration) bool {
	return t.Access == "" || t.ExpiresAt.Before(now.Add(margin))
}

// TokenStore описывает хранилище токенов приложения.
type TokenStore interface {
	LoadAppToken() (*Token, error)
	SaveAppToken(Token) error
}
