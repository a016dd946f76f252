package emote

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"twitch-chat-relay/errutil"
	"twitch-chat-relay/tokens"
)

const (
	SourceTwitch        = "Twitch"
	DefaultHelixBaseURL = "https://api.twitch.tv/helix"
)

// TokenSource выдаёт токен приложения для запросов к Helix.
type TokenSource interface {
	Get(ctx context.Context) (tokens.Token, error)
}

type invalidator interface {
	Invalidate()
}

// HelixProvider загружает нативные эмоуты Twitch: глобальные и эмоуты канала.
// Пользовательских наборов у Helix нет.
type HelixProvider struct {
	baseURL  string
	clientID string
	tokens   TokenSource
	client   *http.Client
	cache    *setCache
	logger   *slog.Logger
}

// NewHelixProvider создаёт провайдера Helix. Пустой baseURL означает публичный API.
func NewHelixProvider(baseURL, clientID string, source TokenSource, client *http.Client, logger *slog.Logger) *HelixProvider {
	if baseURL == "" {
		baseURL = DefaultHelixBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HelixProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		tokens:   source,
		client:   client,
		cache:    newSetCache(),
		logger:   logger,
	}
}

func (p *HelixProvider) Name() string { return SourceTwitch }

func (p *HelixProvider) Fetch(ctx context.Context) error {
	var resp helixEmotesResponse
	if err := p.get(ctx, "/chat/emotes/global", &resp); err != nil {
		return err
	}
	p.cache.storeSets(map[string][]Emote{globalScope: convertHelixEmotes(resp.Data, "global")})
	p.cache.setScope(globalScope, []string{globalScope})
	return nil
}

func (p *HelixProvider) Lookup(ctx context.Context, userLogin, channel, token string) (Emote, bool) {
	return p.cache.lookup(ctx, userLogin, channel, token, p.loadChannel, nil)
}

func (p *HelixProvider) loadChannel(ctx context.Context, channel string) error {
	var users helixUsersResponse
	if err := p.get(ctx, "/users?login="+url.QueryEscape(channel), &users); err != nil {
		p.logger.Debug("emote: helix user lookup failed", "channel", channel, "error", err)
		return err
	}
	if len(users.Data) == 0 {
		p.cache.setScope(channelScope(channel), nil)
		return nil
	}

	var resp helixEmotesResponse
	if err := p.get(ctx, "/chat/emotes?broadcaster_id="+url.QueryEscape(users.Data[0].ID), &resp); err != nil {
		p.logger.Debug("emote: helix channel emotes failed", "channel", channel, "error", err)
		return err
	}

	setID := channelScope(channel)
	p.cache.storeSets(map[string][]Emote{setID: convertHelixEmotes(resp.Data, channel)})
	p.cache.setScope(setID, []string{setID})
	return nil
}

// get выполняет запрос с токеном приложения; после 401 токен сбрасывается.
func (p *HelixProvider) get(ctx context.Context, path string, out any) error {
	token, err := p.tokens.Get(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token.Access)
	header.Set("Client-Id", p.clientID)

	_, err = getJSON(ctx, p.client, p.baseURL+path, header, out)
	if errutil.Is(err, errutil.CodeAuth) {
		if inv, ok := p.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}
	return err
}

type helixUsersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

type helixEmotesResponse struct {
	Data []helixEmote `json:"data"`
}

type helixEmote struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Images struct {
		URL1x string `json:"url_1x"`
		URL2x string `json:"url_2x"`
		URL4x string `json:"url_4x"`
	} `json:"images"`
}

func convertHelixEmotes(data []helixEmote, scope string) []Emote {
	out := make([]Emote, 0, len(data))
	for _, e := range data {
		var urls []string
		for _, u := range []string{e.Images.URL1x, e.Images.URL2x, e.Images.URL4x} {
			if u != "" {
				urls = append(urls, u)
			}
		}
		out = append(out, Emote{
			Source:  SourceTwitch,
			ID:      e.ID,
			Name:    e.Name,
			Channel: scope,
			URLs:    urls,
		})
	}
	return out
}
