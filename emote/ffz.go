package emote

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SourceFFZ         = "FrankerFaceZ"
	DefaultFFZBaseURL = "https://api.frankerfacez.com"
)

// FFZProvider загружает эмоуты FrankerFaceZ.
type FFZProvider struct {
	baseURL string
	client  *http.Client
	cache   *setCache
	logger  *slog.Logger
}

// NewFFZProvider создаёт провайдера FrankerFaceZ. Пустой baseURL означает публичный API.
func NewFFZProvider(baseURL string, client *http.Client, logger *slog.Logger) *FFZProvider {
	if baseURL == "" {
		baseURL = DefaultFFZBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFZProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cache:   newSetCache(),
		logger:  logger,
	}
}

func (p *FFZProvider) Name() string { return SourceFFZ }

// Fetch загружает наборы по умолчанию и наборы, выданные пользователям глобально.
func (p *FFZProvider) Fetch(ctx context.Context) error {
	var resp ffzGlobalResponse
	if _, err := getJSON(ctx, p.client, p.baseURL+"/v1/set/global", nil, &resp); err != nil {
		return err
	}

	p.cache.storeSets(convertFFZSets(resp.Sets, "global"))

	defaults := make([]string, 0, len(resp.DefaultSets))
	for _, id := range resp.DefaultSets {
		defaults = append(defaults, strconv.FormatInt(id, 10))
	}
	p.cache.setScope(globalScope, defaults)

	for setID, logins := range resp.Users {
		for _, login := range logins {
			p.cache.addToScope(userScope(strings.ToLower(login)), setID)
		}
	}
	return nil
}

func (p *FFZProvider) Lookup(ctx context.Context, userLogin, channel, token string) (Emote, bool) {
	return p.cache.lookup(ctx, userLogin, channel, token, p.loadChannel, p.loadUser)
}

func (p *FFZProvider) loadChannel(ctx context.Context, channel string) error {
	var resp ffzSetsResponse
	status, err := getJSON(ctx, p.client, p.baseURL+"/v1/room/"+url.PathEscape(channel), nil, &resp)
	if status == http.StatusNotFound {
		p.cache.setScope(channelScope(channel), nil)
		return nil
	}
	if err != nil {
		p.logger.Debug("emote: ffz room fetch failed", "channel", channel, "error", err)
		return err
	}

	p.cache.storeSets(convertFFZSets(resp.Sets, channel))
	p.cache.setScope(channelScope(channel), sortedKeys(resp.Sets))
	return nil
}

func (p *FFZProvider) loadUser(ctx context.Context, login string) error {
	var resp ffzSetsResponse
	status, err := getJSON(ctx, p.client, p.baseURL+"/v1/user/"+url.PathEscape(login), nil, &resp)
	if status == http.StatusNotFound {
		p.cache.setScope(userScope(login), nil)
		return nil
	}
	if err != nil {
		p.logger.Debug("emote: ffz user fetch failed", "user", login, "error", err)
		return err
	}

	p.cache.storeSets(convertFFZSets(resp.Sets, login))
	p.cache.setScope(userScope(login), sortedKeys(resp.Sets))
	return nil
}

type ffzGlobalResponse struct {
	DefaultSets []int64             `json:"default_sets"`
	Sets        map[string]ffzSet   `json:"sets"`
	Users       map[string][]string `json:"users"`
}

type ffzSetsResponse struct {
	Sets map[string]ffzSet `json:"sets"`
}

type ffzSet struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Emoticons []ffzEmote `json:"emoticons"`
}

type ffzEmote struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	ModifierFlags int64             `json:"modifier_flags"`
	URLs          map[string]string `json:"urls"`
}

func convertFFZSets(sets map[string]ffzSet, scope string) map[string][]Emote {
	out := make(map[string][]Emote, len(sets))
	for id, set := range sets {
		emotes := make([]Emote, 0, len(set.Emoticons))
		for _, e := range set.Emoticons {
			em := Emote{
				Source:  SourceFFZ,
				ID:      strconv.FormatInt(e.ID, 10),
				Name:    e.Name,
				Channel: scope,
				URLs:    ffzURLs(e.URLs),
			}
			if e.ModifierFlags != 0 {
				flags := e.ModifierFlags
				em.Effect = &flags
			}
			emotes = append(emotes, em)
		}
		out[id] = emotes
	}
	return out
}

// ffzURLs упорядочивает ссылки по масштабу ("1", "2", "4").
func ffzURLs(urls map[string]string) []string {
	scales := make([]string, 0, len(urls))
	for scale := range urls {
		scales = append(scales, scale)
	}
	sort.Slice(scales, func(i, j int) bool {
		a, errA := strconv.Atoi(scales[i])
		b, errB := strconv.Atoi(scales[j])
		if errA != nil || errB != nil {
			return scales[i] < scales[j]
		}
		return a < b
	})

	out := make([]string, 0, len(scales))
	for _, scale := range scales {
		u := urls[scale]
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		out = append(out, u)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
