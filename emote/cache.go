package emote

import (
	"context"
	"sync"
)

const globalScope = "@global"

func channelScope(channel string) string { return "channel:" + channel }

func userScope(login string) string { return "user:" + login }

// setCache хранит наборы эмоутов и привязку областей (глобальная, канал, пользователь) к наборам.
// Записи не устаревают.
type setCache struct {
	mu     sync.RWMutex
	sets   map[string][]Emote
	scopes map[string][]string
}

func newSetCache() *setCache {
	return &setCache{
		sets:   make(map[string][]Emote),
		scopes: make(map[string][]string),
	}
}

func (c *setCache) storeSets(sets map[string][]Emote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, emotes := range sets {
		c.sets[id] = emotes
	}
}

// setScope привязывает область к наборам; пустой список — закешированный отрицательный результат.
func (c *setCache) setScope(scope string, setIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if setIDs == nil {
		setIDs = []string{}
	}
	c.scopes[scope] = setIDs
}

func (c *setCache) addToScope(scope, setID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.scopes[scope] {
		if id == setID {
			return
		}
	}
	c.scopes[scope] = append(c.scopes[scope], setID)
}

func (c *setCache) hasScope(scope string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.scopes[scope]
	return ok
}

// find ищет эмоут по имени в наборах области.
func (c *setCache) find(scope, name string) (Emote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, setID := range c.scopes[scope] {
		for _, em := range c.sets[setID] {
			if em.Name == name {
				return em, true
			}
		}
	}
	return Emote{}, false
}

// loader подгружает наборы области по требованию и записывает их в кеш.
type loader func(ctx context.Context, key string) error

// lookup проходит области по порядку: глобальная, канал, пользователь.
func (c *setCache) lookup(ctx context.Context, userLogin, channel, token string, loadChannel, loadUser loader) (Emote, bool) {
	if em, ok := c.find(globalScope, token); ok {
		return em, true
	}
	if channel != "" && c.ensure(ctx, channelScope(channel), channel, loadChannel) {
		if em, ok := c.find(channelScope(channel), token); ok {
			return em, true
		}
	}
	if userLogin != "" && c.ensure(ctx, userScope(userLogin), userLogin, loadUser) {
		if em, ok := c.find(userScope(userLogin), token); ok {
			return em, true
		}
	}
	return Emote{}, false
}

func (c *setCache) ensure(ctx context.Context, scope, key string, load loader) bool {
	if c.hasScope(scope) {
		return true
	}
	if load == nil {
		return false
	}
	if err := load(ctx, key); err != nil {
		return false
	}
	return c.hasScope(scope)
}
