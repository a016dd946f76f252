package emote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	emotes   map[string]Emote
	fetchErr error
	fetched  int
	lookups  []string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(context.Context) error {
	s.fetched++
	return s.fetchErr
}

func (s *stubProvider) Lookup(_ context.Context, _, _, token string) (Emote, bool) {
	s.lookups = append(s.lookups, token)
	em, ok := s.emotes[token]
	return em, ok
}

func int64Ptr(v int64) *int64 { return &v }

func TestTag(t *testing.T) {
	tests := []struct {
		name  string
		emote Emote
		want  string
	}{
		{"full", Emote{ID: "9", Name: "Wiggle", URLs: []string{"a", "b"}, Effect: int64Ptr(4)}, "<!9:a,b:4:Wiggle>"},
		{"no effect", Emote{ID: "25", Name: "Kappa", URLs: []string{"u1"}}, "<!25:u1:Kappa>"},
		{"id only", Emote{ID: "1"}, "<!1>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.emote.Tag())
		})
	}
}

func TestEnrichReplacesKnownWords(t *testing.T) {
	p := &stubProvider{name: "stub", emotes: map[string]Emote{
		"Kappa": {Source: "stub", ID: "25", Name: "Kappa", URLs: []string{"u1"}},
	}}
	engine := NewEngine(WithProvider(p))

	got := engine.Enrich(context.Background(), "bob", "forsen", "hello Kappa world Kappa")

	assert.Equal(t, "hello <!25:u1:Kappa> world <!25:u1:Kappa>", got)
	assert.Equal(t, []string{"hello", "Kappa", "world"}, p.lookups, "each distinct word is looked up once")
}

func TestEnrichWithoutMatchesKeepsMessage(t *testing.T) {
	engine := NewEngine(WithProvider(&stubProvider{name: "stub"}))
	assert.Equal(t, "  spaced   text ", engine.Enrich(context.Background(), "bob", "c", "  spaced   text "))
	assert.Equal(t, "plain", NewEngine().Enrich(context.Background(), "bob", "c", "plain"))
}

func TestEnrichIsSubstringBased(t *testing.T) {
	p := &stubProvider{name: "stub", emotes: map[string]Emote{
		"Kappa": {ID: "25", Name: "Kappa"},
	}}
	engine := NewEngine(WithProvider(p))

	got := engine.Enrich(context.Background(), "bob", "c", "Kappa KappaHD")

	assert.Equal(t, "<!25:Kappa> <!25:Kappa>HD", got)
}

func TestEnrichPrefersLongerToken(t *testing.T) {
	p := &stubProvider{name: "stub", emotes: map[string]Emote{
		"Kappa":   {ID: "25", Name: "Kappa"},
		"KappaHD": {ID: "26", Name: "KappaHD"},
	}}
	engine := NewEngine(WithProvider(p))

	got := engine.Enrich(context.Background(), "bob", "c", "Kappa KappaHD")

	assert.Equal(t, "<!25:Kappa> <!26:KappaHD>", got)
}

func TestLookupFirstProviderWins(t *testing.T) {
	first := &stubProvider{name: "first", emotes: map[string]Emote{"LUL": {Source: "first", ID: "1"}}}
	second := &stubProvider{name: "second", emotes: map[string]Emote{
		"LUL": {Source: "second", ID: "2"},
		"Pog": {Source: "second", ID: "3"},
	}}
	engine := NewEngine(WithProvider(first), WithProvider(second))

	em, ok := engine.Lookup(context.Background(), "bob", "c", "LUL")
	require.True(t, ok)
	assert.Equal(t, "first", em.Source)

	em, ok = engine.Lookup(context.Background(), "bob", "c", "Pog")
	require.True(t, ok)
	assert.Equal(t, "second", em.Source)

	_, ok = engine.Lookup(context.Background(), "bob", "c", "nope")
	assert.False(t, ok)
	assert.Equal(t, []string{"first", "second"}, engine.Providers())
}

func TestRefreshContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := &stubProvider{name: "failing", fetchErr: boom}
	healthy := &stubProvider{name: "healthy"}
	engine := NewEngine(WithProvider(failing), WithProvider(healthy))

	err := engine.Refresh(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, failing.fetched)
	assert.Equal(t, 1, healthy.fetched)
}
