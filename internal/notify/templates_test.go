package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryTemplates struct {
	mu        sync.Mutex
	templates map[string]Template
	inserts   int
}

func newMemoryTemplates() *memoryTemplates {
	return &memoryTemplates{templates: map[string]Template{}}
}

func tplKey(key, category string, channel ChannelKind, lang string) string {
	return key + "|" + category + "|" + string(channel) + "|" + lang
}

// Get mirrors the SQL implementation: an empty category matches any.
func (m *memoryTemplates) Get(_ context.Context, key, category string, channel ChannelKind, lang string) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.Key == key && t.Channel == channel && t.Language == lang &&
			(category == "" || t.Category == category) {
			return t, nil
		}
	}
	return Template{}, ErrTemplateNotFound
}

func (m *memoryTemplates) Exists(_ context.Context, key, category string, channel ChannelKind, lang string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.templates[tplKey(key, category, channel, lang)]
	return ok, nil
}

func (m *memoryTemplates) Insert(_ context.Context, t Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	m.templates[tplKey(t.Key, t.Category, t.Channel, t.Language)] = t
	return nil
}

func (m *memoryTemplates) Update(_ context.Context, t Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tplKey(t.Key, t.Category, t.Channel, t.Language)
	if _, ok := m.templates[k]; !ok {
		return ErrTemplateNotFound
	}
	t.UpdatedAt = time.Now()
	m.templates[k] = t
	return nil
}

func (m *memoryTemplates) List(_ context.Context) ([]Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRenderSubstitutesTokens(t *testing.T) {
	out := Render("Hello {{name}}, you owe {{amount}} {{currency}}", map[string]string{
		"name":   "Abdi",
		"amount": "120.50",
	})
	require.Equal(t, "Hello Abdi, you owe 120.50 {{currency}}", out,
		"unresolved tokens must stay verbatim")
}

func TestRenderSinglePass(t *testing.T) {
	// A substituted value containing token syntax must not be expanded again.
	out := Render("{{a}}", map[string]string{"a": "{{b}}", "b": "nested"})
	require.Equal(t, "{{b}}", out)
}

func TestRenderToleratesWhitespaceInsideBraces(t *testing.T) {
	out := Render("{{ name }}", map[string]string{"name": "x"})
	require.Equal(t, "x", out)
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	repo := newMemoryTemplates()
	reg := NewRegistry(repo, testLogger())

	require.NoError(t, reg.SeedDefaults(context.Background()))
	first := repo.inserts
	require.Equal(t, len(DefaultTemplates()), first)

	require.NoError(t, reg.SeedDefaults(context.Background()))
	require.Equal(t, first, repo.inserts, "second seed must insert nothing")
}

func TestSeedDefaultsCoversInAppAndEmailVariants(t *testing.T) {
	repo := newMemoryTemplates()
	reg := NewRegistry(repo, testLogger())
	require.NoError(t, reg.SeedDefaults(context.Background()))

	inApp, err := reg.Resolve(context.Background(), "capital-low-balance", "", ChannelInApp, "en")
	require.NoError(t, err)
	require.True(t, inApp.IsDefault)

	email, err := reg.Resolve(context.Background(), "capital-low-balance", "", ChannelEmail, "en")
	require.NoError(t, err)
	require.NotEmpty(t, email.SMSTemplate, "critical alerts carry a short form for SMS")
}

func TestSeedDefaultsPreservesAdminEdits(t *testing.T) {
	repo := newMemoryTemplates()
	reg := NewRegistry(repo, testLogger())
	require.NoError(t, reg.SeedDefaults(context.Background()))

	edited := Template{Key: "approval-required", Category: "approvals", Channel: ChannelInApp,
		Language: "en", Subject: "Edited", Body: "Edited body", Priority: PriorityLow, IsActive: true}
	require.NoError(t, repo.Update(context.Background(), edited))

	require.NoError(t, reg.SeedDefaults(context.Background()))
	got, err := repo.Get(context.Background(), "approval-required", "approvals", ChannelInApp, "en")
	require.NoError(t, err)
	require.Equal(t, "Edited", got.Subject)
}

func TestResolveFallsBackToEnglish(t *testing.T) {
	repo := newMemoryTemplates()
	reg := NewRegistry(repo, testLogger())
	require.NoError(t, reg.SeedDefaults(context.Background()))

	tpl, err := reg.Resolve(context.Background(), "daily-digest", "", ChannelInApp, "fr-CA")
	require.NoError(t, err)
	require.Equal(t, "en", tpl.Language)
}

func TestResolveSkipsDeactivatedTemplates(t *testing.T) {
	repo := newMemoryTemplates()
	reg := NewRegistry(repo, testLogger())
	require.NoError(t, reg.SeedDefaults(context.Background()))

	tpl, err := repo.Get(context.Background(), "system-alert", "system", ChannelEmail, "en")
	require.NoError(t, err)
	tpl.IsActive = false
	require.NoError(t, repo.Update(context.Background(), tpl))

	_, err = reg.Resolve(context.Background(), "system-alert", "", ChannelEmail, "en")
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestResolveMissingTemplate(t *testing.T) {
	reg := NewRegistry(newMemoryTemplates(), testLogger())
	_, err := reg.Resolve(context.Background(), "no-such-key", "", ChannelInApp, "en")
	require.ErrorIs(t, err, ErrTemplateNotFound)
}
