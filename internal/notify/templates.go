package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/text/language"
)

// Template is one channel-specific message skeleton with {{token}}
// placeholders. Lookup is keyed by (key, category, channel, language); the
// email variant may carry a short-form SMSTemplate reused by the SMS
// transport. Inactive templates are invisible to resolution.
type Template struct {
	Key         string      `json:"key"`
	Category    string      `json:"category"`
	Channel     ChannelKind `json:"channel"`
	Language    string      `json:"language"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	SMSTemplate string      `json:"smsTemplate,omitempty"`
	Priority    Priority    `json:"priority"`
	IsDefault   bool        `json:"isDefault"`
	IsActive    bool        `json:"isActive"`
	CreatedAt   time.Time   `json:"createdAt,omitzero"`
	UpdatedAt   time.Time   `json:"updatedAt,omitzero"`
}

// TemplateRepository persists templates. Get matches any category when an
// empty one is passed; the seeded set keeps keys unique per channel anyway.
type TemplateRepository interface {
	Get(ctx context.Context, key, category string, channel ChannelKind, lang string) (Template, error)
	Exists(ctx context.Context, key, category string, channel ChannelKind, lang string) (bool, error)
	Insert(ctx context.Context, t Template) error
	Update(ctx context.Context, t Template) error
	List(ctx context.Context) ([]Template, error)
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render substitutes {{token}} placeholders in a single pass. Tokens with no
// matching data entry are left verbatim so missing values are visible rather
// than silently blanked.
func Render(text string, data map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := tokenPattern.FindStringSubmatch(match)[1]
		if v, ok := data[token]; ok {
			return v
		}
		return match
	})
}

// Registry resolves and renders templates. Language resolution uses BCP 47
// matching against the languages a template is stored in, falling back to
// English.
type Registry struct {
	repo    TemplateRepository
	logger  *slog.Logger
	matcher language.Matcher
}

// NewRegistry constructs a Registry.
func NewRegistry(repo TemplateRepository, logger *slog.Logger) *Registry {
	return &Registry{
		repo:    repo,
		logger:  logger,
		matcher: language.NewMatcher([]language.Tag{language.English}),
	}
}

// Resolve loads the template for one channel, matching the requested language
// and falling back to English. Deactivated templates resolve as missing.
func (r *Registry) Resolve(ctx context.Context, key, category string, channel ChannelKind, lang string) (Template, error) {
	tag, _ := language.MatchStrings(r.matcher, lang)
	base, _ := tag.Base()
	tpl, err := r.repo.Get(ctx, key, category, channel, base.String())
	if err != nil {
		return Template{}, fmt.Errorf("notify: resolve %s template %q: %w", channel, key, err)
	}
	if !tpl.IsActive {
		return Template{}, fmt.Errorf("notify: resolve %s template %q: %w", channel, key, ErrTemplateNotFound)
	}
	return tpl, nil
}

// SeedDefaults inserts every default template that is not already present.
// Existing rows are never overwritten, so admin edits survive restarts.
func (r *Registry) SeedDefaults(ctx context.Context) error {
	for _, tpl := range DefaultTemplates() {
		exists, err := r.repo.Exists(ctx, tpl.Key, tpl.Category, tpl.Channel, tpl.Language)
		if err != nil {
			return fmt.Errorf("notify: check template %q: %w", tpl.Key, err)
		}
		if exists {
			continue
		}
		if err := r.repo.Insert(ctx, tpl); err != nil {
			return fmt.Errorf("notify: seed template %q: %w", tpl.Key, err)
		}
		r.logger.Info("seeded notification template",
			slog.String("key", tpl.Key), slog.String("channel", string(tpl.Channel)))
	}
	return nil
}
