// Package i18n localizes user-visible strings: grading feedback and API
// error messages.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

var jsonUnmarshal = json.Unmarshal

//go:embed locales/*.json
var localeFS embed.FS

// Message IDs.
const (
	MsgNoAnswer          = "NoAnswer"
	MsgGradingFailed     = "GradingFailed"
	MsgCorrect           = "Correct"
	MsgIncorrect         = "Incorrect"
	MsgPartiallyCorrect  = "PartiallyCorrect"
	MsgExamNotFound      = "ExamNotFound"
	MsgInvalidRequest    = "InvalidRequest"
	MsgBuildFailed       = "BuildFailed"
	MsgQuestionsProduced = "QuestionsProduced"
	MsgExamConflict      = "ExamConflict"
	MsgRouteNotFound     = "RouteNotFound"
)

type ctxKey struct{}

var (
	mu       sync.RWMutex
	bundle   *i18n.Bundle
	loadOnce sync.Once
	loadErr  error
)

// Init loads the translation bundle with lang as the fallback language.
// Calling it again replaces the bundle.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", jsonUnmarshal)

	// Load all locale files from embedded FS.
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	mu.Lock()
	bundle = b
	mu.Unlock()
	return nil
}

func current() *i18n.Bundle {
	loadOnce.Do(func() {
		mu.RLock()
		loaded := bundle != nil
		mu.RUnlock()
		if !loaded {
			loadErr = Init("en")
		}
	})
	if loadErr != nil {
		slog.Error("i18n bundle unavailable", "error", loadErr)
	}
	mu.RLock()
	defer mu.RUnlock()
	return bundle
}

// NewLocalizer creates a localizer preferring langs in order. Entries may be
// tags or raw Accept-Language header values.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(current(), langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// localizerFromCtx retrieves the localizer from context.
func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	// Fallback: return English localizer.
	return NewLocalizer("en")
}

func localize(loc *i18n.Localizer, cfg *i18n.LocalizeConfig) string {
	if loc == nil {
		return cfg.MessageID
	}
	s, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return localize(localizerFromCtx(ctx), &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(localizerFromCtx(ctx), &i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
}

// Tp translates a pluralized message by ID.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(localizerFromCtx(ctx), &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// Message translates msgID into lang without a request context. Unknown
// languages fall back to the bundle default.
func Message(lang, msgID string, data map[string]any) string {
	return localize(NewLocalizer(lang), &i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
}
