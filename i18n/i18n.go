// Package i18n localises user-facing messages (conflict reasons, API errors).
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Message IDs.
const (
	MsgViolationMaxAbsent     = "violation.max_absent"
	MsgViolationSubRule       = "violation.sub_rule"
	MsgErrConflict            = "error.conflict"
	MsgErrSelfOverlap         = "error.self_overlap"
	MsgErrNotEligible         = "error.not_eligible"
	MsgErrInsufficientBalance = "error.insufficient_balance"
	MsgErrInvalidInterval     = "error.invalid_interval"
	MsgErrUnresolvedScope     = "error.unresolved_scope"
	MsgErrEvaluation          = "error.evaluation"
	MsgErrNotFound            = "error.not_found"
	MsgErrInvalidTransition   = "error.invalid_transition"
	MsgErrBadRequest          = "error.bad_request"
	MsgErrInternal            = "error.internal"
)

var (
	mu            sync.RWMutex
	bundle        *i18n.Bundle
	matcher       language.Matcher
	defaultLocale = "en"
)

type ctxKey struct{}

// Init loads the embedded locale files and sets the default locale.
// It is safe to call more than once.
func Init(defLocale string, logger logrus.FieldLogger) error {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return err
		}
	}

	mu.Lock()
	defer mu.Unlock()
	bundle = b
	matcher = language.NewMatcher(b.LanguageTags())
	if defLocale != "" {
		defaultLocale = defLocale
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{"locales": len(entries), "default": defaultLocale}).Debug("i18n loaded")
	}
	return nil
}

func current() (*i18n.Bundle, language.Matcher) {
	mu.RLock()
	b, m := bundle, matcher
	mu.RUnlock()
	if b == nil {
		if err := Init("", nil); err != nil {
			panic("i18n: embedded locales are broken: " + err.Error())
		}
		return current()
	}
	return b, m
}

// WithLocale returns a new context carrying the given locale (e.g. "pt", "en").
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, ctxKey{}, locale)
}

// LocaleFromContext returns the context locale, or the default one.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
		return v
	}
	mu.RLock()
	defer mu.RUnlock()
	return defaultLocale
}

// Match picks the best supported locale for an Accept-Language header.
func Match(acceptLanguage string) string {
	_, m := current()
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return LocaleFromContext(context.Background())
	}
	tag, _, confidence := m.Match(tags...)
	if confidence == language.No {
		return LocaleFromContext(context.Background())
	}
	base, _ := tag.Base()
	return base.String()
}

// T translates a message ID using the locale from the context.
// Unknown IDs come back unchanged.
func T(ctx context.Context, messageID string, templateData ...map[string]any) string {
	b, _ := current()
	l := i18n.NewLocalizer(b, LocaleFromContext(ctx))

	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(templateData) > 0 && templateData[0] != nil {
		cfg.TemplateData = templateData[0]
	}
	msg, err := l.Localize(cfg)
	if err != nil {
		return messageID
	}
	return msg
}
