package relay

import (
	"context"
	"embed"
	"encoding/json"
	"net/http"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

var (
	bundle        *i18n.Bundle
	defaultLocal  *i18n.Localizer
	currentLocale = "id"
)

type localizerKey struct{}

func init() {
	bundle = i18n.NewBundle(language.Indonesian)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, locale := range []string{"id", "en"} {
		data, err := localesFS.ReadFile("locales/" + locale + ".json")
		if err != nil {
			log.Warn().Err(err).Str("locale", locale).Msg("failed to read locale file")
			continue
		}
		if _, err := bundle.ParseMessageFileBytes(data, locale+".json"); err != nil {
			log.Warn().Err(err).Str("locale", locale).Msg("failed to parse locale file")
		}
	}

	defaultLocal = i18n.NewLocalizer(bundle, currentLocale)
}

// SetLanguage changes the fallback language used when a request does not
// ask for one.
func SetLanguage(lang string) {
	currentLocale = lang
	defaultLocal = i18n.NewLocalizer(bundle, currentLocale)
}

func GetLocalizerFromContext(ctx context.Context) *i18n.Localizer {
	if ctx == nil {
		return defaultLocal
	}
	if localizer, ok := ctx.Value(localizerKey{}).(*i18n.Localizer); ok {
		return localizer
	}
	return defaultLocal
}

func WithLocalizer(ctx context.Context, localizer *i18n.Localizer) context.Context {
	return context.WithValue(ctx, localizerKey{}, localizer)
}

// GetLocalizerFromRequest prefers the Accept-Language header and falls back
// to the current locale.
func GetLocalizerFromRequest(r *http.Request) *i18n.Localizer {
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return i18n.NewLocalizer(bundle, accept, currentLocale)
	}
	return defaultLocal
}

func localize(l *i18n.Localizer, messageID string, data map[string]any) string {
	msg, err := l.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// T translates messageID with the default localizer.
func T(messageID string) string {
	return localize(defaultLocal, messageID, nil)
}

func LocalizeWithData(messageID string, data map[string]any) string {
	return localize(defaultLocal, messageID, data)
}

func LocalizeWithContext(ctx context.Context, messageID string) string {
	return localize(GetLocalizerFromContext(ctx), messageID, nil)
}

func LocalizeWithContextAndData(ctx context.Context, messageID string, data map[string]any) string {
	return localize(GetLocalizerFromContext(ctx), messageID, data)
}
