package models

import (
	"strings"

	"golang.org/x/text/language"
)

// Language constants
const (
	LangEnglish           = "en"
	LangSpanish           = "es"
	LangPortuguese        = "pt"
	LangSimplifiedChinese = "zh_CN"
)

// Translation is a map of message keys to translated text
type Translation map[string]string

// Translations stores the user-facing texts sent outside the web portal:
// decision DMs and moderator-facing callback answers.
var Translations = map[string]Translation{
	LangEnglish: {
		"dm_accepted_title": "Your appeal was accepted",
		"dm_accepted_body":  "Appeal %s was reviewed and accepted. Your ban has been lifted. Please follow the rules going forward.",
		"dm_declined_title": "Your appeal was declined",
		"dm_declined_body":  "Appeal %s was reviewed and declined. You cannot appeal this ban again.",

		"review_title":      "New %s appeal %s",
		"review_processing": "⏳ Processing %s by %s...",
		"review_failed":     "⚠️ %s failed for appeal %s: %s\nThe appeal is unchanged and can be retried.",
		"accept_button":     "Accept",
		"decline_button":    "Decline",
		"perm_denied":       "Permissions denied: only moderators can decide appeals.",
		"already_processed": "This appeal was already processed.",
		"decision_done":     "Appeal %s %s.",
		"decision_failed":   "Could not process appeal %s. Try again.",
		"invalid_callback":  "This button is no longer valid.",
		"cmd_desc_stats":    "Show appeal processing stats",
	},
	LangSpanish: {
		"dm_accepted_title": "Tu apelación fue aceptada",
		"dm_accepted_body":  "La apelación %s fue revisada y aceptada. Tu baneo ha sido levantado. Por favor sigue las reglas.",
		"dm_declined_title": "Tu apelación fue rechazada",
		"dm_declined_body":  "La apelación %s fue revisada y rechazada. No puedes volver a apelar este baneo.",
	},
	LangPortuguese: {
		"dm_accepted_title": "Seu recurso foi aceito",
		"dm_accepted_body":  "O recurso %s foi analisado e aceito. Seu banimento foi removido. Siga as regras daqui em diante.",
		"dm_declined_title": "Seu recurso foi recusado",
		"dm_declined_body":  "O recurso %s foi analisado e recusado. Você não pode recorrer deste banimento novamente.",
	},
	LangSimplifiedChinese: {
		"dm_accepted_title": "你的申诉已通过",
		"dm_accepted_body":  "申诉 %s 已审核通过，封禁已解除。请遵守社区规则。",
		"dm_declined_title": "你的申诉被拒绝",
		"dm_declined_body":  "申诉 %s 已审核并被拒绝。此封禁无法再次申诉。",
	},
}

// GetTranslation returns the correct translation for a given language code and key
func GetTranslation(lang, key string) string {
	if t, ok := Translations[lang]; ok {
		if translation, ok := t[key]; ok {
			return translation
		}
	}

	// Fall back to English if key not found in specified language
	if translation, ok := Translations[LangEnglish][key]; ok {
		return translation
	}

	// Return the key itself if translation not found
	return key
}

var supportedTags = []language.Tag{
	language.English,
	language.Spanish,
	language.Portuguese,
	language.SimplifiedChinese,
}

var supportedMatcher = language.NewMatcher(supportedTags)

// MatchLanguage maps an Accept-Language header or a language code to one
// of the supported translation keys.
func MatchLanguage(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return LangEnglish
	}
	_, idx, conf := supportedMatcher.Match(tags...)
	if conf == language.No {
		return LangEnglish
	}
	switch supportedTags[idx] {
	case language.Spanish:
		return LangSpanish
	case language.Portuguese:
		return LangPortuguese
	case language.SimplifiedChinese:
		return LangSimplifiedChinese
	default:
		return LangEnglish
	}
}

// BaseLanguage strips a region suffix: "pt-BR" -> "pt".
func BaseLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		return code[:i]
	}
	return code
}
