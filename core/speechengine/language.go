package speechengine

import "strings"

// Language is a BCP-47 language tag, e.g. "es-ES".
type Language string

const (
	LanguageEnglishUS Language = "en-US"
	LanguageEnglishGB Language = "en-GB"
	LanguageSpanish   Language = "es-ES"
	LanguageFrench    Language = "fr-FR"
	LanguageGerman    Language = "de-DE"
	LanguageItalian   Language = "it-IT"
	LanguageDutch     Language = "nl-NL"
	LanguageJapanese  Language = "ja-JP"

	DefaultLanguage = LanguageEnglishUS
)

// Base returns the primary language subtag ("es" for "es-ES").
func (l Language) Base() string {
	base, _, _ := strings.Cut(string(l), "-")
	return strings.ToLower(base)
}

func (l Language) String() string {
	return string(l)
}
