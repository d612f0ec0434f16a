package deepgram

import "github.com/koscakluka/ema-voice/core/speechengine"

const DefaultListenModel = "nova-3"

// defaultVoices lists the Aura voice used to speak each supported language.
var defaultVoices = map[speechengine.Language]string{
	speechengine.LanguageEnglishUS: "aura-2-thalia-en",
	speechengine.LanguageEnglishGB: "aura-2-draco-en",
	speechengine.LanguageSpanish:   "aura-2-nestor-es",
}
