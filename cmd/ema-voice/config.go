package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/speechengine"
)

const (
	providerOpenAI = "openai"
	providerGroq   = "groq"
	providerGemini = "gemini"

	backendMiniaudio = "miniaudio"
	backendPortaudio = "portaudio"

	defaultInstructions = "You are a helpful voice assistant. Answer in short, plain sentences " +
		"that sound natural when spoken, and reply in the language the user speaks."
)

type config struct {
	deepgramAPIKey string
	openAIAPIKey   string
	groqAPIKey     string
	geminiAPIKey   string

	provider     string
	model        string
	instructions string
	language     speechengine.Language
	audioBackend string

	maxOperationTime time.Duration
	silenceThreshold time.Duration
}

// loadConfig reads the environment first, flags in args take precedence.
func loadConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{
		deepgramAPIKey: getenv("DEEPGRAM_API_KEY"),
		openAIAPIKey:   getenv("OPENAI_API_KEY"),
		groqAPIKey:     getenv("GROQ_API_KEY"),
		geminiAPIKey:   getenv("GEMINI_API_KEY"),
		provider:       orDefault(getenv("EMA_LLM_PROVIDER"), providerOpenAI),
		language:       speechengine.Language(orDefault(getenv("EMA_LANGUAGE"), string(speechengine.DefaultLanguage))),
		audioBackend:   orDefault(getenv("EMA_AUDIO_BACKEND"), backendMiniaudio),
	}

	var language string
	flags := flag.NewFlagSet("ema-voice", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&cfg.provider, "provider", cfg.provider, "chat provider: openai, groq or gemini")
	flags.StringVar(&cfg.model, "model", "", "chat model, the provider default if empty")
	flags.StringVar(&cfg.instructions, "instructions", defaultInstructions, "system prompt")
	flags.StringVar(&language, "language", string(cfg.language), "conversation language, e.g. es-ES")
	flags.StringVar(&cfg.audioBackend, "audio", cfg.audioBackend, "audio backend: miniaudio or portaudio")
	flags.DurationVar(&cfg.maxOperationTime, "max-operation-time", orchestration.DefaultMaxOperationTime, "longest a speech operation may take")
	flags.DurationVar(&cfg.silenceThreshold, "silence-threshold", orchestration.DefaultSilenceThreshold, "silence that finalizes an utterance")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}
	cfg.language = speechengine.Language(language)

	if cfg.deepgramAPIKey == "" {
		return config{}, fmt.Errorf("DEEPGRAM_API_KEY must be set")
	}
	switch cfg.provider {
	case providerOpenAI, providerGroq, providerGemini:
	default:
		return config{}, fmt.Errorf("unknown chat provider %q", cfg.provider)
	}
	if cfg.providerAPIKey() == "" {
		return config{}, fmt.Errorf("an api key for %s must be set", cfg.provider)
	}
	switch cfg.audioBackend {
	case backendMiniaudio, backendPortaudio:
	default:
		return config{}, fmt.Errorf("unknown audio backend %q", cfg.audioBackend)
	}

	return cfg, nil
}

func (c config) providerAPIKey() string {
	switch c.provider {
	case providerOpenAI:
		return c.openAIAPIKey
	case providerGroq:
		return c.groqAPIKey
	case providerGemini:
		return c.geminiAPIKey
	}
	return ""
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
