package main

import (
	"context"
	"fmt"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/llms"
	"github.com/koscakluka/ema-voice/core/llms/gemini"
	"github.com/koscakluka/ema-voice/core/llms/groq"
	"github.com/koscakluka/ema-voice/core/llms/openai"
	"github.com/koscakluka/ema-voice/core/speechengine/deepgram"
)

func newChatProvider(ctx context.Context, cfg config) (llms.StreamingProvider, error) {
	switch cfg.provider {
	case providerOpenAI:
		opts := []openai.ClientOption{openai.WithInstructions(cfg.instructions)}
		if cfg.model != "" {
			opts = append(opts, openai.WithModel(cfg.model))
		}
		return openai.New(cfg.openAIAPIKey, opts...), nil
	case providerGroq:
		opts := []groq.ClientOption{groq.WithInstructions(cfg.instructions)}
		if cfg.model != "" {
			opts = append(opts, groq.WithModel(cfg.model))
		}
		return groq.New(cfg.groqAPIKey, opts...), nil
	case providerGemini:
		opts := []gemini.ClientOption{gemini.WithInstructions(cfg.instructions)}
		if cfg.model != "" {
			opts = append(opts, gemini.WithModel(cfg.model))
		}
		client, err := gemini.New(ctx, cfg.geminiAPIKey, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown chat provider %q", cfg.provider)
}

func newAudioDevice(cfg config) (audio.Device, error) {
	switch cfg.audioBackend {
	case backendPortaudio:
		return portaudio.NewClient(portaudio.DefaultBufferSize)
	case backendMiniaudio:
		return miniaudio.NewClient()
	}
	return nil, fmt.Errorf("unknown audio backend %q", cfg.audioBackend)
}

// newConversation wires the device, the deepgram engine and the chat
// provider. send receives every conversation update for the UI.
func newConversation(ctx context.Context, cfg config, device audio.Device, send func(any)) (*orchestration.Conversation, error) {
	provider, err := newChatProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat provider: %w", err)
	}

	return orchestration.NewConversation(ctx,
		orchestration.WithSpeechEngine(deepgram.NewFactory(device, deepgram.WithAPIKey(cfg.deepgramAPIKey))),
		orchestration.WithChatProvider(provider),
		orchestration.WithCoordinatorOptions(
			orchestration.WithInitialLanguage(cfg.language),
			orchestration.WithMaxOperationTime(cfg.maxOperationTime),
			orchestration.WithSilenceThreshold(cfg.silenceThreshold),
		),
		orchestration.WithTranscriptCallback(func(u orchestration.Utterance) { send(transcriptMsg(u)) }),
		orchestration.WithInterimTranscriptCallback(func(text string) { send(interimMsg(text)) }),
		orchestration.WithSpeechStateCallback(func(s orchestration.SpeechState) { send(stateMsg(s)) }),
		orchestration.WithConversationErrorCallback(func(err error) { send(errMsg{err}) }),
	)
}
