// Command ema-voice runs a voice conversation with a chat model in the
// terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/koscakluka/ema-voice/core/speechengine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ema-voice:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := newAudioDevice(cfg)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer device.Close()

	// Updates before the program exists are dropped, the model reads the
	// current state on start.
	var program atomic.Pointer[tea.Program]
	conversation, err := newConversation(ctx, cfg, device, func(msg any) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	})
	if err != nil {
		return err
	}
	defer conversation.Close()

	languages := []speechengine.Language{
		speechengine.LanguageEnglishUS,
		speechengine.LanguageEnglishGB,
		speechengine.LanguageSpanish,
	}
	p := tea.NewProgram(newModel(conversation, languages), tea.WithContext(ctx))
	program.Store(p)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal ui failed: %w", err)
	}
	return nil
}
