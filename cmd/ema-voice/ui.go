package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/speechengine"
)

const visibleUtterances = 12

type conversation interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
	SetLanguage(ctx context.Context, lang speechengine.Language) error
	SendText(ctx context.Context, text string) (orchestration.Utterance, error)
	State() orchestration.SpeechState
	Transcript() []orchestration.Utterance
}

type (
	transcriptMsg orchestration.Utterance
	interimMsg    string
	stateMsg      orchestration.SpeechState
	errMsg        struct{ err error }
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	inactiveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	interimStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type model struct {
	conversation conversation
	languages    []speechengine.Language

	spinner spinner.Model
	input   textinput.Model
	width   int

	transcript []orchestration.Utterance
	interim    string
	state      orchestration.SpeechState
	err        error
}

func newModel(c conversation, languages []speechengine.Language) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	input := textinput.New()
	input.Placeholder = "Type a message, or just talk"
	input.CharLimit = 500
	input.Focus()

	return model{
		conversation: c,
		languages:    languages,
		spinner:      s,
		input:        input,
		width:        80,
		transcript:   c.Transcript(),
		state:        c.State(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.call(m.conversation.Start))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+p":
			if m.state.IsPaused {
				return m, m.call(m.conversation.Resume)
			}
			return m, m.call(m.conversation.Pause)
		case "ctrl+t":
			muted := !m.state.IsMuted
			return m, m.call(func(ctx context.Context) error { return m.conversation.SetMuted(ctx, muted) })
		case "ctrl+l":
			lang := m.nextLanguage()
			return m, m.call(func(ctx context.Context) error { return m.conversation.SetLanguage(ctx, lang) })
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			return m, m.call(func(ctx context.Context) error {
				_, err := m.conversation.SendText(ctx, text)
				return err
			})
		}

	case transcriptMsg:
		utterance := orchestration.Utterance(msg)
		if i := slices.IndexFunc(m.transcript, func(u orchestration.Utterance) bool { return u.ID == utterance.ID }); i >= 0 {
			m.transcript[i] = utterance
		} else {
			m.transcript = append(m.transcript, utterance)
		}
		if utterance.Role == orchestration.RoleUser {
			m.interim = ""
		}
		return m, nil

	case interimMsg:
		m.interim = string(msg)
		return m, nil

	case stateMsg:
		m.state = orchestration.SpeechState(msg)
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	width := max(m.width-4, 20)
	var b strings.Builder

	b.WriteString(titleStyle.Render("ema") + "  " + m.statusLine() + "\n\n")

	transcript := m.transcript
	if len(transcript) > visibleUtterances {
		transcript = transcript[len(transcript)-visibleUtterances:]
	}
	for _, utterance := range transcript {
		speaker := userStyle.Render("You")
		if utterance.Role == orchestration.RoleAssistant {
			speaker = assistantStyle.Render("Ema")
		}
		b.WriteString(speaker + "\n")
		b.WriteString(indent.String(wordwrap.String(utterance.Text, width), 2) + "\n")
	}

	if m.interim != "" {
		b.WriteString(indent.String(interimStyle.Render(wordwrap.String(m.interim+"…", width)), 2) + "\n")
	}
	if m.isThinking() {
		b.WriteString(m.spinner.View() + " thinking\n")
	} else if m.state.IsSpeaking {
		b.WriteString(m.spinner.View() + " speaking\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(wordwrap.String("error: "+m.err.Error(), width)) + "\n")
	}

	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+p pause • ctrl+t mute • ctrl+l language • esc quit"))
	return b.String()
}

func (m model) statusLine() string {
	flag := func(name string, on bool) string {
		if on {
			return activeStyle.Render(name)
		}
		return inactiveStyle.Render(name)
	}
	return strings.Join([]string{
		flag("listening", m.state.IsListening),
		flag("paused", m.state.IsPaused),
		flag("speaking", m.state.IsSpeaking),
		flag("muted", m.state.IsMuted),
		fmt.Sprintf("[%s]", m.state.Language),
	}, " ")
}

// isThinking reports whether the last user utterance is still waiting for a
// finished answer.
func (m model) isThinking() bool {
	if len(m.transcript) == 0 {
		return false
	}
	last := m.transcript[len(m.transcript)-1]
	return last.Role == orchestration.RoleUser || last.IsProvisional
}

func (m model) nextLanguage() speechengine.Language {
	if len(m.languages) == 0 {
		return m.state.Language
	}
	i := slices.Index(m.languages, m.state.Language)
	return m.languages[(i+1)%len(m.languages)]
}

// call runs fn off the update loop and reports its failure.
func (m model) call(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(context.Background()); err != nil && !errors.Is(err, orchestration.ErrStreamAbandoned) {
			return errMsg{err}
		}
		return nil
	}
}
