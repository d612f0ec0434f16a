// Package deepgram implements [speechengine.Adapter] on top of the Deepgram
// listen and speak websockets.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechengine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultSpeakURL  = "wss://api.deepgram.com/v1/speak"
)

// ErrDisposed is returned by every operation of a disposed adapter.
var ErrDisposed = errors.New("deepgram adapter disposed")

// Adapter recognises speech captured by an [audio.Device] and plays
// synthesised speech on it. The device is owned by the caller and outlives
// the adapter.
type Adapter struct {
	device   audio.Device
	encoding encodingInfo

	apiKey      string
	listenURL   string
	speakURL    string
	listenModel string
	voices      map[speechengine.Language]string
	dialer      *websocket.Dialer

	mu       sync.Mutex
	language speechengine.Language
	listener *listenSession
	speaker  *speechSession
	disposed bool
}

type AdapterOption func(*Adapter)

// WithAPIKey sets the API key, DEEPGRAM_API_KEY is used otherwise.
func WithAPIKey(apiKey string) AdapterOption {
	return func(a *Adapter) { a.apiKey = apiKey }
}

func WithListenURL(url string) AdapterOption {
	return func(a *Adapter) { a.listenURL = url }
}

func WithSpeakURL(url string) AdapterOption {
	return func(a *Adapter) { a.speakURL = url }
}

func WithListenModel(model string) AdapterOption {
	return func(a *Adapter) { a.listenModel = model }
}

// WithVoice speaks lang with voice and adds lang to the supported languages.
func WithVoice(lang speechengine.Language, voice string) AdapterOption {
	return func(a *Adapter) { a.voices[lang] = voice }
}

func WithDialer(dialer *websocket.Dialer) AdapterOption {
	return func(a *Adapter) { a.dialer = dialer }
}

func NewAdapter(device audio.Device, opts ...AdapterOption) (*Adapter, error) {
	if device == nil {
		return nil, fmt.Errorf("no audio device")
	}

	a := &Adapter{
		device:      device,
		listenURL:   defaultListenURL,
		speakURL:    defaultSpeakURL,
		listenModel: DefaultListenModel,
		voices:      maps.Clone(defaultVoices),
		dialer:      websocket.DefaultDialer,
		language:    speechengine.DefaultLanguage,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.apiKey == "" {
		a.apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if a.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	encoding, err := convertEncoding(device.EncodingInfo())
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}
	a.encoding = *encoding

	return a, nil
}

// NewFactory returns a factory creating adapters that share device.
func NewFactory(device audio.Device, opts ...AdapterOption) speechengine.Factory {
	return func(context.Context) (speechengine.Adapter, error) {
		adapter, err := NewAdapter(device, opts...)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	}
}

func (a *Adapter) StartListening(ctx context.Context, onInterim, onFinal func(text string)) error {
	ctx, span := tracer.Start(ctx, "deepgram.listen.start")
	defer span.End()

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	previous := a.listener
	a.listener = nil
	language := a.language
	a.mu.Unlock()

	if previous != nil {
		previous.abort()
	}
	span.SetAttributes(attribute.String("language", language.String()))

	conn, err := a.dial(ctx, a.listenURL, url.Values{
		"encoding":         {a.encoding.Format.Name()},
		"sample_rate":      {strconv.Itoa(a.encoding.SampleRate)},
		"channels":         {"1"},
		"model":            {a.listenModel},
		"language":         {language.String()},
		"smart_format":     {"true"},
		"interim_results":  {"true"},
		"utterance_end_ms": {"1000"},
		"endpointing":      {"300"},
		"vad_events":       {"true"},
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	session := newListenSession(conn, a.device.EncodingInfo(), onInterim, onFinal)

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		session.abort()
		return ErrDisposed
	}
	a.listener = session
	a.mu.Unlock()

	session.start()
	if err := a.device.StartCapture(ctx, session.sendAudio); err != nil {
		a.mu.Lock()
		if a.listener == session {
			a.listener = nil
		}
		a.mu.Unlock()
		session.abort()
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to start capture: %w", err)
	}
	return nil
}

func (a *Adapter) StopListening(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "deepgram.listen.stop")
	defer span.End()

	a.mu.Lock()
	session := a.listener
	a.listener = nil
	a.mu.Unlock()

	if session == nil {
		return nil
	}

	captureErr := a.device.StopCapture()
	if captureErr != nil {
		captureErr = fmt.Errorf("failed to stop capture: %w", captureErr)
	}
	err := errors.Join(captureErr, session.close(ctx))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Speak starts synthesising text and returns once deepgram accepted it. The
// audio is queued on the device as it arrives; AwaitPlayback waits for the
// synthesis to complete and the audio to finish playing.
func (a *Adapter) Speak(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "deepgram.speak")
	defer span.End()

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	previous := a.speaker
	a.speaker = nil
	voice := a.voices[a.language]
	a.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}
	span.SetAttributes(attribute.String("voice", voice))

	conn, err := a.dial(ctx, a.speakURL, url.Values{
		"encoding":    {a.encoding.Format.Name()},
		"sample_rate": {strconv.Itoa(a.encoding.SampleRate)},
		"model":       {voice},
		"container":   {"none"},
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	session := newSpeechSession(conn, a.device.SendAudio)

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		session.cancel()
		return ErrDisposed
	}
	a.speaker = session
	a.mu.Unlock()

	if err := session.send(text); err != nil {
		a.releaseSpeaker(session)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (a *Adapter) releaseSpeaker(session *speechSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speaker == session {
		a.speaker = nil
	}
}

// AwaitPlayback blocks until the last speech has been synthesised and the
// device has played it. If ctx is done first the synthesis is cancelled; the
// audio already queued is left to StopSpeaking.
func (a *Adapter) AwaitPlayback(ctx context.Context) error {
	a.mu.Lock()
	session := a.speaker
	a.mu.Unlock()

	// The session read above belongs to this playback only if ctx was still
	// live after reading it.
	if err := ctx.Err(); err != nil {
		return err
	}

	if session != nil {
		err := session.wait(ctx)
		a.releaseSpeaker(session)
		if err != nil {
			return err
		}
	}
	return a.device.AwaitMark(ctx)
}

func (a *Adapter) StopSpeaking(_ context.Context) error {
	a.mu.Lock()
	session := a.speaker
	a.speaker = nil
	a.mu.Unlock()

	if session != nil {
		session.cancel()
	}
	a.device.ClearBuffer()
	return nil
}

// SetLanguage switches the language of the next listening and speaking
// sessions.
func (a *Adapter) SetLanguage(_ context.Context, lang speechengine.Language) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return ErrDisposed
	}
	if _, ok := a.voices[lang]; !ok {
		return fmt.Errorf("%w: %s", speechengine.ErrUnsupportedLanguage, lang)
	}
	a.language = lang
	return nil
}

// SupportedLanguages returns the languages SetLanguage accepts.
func (a *Adapter) SupportedLanguages() []speechengine.Language {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Sorted(maps.Keys(a.voices))
}

func (a *Adapter) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	listener, speaker := a.listener, a.speaker
	a.listener, a.speaker = nil, nil
	a.mu.Unlock()

	if listener != nil {
		if err := a.device.StopCapture(); err != nil {
			logger.Warn("failed to stop capture", "error", err)
		}
		listener.abort()
	}
	if speaker != nil {
		speaker.cancel()
	}
	a.device.ClearBuffer()
}

func (a *Adapter) dial(ctx context.Context, endpoint string, query url.Values) (*websocket.Conn, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}
	target.RawQuery = query.Encode()

	conn, _, err := a.dialer.DialContext(ctx, target.String(),
		http.Header{"Authorization": {"Token " + a.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

var (
	_ speechengine.Adapter         = (*Adapter)(nil)
	_ speechengine.PlaybackAwaiter = (*Adapter)(nil)
)
