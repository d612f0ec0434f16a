package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
)

const (
	silenceChunkDuration = 50 * time.Millisecond
	silenceDuration      = time.Second
	keepAliveInterval    = 5 * time.Second
)

type listenSession struct {
	conn     *websocket.Conn
	encoding audio.EncodingInfo
	writeMu  sync.Mutex

	// lastAudio is the unix nano time of the last captured chunk
	lastAudio atomic.Int64

	onInterim func(text string)
	onFinal   func(text string)

	// mu guards stopped, callbacks run while holding it so none runs after
	// the session is stopped.
	mu      sync.Mutex
	stopped bool

	// owned by the read loop
	accumulatedTranscript string
	unendedSegment        bool

	cancelKeepAlive context.CancelFunc
	done            chan struct{}
	closeConnOnce   sync.Once
}

func newListenSession(conn *websocket.Conn, encoding audio.EncodingInfo, onInterim, onFinal func(string)) *listenSession {
	s := &listenSession{
		conn:            conn,
		encoding:        encoding,
		onInterim:       onInterim,
		onFinal:         onFinal,
		cancelKeepAlive: func() {},
		done:            make(chan struct{}),
	}
	if s.onInterim == nil {
		s.onInterim = func(string) {}
	}
	if s.onFinal == nil {
		s.onFinal = func(string) {}
	}
	s.lastAudio.Store(time.Now().UnixNano())
	return s
}

func (s *listenSession) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelKeepAlive = cancel
	go s.readMessages()
	go s.keepAlive(ctx)
}

func (s *listenSession) sendAudio(audio []byte) {
	s.lastAudio.Store(time.Now().UnixNano())
	if err := s.write(websocket.BinaryMessage, audio); err != nil {
		logger.Debug("failed to send audio to deepgram", "error", err)
	}
}

func (s *listenSession) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *listenSession) writeControl(messageType string) error {
	msg, err := json.Marshal(controlMessage{Type: messageType})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, msg)
}

// close asks deepgram to flush the stream and waits for the socket to close.
func (s *listenSession) close(ctx context.Context) error {
	s.stop()
	defer s.closeConn()

	if err := s.writeControl(string(api.TypeCloseStreamResponse)); err != nil {
		select {
		case <-s.done:
			return nil
		default:
			return fmt.Errorf("failed to close deepgram stream: %w", err)
		}
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for deepgram stream to close: %w", ctx.Err())
	}
}

// abort drops the session without waiting for deepgram.
func (s *listenSession) abort() {
	s.stop()
	s.closeConn()
}

func (s *listenSession) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancelKeepAlive()
}

func (s *listenSession) closeConn() {
	s.closeConnOnce.Do(func() { _ = s.conn.Close() })
}

func (s *listenSession) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *listenSession) readMessages() {
	defer close(s.done)

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !s.isStopped() {
				logger.Warn("failed to read deepgram websocket message", "error", err)
			}
			return
		}
		if msgType == websocket.TextMessage {
			s.processMessage(msg)
		}
	}
}

func (s *listenSession) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results", "error", err)
			return
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}

		if !msgResp.IsFinal {
			if transcript != "" {
				s.emit(s.onInterim, strings.TrimSpace(s.accumulatedTranscript+" "+transcript))
			}
			return
		}

		if transcript != "" {
			s.accumulatedTranscript += " " + transcript
		}
		if msgResp.SpeechFinal {
			s.endSegment()
		} else if transcript != "" {
			s.emit(s.onInterim, strings.TrimSpace(s.accumulatedTranscript))
		}

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment || strings.TrimSpace(s.accumulatedTranscript) != "" {
			s.endSegment()
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
	}
}

func (s *listenSession) endSegment() {
	s.unendedSegment = false
	transcript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if transcript != "" {
		s.emit(s.onFinal, transcript)
	}
}

func (s *listenSession) emit(callback func(string), text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		callback(text)
	}
}

// keepAlive streams silence while capture is quiet so deepgram can finish
// the current utterance, then falls back to KeepAlive messages.
func (s *listenSession) keepAlive(ctx context.Context) {
	type keepAliveState int
	const (
		stateWaiting keepAliveState = iota
		stateSilence
		stateKeepAlive
	)

	ticker := time.NewTicker(silenceChunkDuration)
	defer ticker.Stop()

	chunk := s.encoding.Silence(silenceChunkDuration)
	state := stateWaiting
	var silenceStarted, lastKeepAlive time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			quiet := now.Sub(time.Unix(0, s.lastAudio.Load())) > silenceChunkDuration

			switch state {
			case stateWaiting:
				if quiet {
					state, silenceStarted = stateSilence, now
				}

			case stateSilence:
				if !quiet {
					state = stateWaiting
					continue
				}
				if now.Sub(silenceStarted) >= silenceDuration {
					state, lastKeepAlive = stateKeepAlive, now
					continue
				}
				if err := s.write(websocket.BinaryMessage, chunk); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
					logger.Debug("failed to send silence to deepgram", "error", err)
				}

			case stateKeepAlive:
				if !quiet {
					state = stateWaiting
					continue
				}
				if now.Sub(lastKeepAlive) >= keepAliveInterval {
					lastKeepAlive = now
					if err := s.writeControl("KeepAlive"); err != nil {
						logger.Debug("failed to send keep alive to deepgram", "error", err)
					}
				}
			}
		}
	}
}

type controlMessage struct {
	Type string `json:"type"`
}
