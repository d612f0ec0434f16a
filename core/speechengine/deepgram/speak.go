package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

var errSpeechCancelled = errors.New("speech cancelled")

type speechSession struct {
	conn      *websocket.Conn
	sendAudio func([]byte) error
	writeMu   sync.Mutex

	// mu guards cancelled and is held while audio is queued, so no audio is
	// queued once cancel returns.
	mu        sync.Mutex
	cancelled bool

	flushed   chan struct{}
	flushOnce sync.Once
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

func newSpeechSession(conn *websocket.Conn, sendAudio func([]byte) error) *speechSession {
	s := &speechSession{
		conn:      conn,
		sendAudio: sendAudio,
		flushed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.readMessages()
	return s
}

// send queues text for synthesis and flushes it.
func (s *speechSession) send(text string) error {
	if err := s.writeJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
		s.closeConn()
		return fmt.Errorf("failed to send text to deepgram: %w", err)
	}
	if err := s.writeJSON(controlMessage{Type: "Flush"}); err != nil {
		s.closeConn()
		return fmt.Errorf("failed to flush deepgram buffer: %w", err)
	}
	return nil
}

// wait blocks until deepgram has synthesised all sent text. If ctx is done
// first the session is cancelled.
func (s *speechSession) wait(ctx context.Context) error {
	select {
	case <-s.flushed:
		if err := s.writeJSON(controlMessage{Type: "Close"}); err != nil {
			logger.Debug("failed to send close message to deepgram", "error", err)
		}
		s.closeConn()
		return nil
	case <-s.done:
		if s.isCancelled() {
			return errSpeechCancelled
		}
		if s.readErr != nil {
			return fmt.Errorf("deepgram closed the speech stream: %w", s.readErr)
		}
		return fmt.Errorf("deepgram closed the speech stream before synthesis completed")
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("speech synthesis interrupted: %w", ctx.Err())
	}
}

// cancel drops any unsynthesised text and closes the socket.
func (s *speechSession) cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	if err := s.writeJSON(controlMessage{Type: "Clear"}); err != nil {
		logger.Debug("failed to clear deepgram buffer", "error", err)
	}
	s.closeConn()
}

func (s *speechSession) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *speechSession) closeConn() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

func (s *speechSession) writeJSON(msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *speechSession) readMessages() {
	defer close(s.done)

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.readErr = err
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.queueAudio(msg)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Warn("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				s.flushOnce.Do(func() { close(s.flushed) })
			case "Warning":
				logger.Warn("deepgram speech warning", "description", parsedMsg.Description)
			}
		}
	}
}

func (s *speechSession) queueAudio(audio []byte) {
	if len(audio) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	if err := s.sendAudio(audio); err != nil {
		logger.Warn("failed to queue speech audio", "error", err)
	}
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
