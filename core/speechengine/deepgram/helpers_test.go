package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// newTestServer serves handle over a websocket and returns its ws:// url.
func newTestServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestAdapter(t *testing.T, device *fakeDevice, opts ...AdapterOption) *Adapter {
	t.Helper()

	adapter, err := NewAdapter(device, append([]AdapterOption{WithAPIKey("test-key")}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	t.Cleanup(adapter.Dispose)
	return adapter
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func messageType(msg []byte) string {
	var parsed struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(msg, &parsed)
	return parsed.Type
}

func resultsMessage(transcript string, isFinal, speechFinal bool) map[string]any {
	return map[string]any{
		"type": "Results",
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": transcript}},
		},
		"is_final":     isFinal,
		"speech_final": speechFinal,
	}
}

type fakeDevice struct {
	mu        sync.Mutex
	onAudio   func([]byte)
	capturing bool
	played    []byte
	cleared   int
}

func (d *fakeDevice) StartCapture(_ context.Context, onAudio func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio, d.capturing = onAudio, true
	return nil
}

func (d *fakeDevice) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio, d.capturing = nil, false
	return nil
}

func (d *fakeDevice) Capture(audio []byte) {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio != nil {
		onAudio(audio)
	}
}

func (d *fakeDevice) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

func (d *fakeDevice) SendAudio(audio []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, audio...)
	return nil
}

func (d *fakeDevice) Played() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.played)
}

func (d *fakeDevice) ClearBuffer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = nil
	d.cleared++
}

func (d *fakeDevice) Cleared() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleared
}

func (d *fakeDevice) AwaitMark(context.Context) error { return nil }

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *fakeDevice) Close() {}

type transcriptRecorder struct {
	mu       sync.Mutex
	interims []string
	finals   []string
}

func (r *transcriptRecorder) interim(text string) {
	r.mu.Lock()
	r.interims = append(r.interims, text)
	r.mu.Unlock()
}

func (r *transcriptRecorder) final(text string) {
	r.mu.Lock()
	r.finals = append(r.finals, text)
	r.mu.Unlock()
}

func (r *transcriptRecorder) Interims() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.interims)
}

func (r *transcriptRecorder) Finals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.finals)
}
