package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/majuclass/recorder/domain"
)

// testServer is a signaling endpoint that runs script on every connection and
// then records what the client sends.
type testServer struct {
	*httptest.Server
	connections atomic.Int32
	closes      chan *websocket.CloseError
	received    chan []byte
	paths       chan string
	script      func(conn *websocket.Conn)
}

func newTestServer(t *testing.T, script func(conn *websocket.Conn)) *testServer {
	t.Helper()

	ts := &testServer{
		closes:   make(chan *websocket.CloseError, 8),
		received: make(chan []byte, 64),
		paths:    make(chan string, 8),
		script:   script,
	}

	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		ts.connections.Add(1)
		ts.paths <- r.URL.RequestURI()

		if ts.script != nil {
			ts.script(conn)
		}

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					ts.closes <- closeErr
				}
				return
			}
			if messageType == websocket.TextMessage {
				ts.received <- data
			}
		}
	}))
	t.Cleanup(ts.Close)

	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// recordingHandler captures handler callbacks
type recordingHandler struct {
	mu       sync.Mutex
	partials []string
	finals   []*InboundMessage
	errs     []*InboundMessage
	final    chan struct{}
	partial  chan struct{}
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		final:   make(chan struct{}, 8),
		partial: make(chan struct{}, 8),
		closed:  make(chan error, 8),
	}
}

func (h *recordingHandler) OnPartialResult(text string) {
	h.mu.Lock()
	h.partials = append(h.partials, text)
	h.mu.Unlock()
	h.partial <- struct{}{}
}

func (h *recordingHandler) OnFinalResult(msg *InboundMessage) {
	h.mu.Lock()
	h.finals = append(h.finals, msg)
	h.mu.Unlock()
	h.final <- struct{}{}
}

func (h *recordingHandler) OnServerError(msg *InboundMessage) {
	h.mu.Lock()
	h.errs = append(h.errs, msg)
	h.mu.Unlock()
}

func (h *recordingHandler) OnClosed(err error) {
	h.closed <- err
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func newTestManager(t *testing.T, ts *testServer, handler Handler) *Manager {
	return NewManager(Config{BaseURL: ts.wsURL()}, handler, zaptest.NewLogger(t), nil)
}

func activeParams() MountParams {
	return MountParams{Active: true, SessionID: 12, SequenceNumber: 3, Token: "test-token"}
}

func TestMountIsIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)
	manager := newTestManager(t, ts, newRecordingHandler())
	defer manager.Unmount()

	first, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}
	second, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to remount: %v", err)
	}

	if first != second {
		t.Error("Expected the same channel for identical mount params")
	}
	if first.State() != StateOpen {
		t.Errorf("Expected channel to be open, got %s", first.State())
	}

	select {
	case path := <-ts.paths:
		if path != "/ws/stt/12/3?token=test-token" {
			t.Errorf("Expected /ws/stt/12/3?token=test-token, got %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connection")
	}

	if got := ts.connections.Load(); got != 1 {
		t.Errorf("Expected exactly 1 connection, got %d", got)
	}
}

func TestUnmountSendsSingleNormalClose(t *testing.T) {
	ts := newTestServer(t, nil)
	handler := newRecordingHandler()
	manager := newTestManager(t, ts, handler)

	ch, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	manager.Unmount()
	manager.Unmount()
	ch.Close()

	if ch.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", ch.State())
	}

	select {
	case closeErr := <-ts.closes:
		if closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("Expected close code 1000, got %d", closeErr.Code)
		}
		if closeErr.Text != CloseReasonUnmounted {
			t.Errorf("Expected reason %q, got %q", CloseReasonUnmounted, closeErr.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for close frame")
	}

	select {
	case extra := <-ts.closes:
		t.Errorf("Expected exactly one close frame, got another: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case err := <-handler.closed:
		if err != nil {
			t.Errorf("Expected clean close, got %v", err)
		}
	default:
		t.Error("Expected OnClosed to be called before Unmount returned")
	}
}

func TestBinaryFramesIgnoredAndFinalDeliveredOnce(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"partial_result","partial_text":"hel"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"final_result","message":"hello"}`))
	})
	handler := newRecordingHandler()
	manager := newTestManager(t, ts, handler)
	defer manager.Unmount()

	ch, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	wait(t, handler.final, "final result")
	time.Sleep(50 * time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()

	if len(handler.partials) != 1 || handler.partials[0] != "hel" {
		t.Errorf("Expected partials [hel], got %v", handler.partials)
	}
	if len(handler.finals) != 1 {
		t.Fatalf("Expected final handler to run exactly once, got %d", len(handler.finals))
	}
	if handler.finals[0].Text != "hello" {
		t.Errorf("Expected final message hello, got %q", handler.finals[0].Text)
	}
	if handler.finals[0].Result != nil {
		t.Error("Expected no scoring result on a plain final frame")
	}
	if ch.State() != StateOpen {
		t.Errorf("Expected channel to stay open, got %s", ch.State())
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","text":"still here"}`))
	})
	handler := newRecordingHandler()
	manager := newTestManager(t, ts, handler)
	defer manager.Unmount()

	ch, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	wait(t, handler.partial, "partial result")

	handler.mu.Lock()
	partials := append([]string(nil), handler.partials...)
	handler.mu.Unlock()

	if len(partials) != 1 || partials[0] != "still here" {
		t.Errorf("Expected partials [still here], got %v", partials)
	}
	if ch.State() != StateOpen {
		t.Errorf("Expected channel to stay open after malformed frame, got %s", ch.State())
	}
}

func TestAbnormalCloseReportsTransportError(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	handler := newRecordingHandler()
	manager := newTestManager(t, ts, handler)
	defer manager.Unmount()

	ch, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	select {
	case err := <-handler.closed:
		var transportErr *domain.SignalingTransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("Expected SignalingTransportError, got %v", err)
		}
		if transportErr.Code != websocket.CloseAbnormalClosure {
			t.Errorf("Expected code 1006, got %d", transportErr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for close")
	}

	if ch.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", ch.State())
	}
	if got := ts.connections.Load(); got != 1 {
		t.Errorf("Expected no reconnection, got %d connections", got)
	}
}

func TestRemountAfterRemoteCloseReconnects(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})
	handler := newRecordingHandler()
	manager := newTestManager(t, ts, handler)
	defer manager.Unmount()

	if _, err := manager.Mount(context.Background(), activeParams()); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	select {
	case err := <-handler.closed:
		if err != nil {
			t.Errorf("Expected clean remote close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for remote close")
	}

	if _, err := manager.Mount(context.Background(), activeParams()); err != nil {
		t.Fatalf("Failed to remount: %v", err)
	}
	if got := ts.connections.Load(); got != 2 {
		t.Errorf("Expected a new connection on the next mount, got %d", got)
	}
}

func TestKeyChangeClosesOldChannelFirst(t *testing.T) {
	ts := newTestServer(t, nil)
	manager := newTestManager(t, ts, newRecordingHandler())
	defer manager.Unmount()

	first, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	next := activeParams()
	next.SequenceNumber = 4
	second, err := manager.Mount(context.Background(), next)
	if err != nil {
		t.Fatalf("Failed to mount next step: %v", err)
	}

	if first == second {
		t.Fatal("Expected a new channel for a new key")
	}
	if first.State() != StateClosed {
		t.Errorf("Expected old channel closed, got %s", first.State())
	}
	if second.State() != StateOpen {
		t.Errorf("Expected new channel open, got %s", second.State())
	}

	select {
	case closeErr := <-ts.closes:
		if closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("Expected close code 1000, got %d", closeErr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for old channel close")
	}
}

func TestDeactivationClosesChannel(t *testing.T) {
	ts := newTestServer(t, nil)
	manager := newTestManager(t, ts, newRecordingHandler())

	ch, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	params := activeParams()
	params.Active = false
	idle, err := manager.Mount(context.Background(), params)
	if err != nil || idle != nil {
		t.Fatalf("Expected idle mount, got %v, %v", idle, err)
	}
	if ch.State() != StateClosed {
		t.Errorf("Expected channel closed on deactivation, got %s", ch.State())
	}
	if manager.Current() != nil {
		t.Error("Expected no current channel")
	}
}

func TestMissingPreconditionsStayIdle(t *testing.T) {
	ts := newTestServer(t, nil)
	manager := newTestManager(t, ts, newRecordingHandler())

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	expiredToken, err := expired.SignedString([]byte("any-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	tests := []struct {
		name   string
		params MountParams
	}{
		{"inactive", MountParams{SessionID: 12, SequenceNumber: 3, Token: "t"}},
		{"no session", MountParams{Active: true, SequenceNumber: 3, Token: "t"}},
		{"no sequence", MountParams{Active: true, SessionID: 12, Token: "t"}},
		{"no token", MountParams{Active: true, SessionID: 12, SequenceNumber: 3}},
		{"expired token", MountParams{Active: true, SessionID: 12, SequenceNumber: 3, Token: expiredToken}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := manager.Mount(context.Background(), tt.params)
			if err != nil {
				t.Errorf("Expected silent no-op, got error %v", err)
			}
			if ch != nil {
				t.Error("Expected no channel")
			}
		})
	}

	if got := ts.connections.Load(); got != 0 {
		t.Errorf("Expected no connection attempts, got %d", got)
	}
}

func TestSendFrames(t *testing.T) {
	ts := newTestServer(t, nil)
	manager := newTestManager(t, ts, newRecordingHandler())
	defer manager.Unmount()

	ch, err := manager.Mount(context.Background(), activeParams())
	if err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	if err := ch.SendChunk("AAEC"); err != nil {
		t.Fatalf("Failed to send chunk: %v", err)
	}
	if err := ch.SendEndOfStream("session_answers/12/seq_3.wav", 3); err != nil {
		t.Fatalf("Failed to send end of stream: %v", err)
	}

	var chunk map[string]interface{}
	select {
	case data := <-ts.received:
		_ = json.Unmarshal(data, &chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for audio chunk")
	}
	if chunk["type"] != "audio_chunk" || chunk["data"] != "AAEC" {
		t.Errorf("Unexpected audio chunk frame: %v", chunk)
	}

	var end map[string]interface{}
	select {
	case data := <-ts.received:
		_ = json.Unmarshal(data, &end)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for end of stream")
	}
	if end["type"] != "end_stream" || end["audio_s3_key"] != "session_answers/12/seq_3.wav" || end["sequence_number"] != float64(3) {
		t.Errorf("Unexpected end stream frame: %v", end)
	}
}

func TestSendWhenNotOpen(t *testing.T) {
	ch := NewChannel(Key{SessionID: 1, SequenceNumber: 1}, "t", Config{BaseURL: "ws://localhost:1"}, nil, zaptest.NewLogger(t), nil)

	if err := ch.SendChunk("AA=="); !errors.Is(err, domain.ErrChannelNotOpen) {
		t.Errorf("Expected ErrChannelNotOpen while idle, got %v", err)
	}

	ch.Close()
	if err := ch.SendEndOfStream("key", 1); !errors.Is(err, domain.ErrChannelNotOpen) {
		t.Errorf("Expected ErrChannelNotOpen after close, got %v", err)
	}
}

func TestDialFailureClosesChannel(t *testing.T) {
	ts := newTestServer(t, nil)
	baseURL := ts.wsURL()
	ts.Close()

	handler := newRecordingHandler()
	manager := NewManager(Config{BaseURL: baseURL, HandshakeTimeout: time.Second}, handler, zaptest.NewLogger(t), nil)

	ch, err := manager.Mount(context.Background(), activeParams())
	if err == nil {
		t.Fatal("Expected dial error")
	}
	if ch == nil || ch.State() != StateClosed {
		t.Fatalf("Expected closed channel after dial failure, got %v", ch)
	}

	select {
	case err := <-handler.closed:
		var transportErr *domain.SignalingTransportError
		if !errors.As(err, &transportErr) {
			t.Errorf("Expected SignalingTransportError, got %v", err)
		}
	default:
		t.Error("Expected OnClosed to be called")
	}
}

func TestUnmountDuringHandshakeClosesLateSocket(t *testing.T) {
	closes := make(chan *websocket.CloseError, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					closes <- closeErr
				}
				return
			}
		}
	}))
	defer server.Close()

	manager := NewManager(Config{BaseURL: "ws" + strings.TrimPrefix(server.URL, "http")}, newRecordingHandler(), zaptest.NewLogger(t), nil)

	mounted := make(chan error, 1)
	go func() {
		_, err := manager.Mount(context.Background(), activeParams())
		mounted <- err
	}()

	time.Sleep(100 * time.Millisecond)
	manager.Unmount()

	select {
	case err := <-mounted:
		if !errors.Is(err, domain.ErrChannelNotOpen) {
			t.Errorf("Expected ErrChannelNotOpen from the superseded connect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for mount to return")
	}

	select {
	case closeErr := <-closes:
		if closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("Expected close code %d, got %d", websocket.CloseNormalClosure, closeErr.Code)
		}
		if closeErr.Text != CloseReasonUnmounted {
			t.Errorf("Expected reason %q, got %q", CloseReasonUnmounted, closeErr.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the late socket to receive a normal close")
	}
}
