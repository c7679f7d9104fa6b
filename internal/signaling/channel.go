package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/internal/metrics"
)

const (
	// CloseReasonUnmounted is sent with code 1000 when the owner tears the channel down.
	CloseReasonUnmounted = "Component unmounted"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultPongWait         = 60 * time.Second

	maxMessageSize = 512 * 1024
	maxFrameLog    = 256
)

// State of a signaling channel
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Key identifies the step a channel belongs to
type Key struct {
	SessionID      int64
	SequenceNumber int
}

// Config holds the connection parameters shared by every channel
type Config struct {
	// BaseURL is the ws:// or wss:// origin of the AI service
	BaseURL          string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	return c
}

// Handler receives server events in the order the server emitted them.
// Callbacks run on the channel's read goroutine.
type Handler interface {
	OnPartialResult(text string)
	OnFinalResult(msg *InboundMessage)
	OnServerError(msg *InboundMessage)
	// OnClosed is called once when the channel closes. err is nil for a clean
	// close and a *domain.SignalingTransportError otherwise.
	OnClosed(err error)
}

// HandlerFuncs adapts optional functions to Handler
type HandlerFuncs struct {
	PartialResult func(text string)
	FinalResult   func(msg *InboundMessage)
	ServerError   func(msg *InboundMessage)
	Closed        func(err error)
}

func (h HandlerFuncs) OnPartialResult(text string) {
	if h.PartialResult != nil {
		h.PartialResult(text)
	}
}

func (h HandlerFuncs) OnFinalResult(msg *InboundMessage) {
	if h.FinalResult != nil {
		h.FinalResult(msg)
	}
}

func (h HandlerFuncs) OnServerError(msg *InboundMessage) {
	if h.ServerError != nil {
		h.ServerError(msg)
	}
}

func (h HandlerFuncs) OnClosed(err error) {
	if h.Closed != nil {
		h.Closed(err)
	}
}

// Channel is one duplex connection for a (session, sequence) pair
type Channel struct {
	key     Key
	token   string
	config  Config
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	done  chan struct{}

	// gorilla connections support one concurrent writer
	writeMu sync.Mutex

	closedOnce sync.Once
}

// NewChannel creates an idle channel
func NewChannel(key Key, token string, config Config, handler Handler, logger *zap.Logger, m *metrics.Metrics) *Channel {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Channel{
		key:     key,
		token:   token,
		config:  config.withDefaults(),
		handler: handler,
		logger: logger.With(
			zap.Int64("sessionID", key.SessionID),
			zap.Int("sequenceNumber", key.SequenceNumber)),
		metrics: m,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// Key returns the step the channel belongs to
func (c *Channel) Key() Key {
	return c.key
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel reaches the Closed state
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// URL returns the endpoint the channel dials
func (c *Channel) URL() string {
	return fmt.Sprintf("%s/ws/stt/%d/%d?token=%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		c.key.SessionID, c.key.SequenceNumber,
		url.QueryEscape(c.token))
}

// Connect dials the server. It may only be called once, from the Idle state.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot connect from state %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	c.logger.Info("Connecting signaling channel")

	conn, resp, err := dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		c.metrics.SignalingConnections.WithLabelValues(metrics.OutcomeFailure).Inc()
		fields := []zap.Field{zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("statusCode", resp.StatusCode))
		}
		c.logger.Warn("Failed to connect signaling channel", fields...)
		c.markClosed(&domain.SignalingTransportError{Code: websocket.CloseAbnormalClosure, Text: err.Error()})
		return fmt.Errorf("failed to dial signaling channel: %w", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// closed while the handshake was in flight
		c.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReasonUnmounted),
			time.Now().Add(c.config.WriteWait))
		conn.Close()
		return domain.ErrChannelNotOpen
	}
	c.state = StateOpen
	c.conn = conn
	c.mu.Unlock()

	c.metrics.SignalingConnections.WithLabelValues(metrics.OutcomeSuccess).Inc()
	c.logger.Info("Signaling channel open")

	go c.readPump(conn)
	go c.pingLoop(conn)

	return nil
}

// SendChunk pushes one live audio chunk. When the channel is not open the
// chunk is dropped and ErrChannelNotOpen is returned.
func (c *Channel) SendChunk(data string) error {
	return c.sendJSON(NewAudioChunk(data))
}

// SendEndOfStream tells the server the recording is finished and names the uploaded object
func (c *Channel) SendEndOfStream(objectKey string, sequenceNumber int) error {
	return c.sendJSON(NewEndStream(objectKey, sequenceNumber))
}

// outboundMessage is implemented by frames the client may send
type outboundMessage interface {
	messageType() MessageType
}

func (c *Channel) sendJSON(msg outboundMessage) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateOpen {
		c.logger.Warn("Signaling channel not open, dropping frame",
			zap.String("type", string(msg.messageType())),
			zap.String("state", state.String()))
		return domain.ErrChannelNotOpen
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", msg.messageType(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn("Failed to write signaling frame",
			zap.String("type", string(msg.messageType())),
			zap.Error(err))
		return fmt.Errorf("failed to write %s frame: %w", msg.messageType(), err)
	}

	c.metrics.SignalingFramesSent.WithLabelValues(string(msg.messageType())).Inc()
	return nil
}

func (m *AudioChunkMessage) messageType() MessageType { return MessageTypeAudioChunk }
func (m *EndStreamMessage) messageType() MessageType  { return MessageTypeEndStream }

// Close performs a clean teardown: if the channel is open a single close frame
// with code 1000 is written before the socket is closed. Close is idempotent
// and returns once the socket is closed.
func (c *Channel) Close() {
	c.mu.Lock()
	prev := c.state
	conn := c.conn
	if prev == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	if prev == StateOpen && conn != nil {
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReasonUnmounted),
			time.Now().Add(c.config.WriteWait))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Warn("Failed to send close frame", zap.Error(err))
		}
		conn.Close()
	}

	c.logger.Info("Signaling channel closed", zap.String("previousState", prev.String()))
	c.finish(nil)
}

// markClosed moves the channel to Closed after a remote or transport termination.
func (c *Channel) markClosed(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.finish(err)
}

func (c *Channel) finish(err error) {
	c.closedOnce.Do(func() {
		close(c.done)
		c.handler.OnClosed(err)
	})
}

func (c *Channel) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			// reserved for a binary fast path
			c.metrics.SignalingFramesRecv.WithLabelValues("binary").Inc()
			c.logger.Debug("Ignoring binary signaling frame", zap.Int("size", len(data)))
		case websocket.TextMessage:
			c.dispatch(data)
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		frame := string(data)
		if len(frame) > maxFrameLog {
			frame = frame[:maxFrameLog]
		}
		perr := &domain.SignalingProtocolError{Frame: frame, Err: err}
		c.metrics.SignalingMalformed.Inc()
		c.logger.Warn("Dropping malformed signaling frame", zap.Error(perr), zap.String("frame", frame))
		return
	}

	c.metrics.SignalingFramesRecv.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case MessageTypePartialResult:
		c.handler.OnPartialResult(msg.Text)
	case MessageTypeFinalResult:
		c.logger.Info("Final result received", zap.String("message", msg.Text))
		c.handler.OnFinalResult(msg)
	case MessageTypeError:
		c.logger.Warn("Signaling server reported an error",
			zap.String("code", msg.Code),
			zap.String("message", msg.Text))
		c.handler.OnServerError(msg)
	}
}

func (c *Channel) handleReadError(err error) {
	if c.State() == StateClosed {
		// local teardown already reported the close
		return
	}

	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && isCleanClose(closeErr.Code):
		c.logger.Info("Signaling channel closed by server",
			zap.Int("code", closeErr.Code),
			zap.String("reason", closeErr.Text))
		c.markClosed(nil)

	case errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure:
		c.logger.Info("Signaling channel closed by server",
			zap.Int("code", closeErr.Code),
			zap.String("reason", closeErr.Text))
		c.markClosed(&domain.SignalingTransportError{Code: closeErr.Code, Text: closeErr.Text})

	default:
		text := err.Error()
		if closeErr != nil {
			text = closeErr.Text
		}
		c.metrics.SignalingAbnormalClose.Inc()
		c.logger.Warn("Signaling channel closed abnormally",
			zap.Int("code", websocket.CloseAbnormalClosure),
			zap.Error(err))
		c.markClosed(&domain.SignalingTransportError{Code: websocket.CloseAbnormalClosure, Text: text})
	}
}

func isCleanClose(code int) bool {
	return code == websocket.CloseNormalClosure ||
		code == websocket.CloseGoingAway ||
		code == websocket.CloseNoStatusReceived
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker((c.config.PongWait * 9) / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
