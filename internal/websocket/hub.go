package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	scoreTimeout = 30 * time.Second
)

// Close reasons sent by the server
const (
	CloseReasonComplete = "stream complete"
	CloseReasonFailed   = "scoring failed"
	CloseReasonShutdown = "server shutting down"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Scorer transcribes and scores answers for the stream hub
type Scorer interface {
	OpenStream(ctx context.Context, sampleRate int) (repositories.SpeechToTextStreaming, error)
	ScoreObject(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string) (*entities.ScoringResult, error)
	ScoreTranscript(ctx context.Context, sessionID int64, sequenceNumber int, objectKey, transcript string) (*entities.ScoringResult, error)
}

// Config holds configuration for the stream hub
type Config struct {
	// PartialWindow is how much new audio triggers another partial_result
	PartialWindow time.Duration
	SampleRate    int
}

// Hub tracks the live transcription streams, one per connected recorder.
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// done is closed when Run returns
	done chan struct{}

	config    Config
	scorer    Scorer
	validator *signaling.MessageValidator

	logger *zap.Logger
}

// NewHub creates a new stream hub
func NewHub(config Config, scorer Scorer, logger *zap.Logger) *Hub {
	if config.SampleRate <= 0 {
		config.SampleRate = audio.SampleRate
	}
	if config.PartialWindow <= 0 {
		config.PartialWindow = time.Second
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     config,
		scorer:     scorer,
		validator:  signaling.NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop. When ctx ends every client is sent a
// going-away close and the loop returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Stream registered",
				zap.Int64("sessionID", client.sessionID),
				zap.Int("sequenceNumber", client.sequenceNumber),
				zap.String("userID", client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Stream unregistered",
				zap.Int64("sessionID", client.sessionID),
				zap.Int("sequenceNumber", client.sequenceNumber))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.closeWith(websocket.CloseGoingAway, CloseReasonShutdown)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of registered streams
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.CloseMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	sessionID      int64
	sequenceNumber int
	userID         string

	logger *zap.Logger

	// stream is opened on the first audio_chunk and ended by end_stream
	stream       repositories.SpeechToTextStreaming
	streamFailed bool
	// ctx bounds the recognition stream to the connection
	ctx    context.Context
	cancel context.CancelFunc

	samples     int
	lastPartial int
	finished    bool

	mutex sync.Mutex
}

// HandleStream upgrades an authenticated request into a transcription stream
// for one step.
func HandleStream(hub *Hub, c echo.Context, sessionID int64, sequenceNumber int, userID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:            hub,
		ctx:            ctx,
		cancel:         cancel,
		conn:           conn,
		send:           make(chan WriteData, 256),
		sessionID:      sessionID,
		sequenceNumber: sequenceNumber,
		userID:         userID,
		logger: logger.With(
			zap.Int64("sessionID", sessionID),
			zap.Int("sequenceNumber", sequenceNumber)),
	}

	select {
	case client.hub.register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return errors.New("stream hub stopped")
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Ignoring non-text frame", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	closing := false
	defer func() {
		ticker.Stop()
		if !closing {
			c.conn.Close()
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}
			if message.Type == websocket.CloseMessage {
				// readPump closes the conn once the peer answers or the deadline passes
				closing = true
				c.conn.SetReadDeadline(time.Now().Add(writeWait))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage handles one client frame
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected client frame", zap.Error(err))
		c.sendJSON(signaling.NewErrorMessage("invalid_message", err.Error()))
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.finished {
		c.logger.Debug("Frame after end_stream ignored")
		return
	}

	switch m := msg.(type) {
	case *signaling.AudioChunkMessage:
		c.handleAudioChunk(m)
	case *signaling.EndStreamMessage:
		c.handleEndStream(m)
	}
}

// handleAudioChunk feeds PCM into the recognition stream and emits the
// transcript so far every PartialWindow of new audio.
func (c *Client) handleAudioChunk(msg *signaling.AudioChunkMessage) {
	samples, err := audio.DecodePCMBase64(msg.Data)
	if err != nil {
		c.logger.Warn("Undecodable audio chunk", zap.Error(err))
		c.sendJSON(signaling.NewErrorMessage("invalid_audio", err.Error()))
		return
	}
	c.samples += len(samples)

	stream := c.openStream()
	if stream == nil {
		return
	}
	if err := stream.Stream(audio.PCMBytes(samples)); err != nil {
		c.logger.Warn("Failed to stream audio", zap.Error(err))
		return
	}

	window := int(c.hub.config.PartialWindow.Seconds() * float64(c.hub.config.SampleRate))
	if window <= 0 || c.samples-c.lastPartial < window {
		return
	}
	c.lastPartial = c.samples

	if text := stream.Partial(); text != "" {
		c.sendJSON(signaling.NewPartialResult(text))
	}
}

func (c *Client) openStream() repositories.SpeechToTextStreaming {
	if c.stream != nil || c.streamFailed {
		return c.stream
	}
	stream, err := c.hub.scorer.OpenStream(c.ctx, c.hub.config.SampleRate)
	if err != nil {
		c.streamFailed = true
		c.logger.Error("Failed to open transcription stream", zap.Error(err))
		c.sendJSON(signaling.NewErrorMessage("stt_unavailable", "live transcription unavailable"))
		return nil
	}
	c.stream = stream
	return stream
}

// handleEndStream scores the answer, sends final_result and closes the stream.
// The uploaded object is preferred; the streamed transcript only scores when
// no object was stored.
func (c *Client) handleEndStream(msg *signaling.EndStreamMessage) {
	c.finished = true

	ctx, cancel := context.WithTimeout(c.ctx, scoreTimeout)
	defer cancel()

	result, err := c.score(ctx, msg.ObjectKey)
	if err != nil {
		c.logger.Error("Failed to score streamed answer",
			zap.String("objectKey", msg.ObjectKey),
			zap.Error(err))
		c.sendJSON(signaling.NewErrorMessage("scoring_failed", "failed to score answer"))
		c.closeWith(websocket.CloseInternalServerErr, CloseReasonFailed)
		return
	}

	c.logger.Info("Stream finished",
		zap.String("objectKey", msg.ObjectKey),
		zap.Int("samples", c.samples),
		zap.String("transcript", result.TranscribedText))

	c.sendJSON(signaling.NewFinalResult(result.TranscribedText, result))
	c.closeWith(websocket.CloseNormalClosure, CloseReasonComplete)
}

func (c *Client) score(ctx context.Context, objectKey string) (*entities.ScoringResult, error) {
	transcript, streamErr := c.endStream()

	if objectKey != "" {
		result, err := c.hub.scorer.ScoreObject(ctx, c.sessionID, c.sequenceNumber, objectKey)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrObjectNotFound) {
			return nil, err
		}
		c.logger.Warn("Announced object not stored, scoring streamed transcript",
			zap.String("objectKey", objectKey))
	}

	if streamErr != nil {
		return nil, fmt.Errorf("no streamed transcript: %w", streamErr)
	}
	return c.hub.scorer.ScoreTranscript(ctx, c.sessionID, c.sequenceNumber, objectKey, transcript)
}

func (c *Client) endStream() (string, error) {
	if c.stream == nil {
		return "", errors.New("no audio streamed")
	}
	transcript, err := c.stream.End()
	c.stream = nil
	if err != nil {
		c.logger.Warn("Transcription stream ended with error", zap.Error(err))
		return "", err
	}
	return transcript, nil
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) closeWith(code int, reason string) {
	c.enqueue(WriteData{Type: websocket.CloseMessage, Payload: websocket.FormatCloseMessage(code, reason)})
}

func (c *Client) enqueue(data WriteData) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping frame", zap.Int("type", data.Type))
	}
}
