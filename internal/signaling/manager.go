package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/internal/metrics"
)

// MountParams are the inputs that decide whether a channel should be live
type MountParams struct {
	Active         bool
	SessionID      int64
	SequenceNumber int
	Token          string
}

// Key returns the channel key the params describe
func (p MountParams) Key() Key {
	return Key{SessionID: p.SessionID, SequenceNumber: p.SequenceNumber}
}

// Ready reports whether every precondition for connecting holds.
func (p MountParams) Ready(now time.Time) bool {
	return p.Active &&
		p.SessionID > 0 &&
		p.SequenceNumber > 0 &&
		p.Token != "" &&
		!tokenExpired(p.Token, now)
}

// tokenExpired reads exp without verifying the signature; the server does
// the verification. Tokens that are not JWTs are passed through.
func tokenExpired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(now)
}

// Manager keeps at most one channel alive for the step currently on screen.
type Manager struct {
	config  Config
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	current *Channel
}

// NewManager creates a new channel manager
func NewManager(config Config, handler Handler, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.Discard()
	}
	return &Manager{
		config:  config,
		handler: handler,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Mount reconciles the live channel with params. Mounting again with the same
// key while a channel is connecting or open is a no-op. A different key or a
// failed precondition closes the old channel first. Missing preconditions leave
// the manager idle and return (nil, nil).
func (m *Manager) Mount(ctx context.Context, params MountParams) (*Channel, error) {
	m.mu.Lock()

	ready := params.Ready(m.now())
	if m.current != nil {
		state := m.current.State()
		live := state == StateConnecting || state == StateOpen
		if ready && live && m.current.Key() == params.Key() {
			ch := m.current
			m.mu.Unlock()
			return ch, nil
		}

		old := m.current
		m.current = nil
		m.mu.Unlock()
		old.Close()
		m.mu.Lock()
	}

	if !ready {
		m.mu.Unlock()
		m.logger.Debug("Signaling preconditions not met, staying idle",
			zap.Bool("active", params.Active),
			zap.Int64("sessionID", params.SessionID),
			zap.Int("sequenceNumber", params.SequenceNumber),
			zap.Bool("hasToken", params.Token != ""))
		return nil, nil
	}

	if m.current != nil {
		// another Mount won the race for this slot
		ch := m.current
		m.mu.Unlock()
		if ch.Key() == params.Key() {
			return ch, nil
		}
		return m.Mount(ctx, params)
	}

	ch := NewChannel(params.Key(), params.Token, m.config, m.handler, m.logger, m.metrics)
	m.current = ch
	m.mu.Unlock()

	if err := ch.Connect(ctx); err != nil {
		return ch, err
	}
	return ch, nil
}

// Unmount closes the current channel with code 1000 and waits for the socket to close.
func (m *Manager) Unmount() {
	m.mu.Lock()
	ch := m.current
	m.current = nil
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// Current returns the live channel, if any
func (m *Manager) Current() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
