package backend

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "majuclass-recorder/1.0"
	requestIDHeader  = "X-Request-ID"
)

// Config holds configuration for the backend client
// Required fields:
// - APIBaseURL: the REST backend issuing upload tickets
// - AIBaseURL: the AI service that scores answers and synthesizes narration
// Optional fields:
// - AccessToken: bearer token, may also be set later with SetAccessToken
// - Timeout: per request timeout (default: 30s)
type Config struct {
	APIBaseURL  string
	AIBaseURL   string
	AccessToken string
	Timeout     time.Duration
	UserAgent   string
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIBaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	if _, err := url.ParseRequestURI(config.APIBaseURL); err != nil {
		return fmt.Errorf("invalid api base url: %w", err)
	}
	if config.AIBaseURL == "" {
		return fmt.Errorf("ai base url is required")
	}
	if _, err := url.ParseRequestURI(config.AIBaseURL); err != nil {
		return fmt.Errorf("invalid ai base url: %w", err)
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	return nil
}

// Client talks to the REST backend, the AI service and presigned storage URLs.
// It never retries a request.
type Client struct {
	api     *resty.Client
	ai      *resty.Client
	storage *resty.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new backend client
func NewClient(config Config, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if m == nil {
		m = metrics.Discard()
	}

	newResty := func(baseURL string) *resty.Client {
		c := resty.New().
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("User-Agent", userAgent).
			OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
				if r.Header.Get(requestIDHeader) == "" {
					r.SetHeader(requestIDHeader, uuid.NewString())
				}
				return nil
			})
		if baseURL != "" {
			c.SetBaseURL(baseURL)
		}
		return c
	}

	c := &Client{
		api:     newResty(config.APIBaseURL),
		ai:      newResty(config.AIBaseURL),
		storage: newResty(""),
		logger:  logger,
		metrics: m,
	}
	c.SetAccessToken(config.AccessToken)

	return c, nil
}

// SetAccessToken replaces the bearer token sent to the backend and the AI service.
// Presigned uploads never carry it.
func (c *Client) SetAccessToken(token string) {
	c.api.SetAuthToken(token)
	c.ai.SetAuthToken(token)
}

// apiResponse is the envelope used by both services
type apiResponse[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

func truncateBody(body []byte) string {
	const max = 2048
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
