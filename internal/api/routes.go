package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/auth"
	"github.com/majuclass/recorder/internal/metrics"
	"github.com/majuclass/recorder/internal/websocket"
)

// maxUploadBytes caps presigned uploads at ten minutes of 16kHz mono PCM16
const maxUploadBytes = 44 + 10*60*audio.SampleRate*audio.BytesPerSample

// Evaluator scores uploaded answers
type Evaluator interface {
	ScoreObject(ctx context.Context, sessionID int64, sequenceNumber int, objectKey string) (*entities.ScoringResult, error)
}

// Dependencies are the services behind the development backend routes
type Dependencies struct {
	Tokens      *auth.TokenIssuer
	Presigner   *auth.Presigner
	Objects     repositories.ObjectStore
	Answers     repositories.AnswerRepository
	Evaluator   Evaluator
	Synthesizer repositories.SpeechSynthesizer
	Hub         *websocket.Hub
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	if e.Validator == nil {
		e.Validator = NewRequestValidator()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Discard()
	}
	h := &handlers{deps: deps, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "majuclass-devserver",
		})
	})
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	e.POST("/dev/token", h.issueToken)

	requireToken := deps.Tokens.Middleware()
	e.POST("/scenario-sessions/audio-upload-url", h.uploadTicket, requireToken)
	e.POST("/stt-analyze/:sessionId/:sequenceNumber", h.analyze, requireToken)
	e.GET("/stt-answers/:sessionId/:sequenceNumber", h.listAnswers, requireToken)

	// presigned by query signature, no bearer token
	e.PUT("/uploads/*", h.storeUpload)

	e.GET("/tts", h.synthesize)

	// token comes from the query string, falling back to the Authorization header
	e.GET("/ws/stt/:sessionId/:sequenceNumber", h.stream)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func stepParams(c echo.Context) (int64, int, error) {
	sessionID, err := strconv.ParseInt(c.Param("sessionId"), 10, 64)
	if err != nil || sessionID <= 0 {
		return 0, 0, fmt.Errorf("invalid session id %q", c.Param("sessionId"))
	}
	sequenceNumber, err := strconv.Atoi(c.Param("sequenceNumber"))
	if err != nil || sequenceNumber <= 0 {
		return 0, 0, fmt.Errorf("invalid sequence number %q", c.Param("sequenceNumber"))
	}
	return sessionID, sequenceNumber, nil
}

func (h *handlers) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure("Invalid request format"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}

	token, expiresAt, err := h.deps.Tokens.GenerateToken(req.UserID)
	if err != nil {
		h.logger.Error("Failed to generate token", zap.String("userID", req.UserID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, failure("Failed to generate token"))
	}

	h.logger.Info("Development token issued", zap.String("userID", req.UserID))
	return c.JSON(http.StatusOK, success("token issued", TokenResponse{Token: token, ExpiresAt: expiresAt}))
}

func (h *handlers) uploadTicket(c echo.Context) error {
	var req UploadTicketRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure("Invalid request format"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}

	key := fmt.Sprintf("session_answers/%d/seq_%d_%s.wav", req.SessionID, req.SequenceNumber, uuid.NewString())
	presignedURL, expiresAt, err := h.deps.Presigner.Sign(key, req.ContentType)
	if err != nil {
		h.logger.Error("Failed to presign upload", zap.String("objectKey", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, failure("failed to issue upload url"))
	}

	h.logger.Info("Upload ticket issued",
		zap.Int64("sessionID", req.SessionID),
		zap.Int("sequenceNumber", req.SequenceNumber),
		zap.String("objectKey", key),
		zap.Time("expiresAt", expiresAt))

	return c.JSON(http.StatusOK, success("presigned url issued", entities.UploadTicket{
		PresignedURL: presignedURL,
		ObjectKey:    key,
	}))
}

func (h *handlers) storeUpload(c echo.Context) error {
	key := c.Param("*")
	contentType, _, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		contentType = ""
	}

	if err := h.deps.Presigner.Verify(key, contentType, c.QueryParams()); err != nil {
		h.logger.Warn("Upload rejected", zap.String("objectKey", key), zap.Error(err))
		return c.String(http.StatusForbidden, err.Error())
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes+1))
	if err != nil {
		return c.String(http.StatusBadRequest, "failed to read body")
	}
	if len(data) > maxUploadBytes {
		return c.String(http.StatusRequestEntityTooLarge, "upload too large")
	}
	if err := audio.ValidateWAV(data); err != nil {
		h.logger.Warn("Upload is not a valid WAV", zap.String("objectKey", key), zap.Error(err))
		return c.String(http.StatusBadRequest, err.Error())
	}

	if err := h.deps.Objects.Put(c.Request().Context(), key, data, contentType); err != nil {
		h.logger.Error("Failed to store upload", zap.String("objectKey", key), zap.Error(err))
		return c.String(http.StatusInternalServerError, "failed to store object")
	}

	h.deps.Metrics.UploadsStored.Inc()
	h.logger.Info("Upload stored", zap.String("objectKey", key), zap.Int("bytes", len(data)))
	return c.NoContent(http.StatusOK)
}

func (h *handlers) analyze(c echo.Context) error {
	sessionID, sequenceNumber, err := stepParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}

	var req ScoringRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure("Invalid request format"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}
	if !strings.HasPrefix(req.ObjectKey, fmt.Sprintf("session_answers/%d/", sessionID)) {
		return c.JSON(http.StatusBadRequest, failure("object key does not belong to this session"))
	}

	result, err := h.deps.Evaluator.ScoreObject(c.Request().Context(), sessionID, sequenceNumber, req.ObjectKey)
	if errors.Is(err, domain.ErrObjectNotFound) {
		return c.JSON(http.StatusNotFound, failure("uploaded audio not found"))
	}
	if err != nil {
		h.logger.Error("Scoring failed",
			zap.Int64("sessionID", sessionID),
			zap.Int("sequenceNumber", sequenceNumber),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, failure("STT analysis failed"))
	}

	return c.JSON(http.StatusOK, success("STT analysis complete", result))
}

func (h *handlers) listAnswers(c echo.Context) error {
	sessionID, sequenceNumber, err := stepParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}

	answers, err := h.deps.Answers.ListByStep(c.Request().Context(), sessionID, sequenceNumber)
	if err != nil {
		h.logger.Error("Failed to list answers", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, failure("failed to list answers"))
	}
	if answers == nil {
		answers = []*entities.AnswerRecord{}
	}

	return c.JSON(http.StatusOK, success("ok", AnswerList{
		SessionID:      sessionID,
		SequenceNumber: sequenceNumber,
		Answers:        answers,
	}))
}

func (h *handlers) synthesize(c echo.Context) error {
	text := strings.TrimSpace(c.QueryParam("text"))
	if text == "" {
		return c.JSON(http.StatusBadRequest, failure("text is required"))
	}

	wav, err := h.deps.Synthesizer.Synthesize(c.Request().Context(), text)
	if err != nil {
		h.logger.Error("Failed to synthesize narration", zap.Error(err))
		return c.JSON(http.StatusBadGateway, failure("failed to synthesize narration"))
	}
	return c.Blob(http.StatusOK, audio.ContentTypeWAV, wav)
}

// stream handles WebSocket connections with JWT authentication
func (h *handlers) stream(c echo.Context) error {
	sessionID, sequenceNumber, err := stepParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, failure(err.Error()))
	}

	token := c.QueryParam("token")
	if token == "" {
		token = auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	if token == "" {
		h.logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, failure("token is required"))
	}

	claims, err := h.deps.Tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, failure("invalid or expired token"))
	}

	h.logger.Info("WebSocket connection authenticated",
		zap.String("userID", claims.UserID),
		zap.Int64("sessionID", sessionID),
		zap.Int("sequenceNumber", sequenceNumber))

	return websocket.HandleStream(h.deps.Hub, c, sessionID, sequenceNumber, claims.UserID, h.logger)
}
