package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/majuclass/recorder/adapters"
	"github.com/majuclass/recorder/adapters/stt"
	"github.com/majuclass/recorder/adapters/tts"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/auth"
	"github.com/majuclass/recorder/internal/metrics"
	"github.com/majuclass/recorder/internal/websocket"
	"github.com/majuclass/recorder/usecase"
)

type fixedReference string

func (f fixedReference) AnswerFor(int64, int) string { return string(f) }

type testServer struct {
	echo    *echo.Echo
	token   string
	objects *adapters.MemoryObjectStore
	answers *adapters.MemoryAnswerRepository
	metrics *metrics.Metrics
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	tokens, err := auth.NewTokenIssuer("routes-test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token issuer: %v", err)
	}
	presigner, err := auth.NewPresigner("routes-presign-secret-0123456789", "http://devserver.test", 5*time.Minute)
	if err != nil {
		t.Fatalf("Failed to create presigner: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	objects := adapters.NewMemoryObjectStore()
	answers := adapters.NewMemoryAnswerRepository()
	evaluator := usecase.NewAnswerEvaluator(
		usecase.EvaluatorConfig{Threshold: 0.7, Language: "ko-KR"},
		objects,
		stt.NewMockSpeechToText("안녕하세요", zap.NewNop()),
		answers,
		fixedReference("안녕하세요"),
		logger,
		m,
	)

	e := echo.New()
	InitRoutes(e, Dependencies{
		Tokens:      tokens,
		Presigner:   presigner,
		Objects:     objects,
		Answers:     answers,
		Evaluator:   evaluator,
		Synthesizer: tts.NewToneSynthesizer(),
		Hub:         websocket.NewHub(websocket.Config{}, evaluator, zap.NewNop()),
		Metrics:     m,
		Gatherer:    reg,
	}, logger)

	token, _, err := tokens.GenerateToken("learner-1")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	return &testServer{echo: e, token: token, objects: objects, answers: answers, metrics: m}
}

func (s *testServer) do(t *testing.T, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) authJSON() map[string]string {
	return map[string]string{
		echo.HeaderAuthorization: "Bearer " + s.token,
		echo.HeaderContentType:   echo.MIMEApplicationJSON,
	}
}

func (s *testServer) requestTicket(t *testing.T) entities.UploadTicket {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/scenario-sessions/audio-upload-url",
		[]byte(`{"sessionId":12,"sequenceNumber":3,"contentType":"audio/wav"}`), s.authJSON())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Status string                `json:"status"`
		Data   entities.UploadTicket `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to decode ticket: %v", err)
	}
	if envelope.Status != StatusSuccess {
		t.Errorf("Expected status SUCCESS, got %s", envelope.Status)
	}
	return envelope.Data
}

func uploadTarget(t *testing.T, presigned string) string {
	t.Helper()
	u, err := url.Parse(presigned)
	if err != nil {
		t.Fatalf("Failed to parse presigned url: %v", err)
	}
	return u.RequestURI()
}

func oneSecondWAV() []byte {
	samples := make([]int16, audio.SampleRate)
	for i := range samples {
		samples[i] = int16((i % 64) * 100)
	}
	return audio.EncodeSamples(samples, audio.SampleRate)
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestUploadTicketRequiresAuth(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodPost, "/scenario-sessions/audio-upload-url",
		[]byte(`{"sessionId":12,"sequenceNumber":3,"contentType":"audio/wav"}`),
		map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestUploadTicketValidation(t *testing.T) {
	s := setupServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing session", `{"sequenceNumber":3,"contentType":"audio/wav"}`},
		{"wrong content type", `{"sessionId":12,"sequenceNumber":3,"contentType":"audio/mpeg"}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/scenario-sessions/audio-upload-url", []byte(tt.body), s.authJSON())
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestUploadAndAnalyze(t *testing.T) {
	s := setupServer(t)
	ticket := s.requestTicket(t)

	if !strings.HasPrefix(ticket.ObjectKey, "session_answers/12/seq_3_") || !strings.HasSuffix(ticket.ObjectKey, ".wav") {
		t.Errorf("Unexpected object key: %s", ticket.ObjectKey)
	}

	rec := s.do(t, http.MethodPut, uploadTarget(t, ticket.PresignedURL), oneSecondWAV(),
		map[string]string{echo.HeaderContentType: audio.ContentTypeWAV})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected upload status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := testutil.ToFloat64(s.metrics.UploadsStored); got != 1 {
		t.Errorf("Expected 1 stored upload, got %v", got)
	}

	analyze := func(objectKey string) entities.ScoringResult {
		t.Helper()
		body, _ := json.Marshal(ScoringRequest{ObjectKey: objectKey})
		rec := s.do(t, http.MethodPost, "/stt-analyze/12/3", body, s.authJSON())
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected analyze status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var envelope struct {
			Data entities.ScoringResult `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("Failed to decode result: %v", err)
		}
		return envelope.Data
	}

	first := analyze(ticket.ObjectKey)
	if !first.IsCorrect || first.SimilarityScore != 1 {
		t.Errorf("Expected a correct answer with score 1, got %+v", first)
	}
	if first.AttemptNumber != 1 {
		t.Errorf("Expected attempt 1, got %d", first.AttemptNumber)
	}

	// the same object is never scored twice
	if again := analyze(ticket.ObjectKey); again.AnswerID != first.AnswerID || again.AttemptNumber != 1 {
		t.Errorf("Expected stored attempt %d to be reused, got %+v", first.AnswerID, again)
	}

	second := s.requestTicket(t)
	rec = s.do(t, http.MethodPut, uploadTarget(t, second.PresignedURL), oneSecondWAV(),
		map[string]string{echo.HeaderContentType: audio.ContentTypeWAV})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected upload status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if result := analyze(second.ObjectKey); result.AttemptNumber != 2 {
		t.Errorf("Expected attempt 2, got %d", result.AttemptNumber)
	}

	rec = s.do(t, http.MethodGet, "/stt-answers/12/3", nil, s.authJSON())
	var list struct {
		Data AnswerList `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to decode answer list: %v", err)
	}
	if len(list.Data.Answers) != 2 {
		t.Errorf("Expected 2 answers, got %d", len(list.Data.Answers))
	}
}

func TestUploadRejections(t *testing.T) {
	s := setupServer(t)
	ticket := s.requestTicket(t)
	target := uploadTarget(t, ticket.PresignedURL)

	rec := s.do(t, http.MethodPut, target, oneSecondWAV(),
		map[string]string{echo.HeaderContentType: "audio/mpeg"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for other content type, got %d", rec.Code)
	}

	tampered := strings.Replace(target, "seq_3_", "seq_4_", 1)
	rec = s.do(t, http.MethodPut, tampered, oneSecondWAV(),
		map[string]string{echo.HeaderContentType: audio.ContentTypeWAV})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for tampered key, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPut, target, []byte("not a wav file at all, clearly"),
		map[string]string{echo.HeaderContentType: audio.ContentTypeWAV})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid WAV, got %d", rec.Code)
	}

	if _, _, err := s.objects.Get(context.Background(), ticket.ObjectKey); err == nil {
		t.Error("Expected nothing stored after rejected uploads")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	s := setupServer(t)

	body, _ := json.Marshal(ScoringRequest{ObjectKey: "session_answers/12/seq_3_missing.wav"})
	rec := s.do(t, http.MethodPost, "/stt-analyze/12/3", body, s.authJSON())
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing object, got %d", rec.Code)
	}

	body, _ = json.Marshal(ScoringRequest{ObjectKey: "session_answers/99/seq_3_x.wav"})
	rec = s.do(t, http.MethodPost, "/stt-analyze/12/3", body, s.authJSON())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for foreign key, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/stt-analyze/abc/3", body, s.authJSON())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad session id, got %d", rec.Code)
	}
}

func TestSynthesize(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/tts?text="+url.QueryEscape("안녕하세요"), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != audio.ContentTypeWAV {
		t.Errorf("Expected %s, got %s", audio.ContentTypeWAV, ct)
	}
	if err := audio.ValidateWAV(rec.Body.Bytes()); err != nil {
		t.Errorf("Expected valid WAV, got %v", err)
	}

	rec = s.do(t, http.MethodGet, "/tts", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without text, got %d", rec.Code)
	}
}

func TestDevToken(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodPost, "/dev/token", []byte(`{"userId":"learner-2"}`),
		map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var envelope struct {
		Data TokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to decode token: %v", err)
	}
	if envelope.Data.Token == "" {
		t.Error("Expected a token")
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/ws/stt/12/3", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/ws/stt/12/3?token=garbage", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	s.metrics.UploadsStored.Inc()

	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "maju_recorder_devserver_uploads_stored_total 1") {
		t.Error("Expected uploads counter in metrics output")
	}
}
