package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/majuclass/recorder/adapters"
	"github.com/majuclass/recorder/adapters/mongo"
	"github.com/majuclass/recorder/adapters/stt"
	"github.com/majuclass/recorder/adapters/tts"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/api"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/auth"
	"github.com/majuclass/recorder/internal/config"
	"github.com/majuclass/recorder/internal/logger"
	"github.com/majuclass/recorder/internal/metrics"
	"github.com/majuclass/recorder/internal/websocket"
	"github.com/majuclass/recorder/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Devserver stopped with error", zap.Error(err))
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := cfg.DevServer

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tokens, err := auth.NewTokenIssuer(dev.JWTSecret, dev.TokenTTL)
	if err != nil {
		return err
	}
	presigner, err := auth.NewPresigner(dev.PresignSecret, dev.PublicBaseURL, dev.TicketTTL)
	if err != nil {
		return err
	}

	// Initialize adapters
	answers, closeAnswers, err := newAnswerRepository(ctx, dev, log)
	if err != nil {
		return err
	}
	defer closeAnswers()

	speechToText, closeSTT, err := newSpeechToText(ctx, dev, log)
	if err != nil {
		return err
	}
	defer closeSTT()

	synthesizer, err := newSynthesizer(dev, log)
	if err != nil {
		return err
	}

	objects := adapters.NewMemoryObjectStore()
	evaluator := usecase.NewAnswerEvaluator(
		usecase.EvaluatorConfig{Threshold: dev.SimilarityThreshold, Language: dev.Language},
		objects, speechToText, answers, dev, log, m,
	)

	hub := websocket.NewHub(websocket.Config{
		PartialWindow: dev.PartialWindow,
		SampleRate:    audio.SampleRate,
	}, evaluator, log)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("Request",
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("requestID", v.RequestID))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Tokens:      tokens,
		Presigner:   presigner,
		Objects:     objects,
		Answers:     answers,
		Evaluator:   evaluator,
		Synthesizer: synthesizer,
		Hub:         hub,
		Metrics:     m,
		Gatherer:    reg,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("Devserver started",
			zap.String("address", dev.ListenAddress),
			zap.String("publicBaseURL", dev.PublicBaseURL),
			zap.String("sttProvider", dev.STTProvider),
			zap.String("ttsProvider", dev.TTSProvider))
		if err := e.Start(dev.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newAnswerRepository(ctx context.Context, dev config.DevServerConfig, log *zap.Logger) (repositories.AnswerRepository, func(), error) {
	if dev.MongoDBURI == "" {
		log.Info("Using in-memory answer repository")
		return adapters.NewMemoryAnswerRepository(), func() {}, nil
	}

	client, err := mongo.NewClient(ctx, mongo.Config{
		URI:      dev.MongoDBURI,
		Database: dev.MongoDatabase,
		AppName:  "majuclass-devserver",
	}, log)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Close(ctx)
	}
	return adapters.NewMongoAnswerRepository(client.Database, log), closeFn, nil
}

func newSpeechToText(ctx context.Context, dev config.DevServerConfig, log *zap.Logger) (repositories.SpeechToText, func(), error) {
	switch dev.STTProvider {
	case "google":
		g, err := stt.NewGoogleSpeechToText(ctx, log)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { g.Close() }, nil
	default:
		return stt.NewMockSpeechToText("", log), func() {}, nil
	}
}

func newSynthesizer(dev config.DevServerConfig, log *zap.Logger) (repositories.SpeechSynthesizer, error) {
	switch dev.TTSProvider {
	case "elevenlabs":
		return tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), log)
	default:
		return tts.NewToneSynthesizer(), nil
	}
}
