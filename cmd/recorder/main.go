package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/majuclass/recorder/adapters/backend"
	"github.com/majuclass/recorder/adapters/capture"
	"github.com/majuclass/recorder/adapters/playback"
	"github.com/majuclass/recorder/domain"
	"github.com/majuclass/recorder/domain/entities"
	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
	"github.com/majuclass/recorder/internal/config"
	"github.com/majuclass/recorder/internal/logger"
	"github.com/majuclass/recorder/internal/metrics"
	"github.com/majuclass/recorder/internal/signaling"
	"github.com/majuclass/recorder/usecase"
)

const submitTimeout = 60 * time.Second

// stop triggers
var (
	errDurationElapsed = errors.New("duration elapsed")
	errEnterPressed    = errors.New("enter pressed")
	errInterrupted     = errors.New("interrupted")
)

type options struct {
	configPath string
	sessionID  int64
	sequence   int
	difficulty string
	input      string
	duration   time.Duration
	realtime   bool
	narrate    string
	token      string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flag.Int64Var(&opts.sessionID, "session", 0, "scenario session id")
	flag.IntVar(&opts.sequence, "sequence", 0, "1-based step sequence number")
	flag.StringVar(&opts.difficulty, "difficulty", string(entities.DifficultyHard), "scenario difficulty (EASY or HARD)")
	flag.StringVar(&opts.input, "input", "", "replay a mono 16-bit WAV file instead of the microphone")
	flag.DurationVar(&opts.duration, "duration", 0, "stop recording after this long (0 waits for Enter)")
	flag.BoolVar(&opts.realtime, "realtime", false, "pace -input frames at the capture rate")
	flag.StringVar(&opts.narrate, "narrate", "", "prompt to read aloud before recording")
	flag.StringVar(&opts.token, "token", "", "bearer token (overrides backend.access_token)")
	flag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if opts.token != "" {
		cfg.Backend.AccessToken = opts.token
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, opts, log); err != nil {
		if msg := domain.UserMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		log.Error("Recording failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options, log *zap.Logger) error {
	difficulty, err := entities.ParseDifficulty(opts.difficulty)
	if err != nil {
		return err
	}
	step := entities.ScenarioStep{
		SessionID:      opts.sessionID,
		SequenceNumber: opts.sequence,
		Difficulty:     difficulty,
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		server := serveMetrics(cfg.Metrics.ListenAddress, reg, log)
		defer server.Close()
	}

	client, err := backend.NewClient(backend.Config{
		APIBaseURL:  cfg.Backend.APIBaseURL,
		AIBaseURL:   cfg.Backend.AIBaseURL,
		AccessToken: cfg.Backend.AccessToken,
		Timeout:     cfg.Backend.Timeout,
		UserAgent:   cfg.Backend.UserAgent,
	}, log, m)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	source, duration, err := newCaptureSource(cfg, opts, log, m)
	if err != nil {
		return err
	}

	var signals *signaling.Manager
	if cfg.Signaling.Enabled {
		signals = signaling.NewManager(signaling.Config{
			BaseURL:          cfg.Signaling.BaseURL,
			HandshakeTimeout: cfg.Signaling.HandshakeTimeout,
			WriteWait:        cfg.Signaling.WriteWait,
			PongWait:         cfg.Signaling.PongWait,
		}, signaling.HandlerFuncs{
			PartialResult: func(text string) {
				fmt.Printf("\r… %s", text)
			},
			ServerError: func(msg *signaling.InboundMessage) {
				log.Warn("Signaling server reported an error",
					zap.String("code", msg.Code),
					zap.String("message", msg.Text))
			},
		}, log, m)
	}

	recorder := usecase.NewRecorderService(source, client, client, signals, log, m)
	controller, err := usecase.NewStepController(step, cfg.Backend.AccessToken, recorder, signals, usecase.DefaultMaxAttempts, log)
	if err != nil {
		return err
	}
	defer controller.Leave()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller.Enter(ctx)

	if opts.narrate != "" {
		narrator := usecase.NewNarrator(client, playback.NewPortAudioPlayer(log), log)
		if err := narrator.Speak(ctx, opts.narrate); err != nil {
			log.Warn("Narration skipped", zap.Error(err))
		}
	}

	if err := controller.BeginAnswer(ctx); err != nil {
		return err
	}
	if duration > 0 {
		fmt.Printf("Recording for %s...\n", duration)
	} else {
		fmt.Println("Recording... press Enter to submit")
	}

	trigger := waitForStop(ctx, duration)
	// a second interrupt kills the process
	stop()
	log.Info("Stopping recording", zap.String("trigger", trigger.Error()))
	fmt.Println()

	submitCtx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	outcome, err := controller.SubmitAnswer(submitCtx)
	if err != nil {
		return err
	}

	r := outcome.Result
	fmt.Printf("%s\n", outcome.Message)
	fmt.Printf("  transcript: %s\n", r.TranscribedText)
	if r.ReferenceText != "" {
		fmt.Printf("  expected:   %s\n", r.ReferenceText)
	}
	fmt.Printf("  similarity: %.2f  attempt: %d  remaining: %d\n",
		r.SimilarityScore, r.AttemptNumber, controller.RemainingAttempts())
	return nil
}

// waitForStop blocks until the duration elapses, Enter is pressed or ctx is
// cancelled, and returns which of them fired.
func waitForStop(ctx context.Context, duration time.Duration) error {
	enter := make(chan struct{})
	go func() {
		// stdin reads cannot be cancelled, so this goroutine is left behind
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			close(enter)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if duration > 0 {
		g.Go(func() error {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			select {
			case <-timer.C:
				return errDurationElapsed
			case <-gctx.Done():
				return nil
			}
		})
	}

	g.Go(func() error {
		select {
		case <-enter:
			return errEnterPressed
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			return errInterrupted
		}
		return nil
	})

	return g.Wait()
}

func newCaptureSource(cfg *config.Config, opts options, log *zap.Logger, m *metrics.Metrics) (repositories.CaptureSource, time.Duration, error) {
	if opts.input == "" {
		return capture.NewPortAudioSource(capture.PortAudioConfig{
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			QueueSize:       cfg.Audio.FrameQueueSize,
			Device:          cfg.Audio.Device,
		}, log, m), opts.duration, nil
	}

	duration := opts.duration
	if duration == 0 {
		data, err := os.ReadFile(opts.input)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read input: %w", err)
		}
		seconds, err := audio.GetWAVDuration(data)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid input: %w", err)
		}
		// fast replay finishes almost at once; realtime replay needs the clip length
		duration = 200 * time.Millisecond
		if opts.realtime {
			duration += time.Duration(seconds * float64(time.Second))
		}
	}

	return capture.NewReplaySource(capture.ReplayConfig{
		Path:      opts.input,
		FrameSize: cfg.Audio.FramesPerBuffer,
		Realtime:  opts.realtime,
	}, log), duration, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("Metrics listening", zap.String("address", addr))
	return server
}
