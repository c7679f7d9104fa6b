package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/majuclass/recorder/domain/repositories"
	"github.com/majuclass/recorder/internal/audio"
)

// GoogleSpeechToText implements SpeechToText with Google Cloud Speech
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the underlying client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func recognitionConfig(config repositories.AudioConfig) (*speechpb.RecognitionConfig, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(config.SampleRate),
		AudioChannelCount:          1,
		LanguageCode:               config.Language,
		EnableAutomaticPunctuation: false,
	}, nil
}

// TranscribeAudio recognizes a short clip in one request. WAV input is
// unwrapped to its PCM payload.
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	content := audioData
	if samples, sampleRate, err := audio.DecodeWAV(audioData); err == nil {
		content = audio.PCMBytes(samples)
		config.SampleRate = sampleRate
		config.Encoding = "LINEAR16"
	}

	rc, err := recognitionConfig(config)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to recognize audio: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}
	transcript := strings.TrimSpace(strings.Join(parts, " "))

	g.logger.Info("Google transcription completed",
		zap.Int("audioSize", len(content)),
		zap.String("language", config.Language),
		zap.String("text", transcript))
	return transcript, nil
}

// InitTranscribeStreaming opens a streaming recognition over raw PCM
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	rc, err := recognitionConfig(config)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          rc,
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		stream: stream,
		ctx:    ctx,
		done:   make(chan struct{}),
	}
	go s.receiveResults()
	return s, nil
}

// GoogleSpeechToTextStream is one streaming recognition
type GoogleSpeechToTextStream struct {
	stream   speechpb.Speech_StreamingRecognizeClient
	ctx      context.Context
	received bool

	done    chan struct{}
	mu      sync.Mutex
	result  []string
	interim string
	err     error
}

// Stream sends a chunk of raw PCM
func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	g.received = true
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: data},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Partial joins the final segments with the latest interim hypothesis
func (g *GoogleSpeechToTextStream) Partial() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strings.TrimSpace(strings.Join(append(append([]string(nil), g.result...), g.interim), " "))
}

// End closes the send side and waits for the final transcript
func (g *GoogleSpeechToTextStream) End() (string, error) {
	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}
	if !g.received {
		return "", errors.New("no audio data received")
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case <-g.done:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return strings.TrimSpace(strings.Join(g.result, " ")), nil
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.done)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.mu.Lock()
			g.err = fmt.Errorf("failed to receive response: %w", err)
			g.mu.Unlock()
			return
		}

		var interim []string
		g.mu.Lock()
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			if result.IsFinal {
				g.result = append(g.result, result.Alternatives[0].Transcript)
			} else {
				interim = append(interim, result.Alternatives[0].Transcript)
			}
		}
		g.interim = strings.Join(interim, "")
		g.mu.Unlock()
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16", "":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
