package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCaptureUnavailableMatchesSentinel(t *testing.T) {
	cause := errors.New("device busy")
	err := fmt.Errorf("start recording: %w", &CaptureUnavailableError{Stage: "open", Err: cause})

	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Error("Expected error to match ErrCaptureUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to unwrap to its cause")
	}
}

func TestTicketRequestErrorCarriesStatus(t *testing.T) {
	err := fmt.Errorf("stop: %w", &TicketRequestError{StatusCode: 403, Body: "forbidden"})

	var ticketErr *TicketRequestError
	if !errors.As(err, &ticketErr) {
		t.Fatal("Expected errors.As to find TicketRequestError")
	}
	if ticketErr.StatusCode != 403 {
		t.Errorf("Expected status 403, got %d", ticketErr.StatusCode)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"capture", &CaptureUnavailableError{Stage: "register"}, "녹음을 시작할 수 없습니다. 마이크 권한과 장치를 확인해주세요."},
		{"ticket forbidden", &TicketRequestError{StatusCode: 403}, "로그인이 만료되었습니다. 다시 로그인한 뒤 시도해주세요."},
		{"ticket server error", &TicketRequestError{StatusCode: 500}, "녹음 파일을 업로드할 준비를 하지 못했습니다. 다시 시도해주세요."},
		{"upload", &UploadError{StatusCode: 400}, "녹음 파일 업로드에 실패했습니다. 다시 시도해주세요."},
		{"scoring", fmt.Errorf("wrapped: %w", &ScoringRequestError{StatusCode: 502}), "음성 분석에 실패했습니다. 다시 시도해주세요."},
		{"transport", &SignalingTransportError{Code: 1006}, "실시간 연결이 끊어졌습니다."},
		{"stale", fmt.Errorf("stop: %w", ErrStaleResult), ""},
		{"not recording", ErrNotRecording, "진행 중인 녹음이 없습니다."},
		{"unknown", errors.New("boom"), "알 수 없는 오류가 발생했습니다. 다시 시도해주세요."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
