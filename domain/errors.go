package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is.
var (
	ErrCaptureUnavailable = errors.New("recording unavailable")
	ErrNotRecording       = errors.New("no recording in progress")
	ErrStaleResult        = errors.New("result belongs to a superseded request")
	ErrChannelNotOpen     = errors.New("signaling channel is not open")
	ErrAlreadyDrained     = errors.New("recording session already drained")
	ErrObjectNotFound     = errors.New("object not found")
	ErrRecordingDisabled  = errors.New("recording is not enabled for this step")
	ErrAttemptsExhausted  = errors.New("no attempts left for this step")
)

// CaptureUnavailableError reports that the microphone pipeline could not be
// brought up. Stage is one of "register", "open" or "start".
type CaptureUnavailableError struct {
	Stage string
	Err   error
}

func (e *CaptureUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recording unavailable at %s stage", e.Stage)
	}
	return fmt.Sprintf("recording unavailable at %s stage: %v", e.Stage, e.Err)
}

func (e *CaptureUnavailableError) Unwrap() error { return e.Err }

func (e *CaptureUnavailableError) Is(target error) bool { return target == ErrCaptureUnavailable }

// TicketRequestError is returned when the backend refuses to issue an upload ticket.
type TicketRequestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TicketRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload ticket request failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload ticket request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *TicketRequestError) Unwrap() error { return e.Err }

// UploadError is returned when the direct object transfer does not succeed.
// StatusCode is zero when the request never reached the storage endpoint.
type UploadError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio upload failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("audio upload failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ScoringRequestError is returned when the scoring call fails or its body cannot be decoded.
type ScoringRequestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ScoringRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scoring request failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scoring request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *ScoringRequestError) Unwrap() error { return e.Err }

// SignalingProtocolError describes a single inbound frame that could not be understood.
type SignalingProtocolError struct {
	Frame string
	Err   error
}

func (e *SignalingProtocolError) Error() string {
	return fmt.Sprintf("malformed signaling frame: %v", e.Err)
}

func (e *SignalingProtocolError) Unwrap() error { return e.Err }

// SignalingTransportError describes an abnormal termination of the signaling socket.
type SignalingTransportError struct {
	Code int
	Text string
}

func (e *SignalingTransportError) Error() string {
	return fmt.Sprintf("signaling channel closed abnormally (code %d): %s", e.Code, e.Text)
}

// UserMessage resolves any pipeline error into the text shown on the current screen.
// Superseded results are dropped silently and map to an empty message.
func UserMessage(err error) string {
	if err == nil || errors.Is(err, ErrStaleResult) {
		return ""
	}

	var (
		captureErr   *CaptureUnavailableError
		ticketErr    *TicketRequestError
		uploadErr    *UploadError
		scoringErr   *ScoringRequestError
		transportErr *SignalingTransportError
	)

	switch {
	case errors.As(err, &captureErr):
		return "녹음을 시작할 수 없습니다. 마이크 권한과 장치를 확인해주세요."
	case errors.As(err, &ticketErr):
		if ticketErr.StatusCode == 401 || ticketErr.StatusCode == 403 {
			return "로그인이 만료되었습니다. 다시 로그인한 뒤 시도해주세요."
		}
		return "녹음 파일을 업로드할 준비를 하지 못했습니다. 다시 시도해주세요."
	case errors.As(err, &uploadErr):
		return "녹음 파일 업로드에 실패했습니다. 다시 시도해주세요."
	case errors.As(err, &scoringErr):
		return "음성 분석에 실패했습니다. 다시 시도해주세요."
	case errors.As(err, &transportErr):
		return "실시간 연결이 끊어졌습니다."
	case errors.Is(err, ErrNotRecording):
		return "진행 중인 녹음이 없습니다."
	case errors.Is(err, ErrRecordingDisabled):
		return "이 단계에서는 녹음을 사용할 수 없습니다."
	case errors.Is(err, ErrAttemptsExhausted):
		return "시도 횟수를 모두 사용했습니다."
	case errors.Is(err, ErrAlreadyDrained):
		return "이미 제출된 녹음입니다. 다시 녹음해주세요."
	default:
		return "알 수 없는 오류가 발생했습니다. 다시 시도해주세요."
	}
}
