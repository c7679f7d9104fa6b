package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/majuclass/recorder/domain/entities"
)

// MessageType defines the type of a signaling frame
type MessageType string

// Supported message types
const (
	MessageTypeAudioChunk    MessageType = "audio_chunk"
	MessageTypeEndStream     MessageType = "end_stream"
	MessageTypePartialResult MessageType = "partial_result"
	MessageTypeTranscript    MessageType = "transcript"
	MessageTypeFinalResult   MessageType = "final_result"
	MessageTypeError         MessageType = "error"
)

// AudioChunkMessage carries base64 little-endian PCM16 (client to server)
type AudioChunkMessage struct {
	Type MessageType `json:"type" validate:"required,eq=audio_chunk"`
	Data string      `json:"data" validate:"required,base64"`
}

// EndStreamMessage announces the uploaded object holding the full answer (client to server)
type EndStreamMessage struct {
	Type           MessageType `json:"type" validate:"required,eq=end_stream"`
	ObjectKey      string      `json:"audio_s3_key"`
	SequenceNumber int         `json:"sequence_number" validate:"min=0"`
}

// PartialResultMessage carries interim transcription (server to client)
type PartialResultMessage struct {
	Type        MessageType `json:"type"`
	PartialText string      `json:"partial_text"`
}

// FinalResultMessage carries the final transcript and, when the server scored
// the answer, the scoring fields flattened into the same object (server to client)
type FinalResultMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
	*entities.ScoringResult
}

// ErrorMessage reports a server side failure (server to client)
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// InboundMessage is a decoded server frame as seen by the client
type InboundMessage struct {
	Type MessageType
	// Text is the partial transcript, final message or error message depending on Type
	Text string
	Code string
	// Result is set on final_result frames that carry scoring fields
	Result *entities.ScoringResult
}

// inboundFrame is the union of every server frame shape.
type inboundFrame struct {
	Type            MessageType `json:"type"`
	PartialText     *string     `json:"partial_text"`
	Text            *string     `json:"text"`
	Message         *string     `json:"message"`
	Code            string      `json:"code"`
	AnswerID        *int64      `json:"session_stt_answer_id"`
	TranscribedText string      `json:"transcribed_text"`
	ReferenceText   string      `json:"answer_text"`
	SimilarityScore *float64    `json:"similarity_score"`
	IsCorrect       bool        `json:"is_correct"`
	AttemptNumber   int         `json:"attempt_no"`
}

// ParseInbound decodes a text frame from the server. Servers disagree on field
// names, so text is taken with this precedence:
//   - partial frames: partial_text, then text ("transcript" frames are partials)
//   - final frames: message, then transcribed_text
//
// Scoring fields are decoded into Result only when similarity_score or
// session_stt_answer_id is present.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	msg := &InboundMessage{Type: frame.Type, Code: frame.Code}

	switch frame.Type {
	case MessageTypePartialResult, MessageTypeTranscript:
		msg.Type = MessageTypePartialResult
		switch {
		case frame.PartialText != nil:
			msg.Text = *frame.PartialText
		case frame.Text != nil:
			msg.Text = *frame.Text
		}

	case MessageTypeFinalResult:
		if frame.Message != nil {
			msg.Text = *frame.Message
		} else {
			msg.Text = frame.TranscribedText
		}
		if frame.SimilarityScore != nil || frame.AnswerID != nil {
			result := &entities.ScoringResult{
				TranscribedText: frame.TranscribedText,
				ReferenceText:   frame.ReferenceText,
				IsCorrect:       frame.IsCorrect,
				AttemptNumber:   frame.AttemptNumber,
			}
			if frame.AnswerID != nil {
				result.AnswerID = *frame.AnswerID
			}
			if frame.SimilarityScore != nil {
				result.SimilarityScore = *frame.SimilarityScore
			}
			msg.Result = result
		}

	case MessageTypeError:
		if frame.Message != nil {
			msg.Text = *frame.Message
		}

	case "":
		return nil, fmt.Errorf("message missing type field")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", frame.Type)
	}

	return msg, nil
}

// MessageValidator validates client frames received by a signaling server
type MessageValidator struct {
	validate *validator.Validate
}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{validate: validator.New()}
}

// ValidateMessage decodes and validates a client frame. It returns either an
// *AudioChunkMessage or an *EndStreamMessage.
func (v *MessageValidator) ValidateMessage(data []byte) (interface{}, error) {
	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeAudioChunk:
		var msg AudioChunkMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio chunk message: %w", err)
		}
		if err := v.validate.Struct(&msg); err != nil {
			return nil, fmt.Errorf("invalid audio chunk message: %w", err)
		}
		return &msg, nil

	case MessageTypeEndStream:
		var msg EndStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid end stream message: %w", err)
		}
		if err := v.validate.Struct(&msg); err != nil {
			return nil, fmt.Errorf("invalid end stream message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// NewAudioChunk builds an outbound audio_chunk frame
func NewAudioChunk(data string) *AudioChunkMessage {
	return &AudioChunkMessage{Type: MessageTypeAudioChunk, Data: data}
}

// NewEndStream builds an outbound end_stream frame
func NewEndStream(objectKey string, sequenceNumber int) *EndStreamMessage {
	return &EndStreamMessage{Type: MessageTypeEndStream, ObjectKey: objectKey, SequenceNumber: sequenceNumber}
}

// NewPartialResult builds a partial_result frame
func NewPartialResult(text string) *PartialResultMessage {
	return &PartialResultMessage{Type: MessageTypePartialResult, PartialText: text}
}

// NewFinalResult builds a final_result frame; result may be nil
func NewFinalResult(message string, result *entities.ScoringResult) *FinalResultMessage {
	return &FinalResultMessage{Type: MessageTypeFinalResult, Message: message, ScoringResult: result}
}

// NewErrorMessage builds an error frame
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MessageTypeError, Code: code, Message: message}
}
