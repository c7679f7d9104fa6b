package signaling

import (
	"encoding/json"
	"testing"

	"github.com/majuclass/recorder/domain/entities"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantType  MessageType
		wantText  string
		wantScore bool
	}{
		{"partial", `{"type":"partial_result","partial_text":"hel"}`, MessageTypePartialResult, "hel", false},
		{"transcript alias", `{"type":"transcript","text":"안녕"}`, MessageTypePartialResult, "안녕", false},
		{"partial_text wins over text", `{"type":"partial_result","partial_text":"a","text":"b"}`, MessageTypePartialResult, "a", false},
		{"final message", `{"type":"final_result","message":"hello"}`, MessageTypeFinalResult, "hello", false},
		{"final structured", `{"type":"final_result","session_stt_answer_id":5,"transcribed_text":"팝콘","answer_text":"팝콘 주세요","similarity_score":0.81,"is_correct":true,"attempt_no":2}`, MessageTypeFinalResult, "팝콘", true},
		{"error", `{"type":"error","message":"세션 없음","code":"SESSION_NOT_FOUND"}`, MessageTypeError, "세션 없음", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseInbound([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Failed to parse frame: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, msg.Type)
			}
			if msg.Text != tt.wantText {
				t.Errorf("Expected text %q, got %q", tt.wantText, msg.Text)
			}
			if (msg.Result != nil) != tt.wantScore {
				t.Errorf("Expected result present=%v, got %v", tt.wantScore, msg.Result)
			}
		})
	}
}

func TestParseInboundStructuredFields(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"final_result","session_stt_answer_id":5,"transcribed_text":"팝콘","answer_text":"팝콘 주세요","similarity_score":0.81,"is_correct":true,"attempt_no":2}`))
	if err != nil {
		t.Fatalf("Failed to parse frame: %v", err)
	}

	r := msg.Result
	if r.AnswerID != 5 || r.AttemptNumber != 2 || !r.IsCorrect || r.SimilarityScore != 0.81 || r.ReferenceText != "팝콘 주세요" {
		t.Errorf("Unexpected scoring result: %+v", r)
	}
}

func TestParseInboundRejects(t *testing.T) {
	for _, frame := range []string{`{not json`, `{"message":"no type"}`, `{"type":"mystery"}`} {
		if _, err := ParseInbound([]byte(frame)); err == nil {
			t.Errorf("Expected error for %s", frame)
		}
	}
}

func TestFinalResultMessageFlattensScoring(t *testing.T) {
	data, err := json.Marshal(NewFinalResult("팝콘 주세요", &entities.ScoringResult{
		AnswerID:        9,
		TranscribedText: "팝콘 주세요",
		SimilarityScore: 1,
		IsCorrect:       true,
		AttemptNumber:   1,
	}))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	msg, err := ParseInbound(data)
	if err != nil {
		t.Fatalf("Failed to parse own frame: %v", err)
	}
	if msg.Text != "팝콘 주세요" {
		t.Errorf("Expected message text, got %q", msg.Text)
	}
	if msg.Result == nil || msg.Result.AnswerID != 9 {
		t.Errorf("Expected flattened scoring result, got %+v", msg.Result)
	}
}

func TestMessageValidator(t *testing.T) {
	v := NewMessageValidator()

	msg, err := v.ValidateMessage([]byte(`{"type":"audio_chunk","data":"AAEC"}`))
	if err != nil {
		t.Fatalf("Expected valid audio chunk, got %v", err)
	}
	if chunk, ok := msg.(*AudioChunkMessage); !ok || chunk.Data != "AAEC" {
		t.Errorf("Expected *AudioChunkMessage, got %T", msg)
	}

	msg, err = v.ValidateMessage([]byte(`{"type":"end_stream","audio_s3_key":"k","sequence_number":3}`))
	if err != nil {
		t.Fatalf("Expected valid end stream, got %v", err)
	}
	if end, ok := msg.(*EndStreamMessage); !ok || end.ObjectKey != "k" {
		t.Errorf("Expected *EndStreamMessage, got %T", msg)
	}

	invalid := []string{
		`{"type":"audio_chunk"}`,
		`{"type":"audio_chunk","data":"not base64!"}`,
		`{"type":"partial_result","partial_text":"x"}`,
		`garbage`,
	}
	for _, frame := range invalid {
		if _, err := v.ValidateMessage([]byte(frame)); err == nil {
			t.Errorf("Expected validation error for %s", frame)
		}
	}
}
