package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind AnswerKind
		text string
	}{
		{"plain string", `"hola"`, AnswerText, "hola"},
		{"output field", `{"output":"desde n8n"}`, AnswerText, "desde n8n"},
		{"response beats text", `{"text":"b","response":"a"}`, AnswerText, "a"},
		{"nested object", `{"message":{"text":"anidado"}}`, AnswerText, "anidado"},
		{"single element array", `[{"output":"lista"}]`, AnswerText, "lista"},
		{"blank string", `"   "`, AnswerUnrecognized, ""},
		{"number", `42`, AnswerUnrecognized, ""},
		{"unknown object", `{"foo":"bar"}`, AnswerUnrecognized, ""},
		{"empty", ``, AnswerUnrecognized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAnswer(json.RawMessage(tt.raw))
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.text, got.Text)
			if tt.kind == AnswerUnrecognized {
				assert.Equal(t, FallbackAnswerText, got.TextOrFallback())
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "generation_timeout", ErrorCode(ErrGenerationTimeout))
	assert.Equal(t, "generation_unavailable", ErrorCode(ErrGenerationUnavailable))
	assert.Equal(t, "invalid_input", ErrorCode(ErrInvalidInput))
	assert.Equal(t, "internal_error", ErrorCode(assert.AnError))
	assert.Empty(t, ErrorCode(nil))
}
