package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// AnswerKind tags the result of ParseAnswer.
type AnswerKind int

const (
	AnswerUnrecognized AnswerKind = iota
	AnswerText
)

// FallbackAnswerText replaces any relayed answer whose shape is not understood.
const FallbackAnswerText = "Recibí una respuesta, pero no pude interpretarla. Por favor, intenta nuevamente."

// Answer is either plain text or the raw payload that could not be read.
type Answer struct {
	Kind AnswerKind
	Text string
	Raw  json.RawMessage
}

// answerFields are tried in order on object payloads.
var answerFields = []string{"output", "response", "text", "message", "content"}

// ParseAnswer reads a relayed answer. Accepted shapes: a JSON string, an
// object with one of answerFields holding a string (or a nested object of
// the same shape), or a one-element array of such objects.
func ParseAnswer(raw json.RawMessage) Answer {
	if text, ok := answerText(raw, 0); ok {
		return Answer{Kind: AnswerText, Text: text}
	}
	return Answer{Kind: AnswerUnrecognized, Raw: raw}
}

// TextOrFallback returns the answer text, or FallbackAnswerText when unrecognized.
func (a Answer) TextOrFallback() string {
	if a.Kind == AnswerText {
		return a.Text
	}
	return FallbackAnswerText
}

func answerText(raw json.RawMessage, depth int) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || depth > 3 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		for _, field := range answerFields {
			if v, ok := obj[field]; ok {
				if text, ok := answerText(v, depth+1); ok {
					return text, true
				}
			}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) != 1 {
			return "", false
		}
		return answerText(items[0], depth+1)
	}
	return "", false
}
