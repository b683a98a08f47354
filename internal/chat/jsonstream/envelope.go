package jsonstream

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrEmptyEnvelope = errors.New("empty model output")

// Envelope is the finished model output.
type Envelope struct {
	Response          string
	FollowupQuestions []string
	Scratchpad        string
}

// ParseEnvelope decodes the model's final text. Code fences and surrounding
// prose are tolerated, and malformed JSON is repaired before giving up.
// Output that is not JSON at all becomes the response verbatim.
func ParseEnvelope(raw string) (Envelope, error) {
	text := strings.TrimSpace(stripFence(raw))
	if text == "" {
		return Envelope{}, ErrEmptyEnvelope
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return Envelope{Response: text}, nil
	}
	body := text[start:]
	if end := strings.LastIndexByte(body, '}'); end >= 0 {
		body = body[:end+1]
	}

	var doc map[string]any
	if err := parseLenient(body, &doc); err != nil {
		return Envelope{}, fmt.Errorf("parse model envelope: %w", err)
	}
	return fromDoc(doc), nil
}

func parseLenient(s string, v any) error {
	err := json.UnmarshalFromString(s, v)
	if err == nil {
		return nil
	}
	originalErr := err
	repaired, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return originalErr
	}
	if err := json.UnmarshalFromString(repaired, v); err != nil {
		return originalErr
	}
	return nil
}

func fromDoc(doc map[string]any) Envelope {
	var env Envelope
	switch r := doc["response"].(type) {
	case string:
		env.Response = r
	case map[string]any:
		env.Response, _ = r["mainContent"].(string)
		env.FollowupQuestions = stringList(r["followupQuestions"])
		env.Scratchpad, _ = r["scratchpadText"].(string)
	}
	if top := stringList(doc["followupQuestions"]); len(top) > 0 {
		env.FollowupQuestions = top
	}
	if s, ok := doc["scratchpadText"].(string); ok && s != "" {
		env.Scratchpad = s
	}
	if env.FollowupQuestions == nil {
		env.FollowupQuestions = []string{}
	}
	return env
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "json")
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}
