package jsonstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(s *Scanner, chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		for _, r := range s.Feed(c) {
			b.WriteString(r.Text)
		}
	}
	return b.String()
}

func TestScannerRevealsResponseAcrossChunks(t *testing.T) {
	s := NewScanner()
	first := s.Feed(`{"response":"Hel`)
	require.Len(t, first, 1)
	assert.Equal(t, "response", first[0].Path)
	assert.Equal(t, "Hel", first[0].Text)

	second := s.Feed(`lo","followupQuestions":["x"]}`)
	require.Len(t, second, 1)
	assert.Equal(t, "lo", second[0].Text)
	assert.True(t, s.Done())
}

func TestScannerUnescapes(t *testing.T) {
	s := NewScanner()
	got := feedAll(s, `{"response":"line1\nline2 \"quoted\" back\\slash tab\t"}`)
	assert.Equal(t, "line1\nline2 \"quoted\" back\\slash tab\t", got)
}

func TestScannerEscapeSplitAcrossChunks(t *testing.T) {
	s := NewScanner()
	got := feedAll(s, `{"response":"a\`, `"b\`, `n`, `c\u00`, `e9d"}`)
	assert.Equal(t, "a\"b\ncéd", got)
}

func TestScannerSurrogatePair(t *testing.T) {
	s := NewScanner()
	got := feedAll(s, `{"response":"hi \ud83d`, `\ude00!"}`)
	assert.Equal(t, "hi 😀!", got)
}

func TestScannerUnpairedSurrogate(t *testing.T) {
	s := NewScanner()
	got := feedAll(s, `{"response":"x\ud83dy"}`)
	assert.Equal(t, "x�y", got)
}

func TestScannerMultibyteSplitAcrossChunks(t *testing.T) {
	s := NewScanner()
	raw := `{"response":"héllo"}`
	idx := strings.Index(raw, "é") + 1 // split inside the two-byte sequence
	first := s.Feed(raw[:idx])
	require.Len(t, first, 1)
	assert.Equal(t, "h", first[0].Text)
	got := feedAll(s, raw[idx:])
	assert.Equal(t, "éllo", got)
}

func TestScannerNonASCIIFedByteByByte(t *testing.T) {
	raw := `{"response":"नमस्ते, ça va? 😀 \\u00e9 \u00e9"}`
	want := "नमस्ते, ça va? 😀 \\u00e9 é"

	s := NewScanner()
	chunks := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		chunks = append(chunks, raw[i:i+1])
	}
	assert.Equal(t, want, feedAll(s, chunks...))

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, want, env.Response)
}

func TestScannerNestedMainContent(t *testing.T) {
	s := NewScanner()
	got := feedAll(s,
		"```json\n",
		`{"scratchpadText":"think \"hard\"","response":{"mainC`,
		`ontent":"Breathe {slowly}, ok?","followupQuestions":["a","b"]}}`,
		"\n```",
	)
	assert.Equal(t, "Breathe {slowly}, ok?", got)
}

func TestScannerIgnoresOtherFields(t *testing.T) {
	s := NewScanner()
	got := feedAll(s, `{"meta":{"response":"no"},"list":["response"],"n":12,"ok":true,"response":"yes"}`)
	assert.Equal(t, "yes", got)
}

func TestScannerStopsAfterTopLevelObject(t *testing.T) {
	s := NewScanner()
	got := feedAll(s, `{"response":"one"} {"response":"two"}`)
	assert.Equal(t, "one", got)
}

func TestParseEnvelope(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		response  string
		followups []string
		scratch   string
	}{
		{
			name:      "plain",
			raw:       `{"response":"Hi","followupQuestions":["How are you?"]}`,
			response:  "Hi",
			followups: []string{"How are you?"},
		},
		{
			name:      "nested",
			raw:       `{"response":{"mainContent":"Deep","followupQuestions":["q1"]},"scratchpadText":"notes"}`,
			response:  "Deep",
			followups: []string{"q1"},
			scratch:   "notes",
		},
		{
			name:      "fenced",
			raw:       "```json\n{\"response\":\"Fenced\"}\n```",
			response:  "Fenced",
			followups: []string{},
		},
		{
			name:      "repaired",
			raw:       `{"response":"Truncated","followupQuestions":["a"]`,
			response:  "Truncated",
			followups: []string{"a"},
		},
		{
			name:      "not json",
			raw:       "just text",
			response:  "just text",
			followups: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ParseEnvelope(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.response, env.Response)
			assert.Equal(t, tc.followups, env.FollowupQuestions)
			assert.Equal(t, tc.scratch, env.Scratchpad)
		})
	}
}

func TestParseEnvelopeEmpty(t *testing.T) {
	_, err := ParseEnvelope("  \n")
	assert.ErrorIs(t, err, ErrEmptyEnvelope)
}
