package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
)

func transcriptOf(n int) chat.Transcript {
	var t chat.Transcript
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			t = append(t, &chat.UserMessage{ID: fmt.Sprintf("u%d", i), Text: fmt.Sprintf("q%d", i)})
		} else {
			t = append(t, &chat.BotMessage{ID: fmt.Sprintf("b%d", i), Response: fmt.Sprintf("r%d", i)})
		}
	}
	return t
}

func TestWindowKeepsLastN(t *testing.T) {
	w := Window(transcriptOf(25), 20)
	require.Len(t, w, 20)
	assert.Equal(t, Turn{Role: "bot", Content: "r5"}, w[0])
	assert.Equal(t, Turn{Role: "user", Content: "q24"}, w[19])
}

func TestWindowShortTranscript(t *testing.T) {
	w := Window(transcriptOf(3), 0)
	require.Len(t, w, 3)
	assert.Equal(t, []Turn{
		{Role: "user", Content: "q0"},
		{Role: "bot", Content: "r1"},
		{Role: "user", Content: "q2"},
	}, w)
	assert.Empty(t, Window(nil, 20))
}

func TestComposePlainQuery(t *testing.T) {
	out, err := Compose(Input{
		Question: "I can't sleep <again>",
		Country:  "India",
		Role:     "Student",
		History:  []Turn{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Student's Country is India.\n"))
	assert.Contains(t, out, "respond in that same language")
	assert.Contains(t, out, "within 1 or 2 lines only")
	assert.Contains(t, out, "<student_query>\nI can't sleep <again>\n</student_query>")
	assert.Contains(t, out, `Array of student conversation history = '[{"role":"user","content":"hi"}]'.`)
	assert.NotContains(t, out, "ANALYSIS TASK")
}

func TestComposeFollowup(t *testing.T) {
	out, err := Compose(Input{Question: "How often?", Answer: "Daily", Role: "teacher"})
	require.NoError(t, err)
	assert.Contains(t, out, "Student follow-up question='How often?' and follow-up answer='Daily'.")
	assert.NotContains(t, out, "<student_query>")
	assert.NotContains(t, out, "within 1 or 2 lines")
	assert.Contains(t, out, "history = '[]'.")
}

func TestComposeAnalysisTakesPriority(t *testing.T) {
	out, err := Compose(Input{
		Question: "ignored",
		Answer:   "ignored too",
		ResponseType: map[string]any{
			"formQuestion": []any{map[string]any{"q": "Mood?", "a": "low"}},
			"result":       "moderate",
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "ANALYSIS TASK:")
	assert.Contains(t, out, `Context: [{"a":"low","q":"Mood?"}] and result : moderate`)
	assert.NotContains(t, out, "follow-up question")
	assert.NotContains(t, out, "<student_query>")
}

func TestCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.Names(), 10)

	p, err := c.Lookup("  Maya ")
	require.NoError(t, err)
	assert.Contains(t, p.Description, "Maya")

	_, err = c.Lookup("zed")
	assert.ErrorIs(t, err, ErrUnknownPersona)

	assert.Equal(t, "sys \n"+p.Description, Instructions("sys", p))
	assert.Equal(t, "sys", Instructions("sys", nil))
}

func TestParseCatalogRejectsDuplicates(t *testing.T) {
	_, err := ParseCatalog([]byte("personas:\n  - name: a\n    description: x\n  - name: A\n    description: y\n"))
	assert.Error(t, err)
}
