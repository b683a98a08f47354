package prompt

import (
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
)

const DefaultHistoryWindow = 20

// Turn is one history entry as the model sees it.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Window projects the last n user/bot messages of a transcript, oldest first.
func Window(t chat.Transcript, n int) []Turn {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	out := make([]Turn, 0, min(n, len(t)))
	for _, m := range t {
		switch v := m.(type) {
		case *chat.UserMessage:
			out = append(out, Turn{Role: string(chat.KindUser), Content: v.Text})
		case *chat.BotMessage:
			out = append(out, Turn{Role: string(chat.KindBot), Content: v.Response})
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
