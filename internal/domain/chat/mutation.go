package chat

import "slices"

type MutationKind string

const (
	// MutationRegenerate rewrites an existing bot message in place.
	MutationRegenerate MutationKind = "regenerate"
	// MutationBotOnly appends just the bot message (structured form turns).
	MutationBotOnly MutationKind = "bot_only"
	// MutationExchange appends the user message followed by the bot message.
	MutationExchange MutationKind = "exchange"
)

// TurnMutation is the change one completed turn makes to its thread.
type TurnMutation struct {
	Kind MutationKind `json:"kind"`
	User *UserMessage `json:"user,omitempty"`
	Bot  BotMessage   `json:"bot"`
	Mode string       `json:"mode,omitempty"`
}

// Apply mutates t and reports whether anything changed. Applying the same
// mutation twice leaves the thread as after the first application.
func (m TurnMutation) Apply(t *Thread) bool {
	changed := false
	if m.Mode != "" && t.Mode != m.Mode {
		t.Mode = m.Mode
		changed = true
	}

	bot := m.Bot
	switch m.Kind {
	case MutationRegenerate:
		existing, _ := t.Chats.Bot(bot.ID)
		if existing == nil {
			t.Chats = append(t.Chats, &bot)
			return true
		}
		if sameContent(existing, &bot) {
			return changed
		}
		existing.Response = bot.Response
		existing.FollowupQuestions = append([]string(nil), bot.FollowupQuestions...)
		existing.Scratchpad = bot.Scratchpad
		if bot.Avatar != "" {
			existing.Avatar = bot.Avatar
		}
		existing.UpdatedAt = bot.UpdatedAt
		return true

	case MutationBotOnly:
		if t.Chats.IndexOf(bot.ID) >= 0 {
			return changed
		}
		t.Chats = append(t.Chats, &bot)
		return true

	default:
		if t.Chats.IndexOf(bot.ID) >= 0 {
			return changed
		}
		if m.User != nil && t.Chats.IndexOf(m.User.ID) < 0 {
			u := *m.User
			t.Chats = append(t.Chats, &u)
		}
		t.Chats = append(t.Chats, &bot)
		return true
	}
}

func sameContent(a, b *BotMessage) bool {
	if a.Response != b.Response || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if !slices.Equal(a.FollowupQuestions, b.FollowupQuestions) {
		return false
	}
	switch {
	case a.Scratchpad == nil && b.Scratchpad == nil:
		return true
	case a.Scratchpad == nil || b.Scratchpad == nil:
		return false
	default:
		return *a.Scratchpad == *b.Scratchpad
	}
}
