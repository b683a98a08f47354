package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrBotMessageNotFound  = errors.New("bot message not found")
	ErrNoPrecedingQuestion = errors.New("no preceding question found")
	ErrInvalidVote         = errors.New("action must be either 'upvote' or 'downvote'")
)

// Thread is one conversation. Chats is append-ordered and canonical; Version guards
// concurrent writers.
type Thread struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"userId"`
	ExternalID string     `gorm:"column:thread_id;not null;uniqueIndex" json:"thread_id"`
	Title      string     `gorm:"column:title;not null" json:"title"`
	Category   string     `gorm:"column:category" json:"category,omitempty"`
	Mode       string     `gorm:"column:mode;index" json:"mode"`
	Chats      Transcript `gorm:"column:chats;type:jsonb;not null" json:"chats"`
	Version    int64      `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt  time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (Thread) TableName() string { return "chat_thread" }

func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ExternalID == "" {
		t.ExternalID = uuid.NewString()
	}
	if t.Chats == nil {
		t.Chats = Transcript{}
	}
	return nil
}

// RegenerateSource resolves the bot message to regenerate and the question that produced it.
func (t *Thread) RegenerateSource(botID string) (*BotMessage, *UserMessage, error) {
	bot, idx := t.Chats.Bot(botID)
	if bot == nil {
		return nil, nil, ErrBotMessageNotFound
	}
	q := t.Chats.PrecedingUser(idx)
	if q == nil {
		return nil, nil, ErrNoPrecedingQuestion
	}
	return bot, q, nil
}

// Vote records userID's vote on a bot message. A user holds at most one vote per message;
// repeating the same vote is a no-op.
func (t *Thread) Vote(messageID, userID, action string, now time.Time) error {
	bot, _ := t.Chats.Bot(messageID)
	if bot == nil {
		return ErrBotMessageNotFound
	}
	without := func(vs []Vote) []Vote {
		out := vs[:0:0]
		for _, v := range vs {
			if v.UserID != userID {
				out = append(out, v)
			}
		}
		return out
	}
	has := func(vs []Vote) bool {
		for _, v := range vs {
			if v.UserID == userID {
				return true
			}
		}
		return false
	}
	switch action {
	case "upvote":
		bot.Downvotes = without(bot.Downvotes)
		if !has(bot.Upvotes) {
			bot.Upvotes = append(bot.Upvotes, Vote{UserID: userID, CreatedAt: now})
		}
	case "downvote":
		bot.Upvotes = without(bot.Upvotes)
		if !has(bot.Downvotes) {
			bot.Downvotes = append(bot.Downvotes, Vote{UserID: userID, CreatedAt: now})
		}
	default:
		return ErrInvalidVote
	}
	return nil
}
