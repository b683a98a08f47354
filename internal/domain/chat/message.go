package chat

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

type Kind string

const (
	KindUser Kind = "user"
	KindBot  Kind = "bot"
)

// Message is one entry of a thread transcript. The only implementations are
// *UserMessage and *BotMessage.
type Message interface {
	MessageID() string
	Kind() Kind
	isMessage()
}

type UserMessage struct {
	ID        string    `json:"_id"`
	Text      string    `json:"message"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *UserMessage) MessageID() string { return m.ID }
func (m *UserMessage) Kind() Kind        { return KindUser }
func (*UserMessage) isMessage()          {}

type Scratchpad struct {
	ID   string `json:"scratchpad_id" bson:"scratchpad_id"`
	Text string `json:"scratchpadText" bson:"scratchpadText"`
}

type Vote struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type BotMessage struct {
	ID                string      `json:"_id"`
	Response          string      `json:"response"`
	FollowupQuestions []string    `json:"followup_questions"`
	Avatar            string      `json:"avatar,omitempty"`
	Scratchpad        *Scratchpad `json:"scratchpad,omitempty"`
	Upvotes           []Vote      `json:"upvotes,omitempty"`
	Downvotes         []Vote      `json:"downvotes,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (m *BotMessage) MessageID() string { return m.ID }
func (m *BotMessage) Kind() Kind        { return KindBot }
func (*BotMessage) isMessage()          {}

// MessageRecord is the flat persisted and wire form of a Message.
type MessageRecord struct {
	Type              Kind        `json:"type" bson:"type"`
	ID                string      `json:"_id" bson:"_id"`
	Message           string      `json:"message,omitempty" bson:"message,omitempty"`
	Response          string      `json:"response,omitempty" bson:"response,omitempty"`
	FollowupQuestions []string    `json:"followup_questions,omitempty" bson:"followup_questions,omitempty"`
	Avatar            string      `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Scratchpad        *Scratchpad `json:"scratchpad,omitempty" bson:"scratchpad,omitempty"`
	Upvotes           []Vote      `json:"upvotes,omitempty" bson:"upvotes,omitempty"`
	Downvotes         []Vote      `json:"downvotes,omitempty" bson:"downvotes,omitempty"`
	CreatedAt         time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" bson:"updated_at"`
}

// userRecord and botRecord are the kind-specific encodings of a MessageRecord.
// Every field a client reads for that kind is always present.
type userRecord struct {
	Type      Kind      `json:"type" bson:"type"`
	ID        string    `json:"_id" bson:"_id"`
	Message   string    `json:"message" bson:"message"`
	Avatar    string    `json:"avatar,omitempty" bson:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

type botRecord struct {
	Type              Kind        `json:"type" bson:"type"`
	ID                string      `json:"_id" bson:"_id"`
	Response          string      `json:"response" bson:"response"`
	FollowupQuestions []string    `json:"followup_questions" bson:"followup_questions"`
	Avatar            string      `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Scratchpad        *Scratchpad `json:"scratchpad,omitempty" bson:"scratchpad,omitempty"`
	Upvotes           []Vote      `json:"upvotes" bson:"upvotes"`
	Downvotes         []Vote      `json:"downvotes" bson:"downvotes"`
	CreatedAt         time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" bson:"updated_at"`
}

// plainRecord drops the custom marshalers.
type plainRecord MessageRecord

func (r MessageRecord) shape() any {
	switch r.Type {
	case KindUser:
		return userRecord{
			Type:      r.Type,
			ID:        r.ID,
			Message:   r.Message,
			Avatar:    r.Avatar,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		}
	case KindBot:
		return botRecord{
			Type:              r.Type,
			ID:                r.ID,
			Response:          r.Response,
			FollowupQuestions: nonNil(r.FollowupQuestions),
			Avatar:            r.Avatar,
			Scratchpad:        r.Scratchpad,
			Upvotes:           nonNil(r.Upvotes),
			Downvotes:         nonNil(r.Downvotes),
			CreatedAt:         r.CreatedAt,
			UpdatedAt:         r.UpdatedAt,
		}
	default:
		return plainRecord(r)
	}
}

func (r MessageRecord) MarshalJSON() ([]byte, error) { return json.Marshal(r.shape()) }

func (r MessageRecord) MarshalBSON() ([]byte, error) { return bson.Marshal(r.shape()) }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func ToRecord(m Message) MessageRecord {
	switch v := m.(type) {
	case *UserMessage:
		return MessageRecord{
			Type:      KindUser,
			ID:        v.ID,
			Message:   v.Text,
			Avatar:    v.Avatar,
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		}
	case *BotMessage:
		return MessageRecord{
			Type:              KindBot,
			ID:                v.ID,
			Response:          v.Response,
			FollowupQuestions: nonNil(v.FollowupQuestions),
			Avatar:            v.Avatar,
			Scratchpad:        v.Scratchpad,
			Upvotes:           v.Upvotes,
			Downvotes:         v.Downvotes,
			CreatedAt:         v.CreatedAt,
			UpdatedAt:         v.UpdatedAt,
		}
	default:
		return MessageRecord{}
	}
}

// Decode converts a record back into its variant. Unknown kinds are an error.
func (r MessageRecord) Decode() (Message, error) {
	switch r.Type {
	case KindUser:
		return &UserMessage{
			ID:        r.ID,
			Text:      r.Message,
			Avatar:    r.Avatar,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		}, nil
	case KindBot:
		return &BotMessage{
			ID:                r.ID,
			Response:          r.Response,
			FollowupQuestions: r.FollowupQuestions,
			Avatar:            r.Avatar,
			Scratchpad:        r.Scratchpad,
			Upvotes:           r.Upvotes,
			Downvotes:         r.Downvotes,
			CreatedAt:         r.CreatedAt,
			UpdatedAt:         r.UpdatedAt,
		}, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q (id=%s)", r.Type, r.ID)
	}
}

// Transcript is the ordered message list of a thread, stored as a JSON array of records.
type Transcript []Message

func (t Transcript) Records() []MessageRecord {
	out := make([]MessageRecord, 0, len(t))
	for _, m := range t {
		out = append(out, ToRecord(m))
	}
	return out
}

func TranscriptFromRecords(recs []MessageRecord) (Transcript, error) {
	out := make(Transcript, 0, len(recs))
	for _, r := range recs {
		m, err := r.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Records())
}

func (t *Transcript) UnmarshalJSON(b []byte) error {
	var recs []MessageRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return err
	}
	out, err := TranscriptFromRecords(recs)
	if err != nil {
		return err
	}
	*t = out
	return nil
}

func (t Transcript) Value() (driver.Value, error) {
	b, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Transcript) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*t = Transcript{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("transcript: unsupported scan type %T", value)
	}
	if len(b) == 0 {
		*t = Transcript{}
		return nil
	}
	return t.UnmarshalJSON(b)
}

// IndexOf returns the position of the message with id, or -1.
func (t Transcript) IndexOf(id string) int {
	for i, m := range t {
		if m.MessageID() == id {
			return i
		}
	}
	return -1
}

// Bot returns the bot message with id and its index.
func (t Transcript) Bot(id string) (*BotMessage, int) {
	i := t.IndexOf(id)
	if i < 0 {
		return nil, -1
	}
	b, ok := t[i].(*BotMessage)
	if !ok {
		return nil, -1
	}
	return b, i
}

// PrecedingUser scans backward from before index i for the nearest user message.
func (t Transcript) PrecedingUser(i int) *UserMessage {
	if i > len(t) {
		i = len(t)
	}
	for j := i - 1; j >= 0; j-- {
		if u, ok := t[j].(*UserMessage); ok {
			return u
		}
	}
	return nil
}

// Clone copies the slice and every message so the copy can be mutated independently.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, 0, len(t))
	for _, m := range t {
		switch v := m.(type) {
		case *UserMessage:
			c := *v
			out = append(out, &c)
		case *BotMessage:
			c := *v
			c.FollowupQuestions = append([]string(nil), v.FollowupQuestions...)
			c.Upvotes = append([]Vote(nil), v.Upvotes...)
			c.Downvotes = append([]Vote(nil), v.Downvotes...)
			if v.Scratchpad != nil {
				sp := *v.Scratchpad
				c.Scratchpad = &sp
			}
			out = append(out, &c)
		}
	}
	return out
}
