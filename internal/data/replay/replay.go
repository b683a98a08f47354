// Package replay remembers completed turns by request nonce so a retried
// request can be finished without calling the model again.
package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
)

const DefaultTTL = 24 * time.Hour

// Entry is the outcome of a completed model call, recorded before the thread is saved.
type Entry struct {
	ThreadID  string            `json:"thread_id"`
	Mutation  chat.TurnMutation `json:"mutation"`
	CreatedAt time.Time         `json:"created_at"`
}

type Store interface {
	// Get returns (nil, nil) when nothing is recorded for the nonce.
	Get(ctx context.Context, userID uuid.UUID, nonce string) (*Entry, error)
	Put(ctx context.Context, userID uuid.UUID, nonce string, e Entry) error
}

func Key(userID uuid.UUID, nonce string) string {
	return fmt.Sprintf("turn:%s:%s", userID, strings.TrimSpace(nonce))
}
