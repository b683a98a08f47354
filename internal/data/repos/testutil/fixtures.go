package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *user.User {
	tb.Helper()
	u := &user.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  "pw",
		FirstName: "A",
		LastName:  "B",
		Role:      user.RoleStudent,
		Country:   "India",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedThread(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, chats chat.Transcript) *chat.Thread {
	tb.Helper()
	if chats == nil {
		chats = chat.Transcript{}
	}
	t := &chat.Thread{
		UserID:     userID,
		ExternalID: "thread_" + uuid.NewString(),
		Title:      "Feeling stressed",
		Mode:       "live",
		Chats:      chats,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed thread: %v", err)
	}
	return t
}

func SeedPrompt(tb testing.TB, ctx context.Context, tx *gorm.DB, prompt string) *chat.PromptText {
	tb.Helper()
	p := &chat.PromptText{Prompt: prompt}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed prompt: %v", err)
	}
	return p
}
