package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

func TestThreadDocRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	in := &chat.Thread{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		ExternalID: "thread_x",
		Title:      "Sleep",
		Mode:       "live",
		Version:    4,
		Chats: chat.Transcript{
			&chat.UserMessage{ID: "u1", Text: "hi", CreatedAt: now, UpdatedAt: now},
			&chat.BotMessage{ID: "b1", Response: "hey", FollowupQuestions: []string{}, CreatedAt: now, UpdatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	out, err := toThreadDoc(in).thread()
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Version, out.Version)
	require.Len(t, out.Chats, 2)
	bot, _ := out.Chats.Bot("b1")
	require.NotNil(t, bot)
	assert.Equal(t, "hey", bot.Response)
}

func TestThreadDocRejectsUnknownKind(t *testing.T) {
	d := threadDoc{
		ID:       uuid.NewString(),
		UserID:   uuid.NewString(),
		ThreadID: "t",
		Chats:    []chat.MessageRecord{{Type: "system", ID: "s1"}},
	}
	_, err := d.thread()
	assert.Error(t, err)
}

func TestStoreIntegration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, logger.NewNop(), Config{URI: uri, Database: "mindbridge_test_" + uuid.NewString()[:8]})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	dbc := dbctx.Context{Ctx: ctx}

	u, err := s.UserRepo().Create(dbc, &user.User{Email: "Mongo@Example.com", Password: "x"})
	require.NoError(t, err)
	_, err = s.UserRepo().Create(dbc, &user.User{Email: "mongo@example.com", Password: "y"})
	assert.True(t, errors.Is(err, pkgerrors.ErrConflict))

	threads := s.ThreadRepo()
	th, err := threads.Create(dbc, &chat.Thread{UserID: u.ID, Title: "t", Mode: "live"})
	require.NoError(t, err)

	got, err := threads.GetByExternalID(dbc, th.ExternalID)
	require.NoError(t, err)
	got.Chats = append(got.Chats, &chat.UserMessage{ID: "u1", Text: "hello"})
	require.NoError(t, threads.Save(dbc, got))

	stale := *th
	assert.ErrorIs(t, threads.Save(dbc, &stale), pkgerrors.ErrConflict)

	list, total, err := threads.ListByUser(dbc, u.ID, "live", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Chats)

	_, err = s.PromptRepo().Latest(dbc)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	_, err = s.PromptRepo().Put(dbc, "be kind")
	require.NoError(t, err)
	p, err := s.PromptRepo().Latest(dbc)
	require.NoError(t, err)
	assert.Equal(t, "be kind", p.Prompt)
}
