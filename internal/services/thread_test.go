package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	"github.com/yungbote/mindbridge-backend/internal/data/repos/testutil"
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
)

func TestThreadServiceLifecycle(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	u := testutil.SeedUser(t, context.Background(), db, "threads@example.com")
	ctx := ctxutil.WithIdentity(context.Background(), &ctxutil.Identity{UserID: u.ID, Email: u.Email})
	svc := NewThreadService(log, chatrepo.NewThreadRepo(db, log))

	_, err := svc.CreateThread(ctx, CreateThreadInput{Title: " ", Mode: "live"})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_request")

	created, err := svc.CreateThread(ctx, CreateThreadInput{Title: "Exam nerves", Category: "school", Mode: "live"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ExternalID)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateThread(ctx, CreateThreadInput{Title: "more", Mode: "live"})
		require.NoError(t, err)
	}

	page, err := svc.ListThreads(ctx, "live", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Threads, 2)

	_, err = svc.ListThreads(ctx, "live", 5, 2)
	requireAPIError(t, err, http.StatusNotFound, "page_not_found")

	_, err = svc.ListThreads(ctx, "", 1, 2)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_request")

	empty, err := svc.ListThreads(ctx, "test", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Threads)

	history, err := svc.GetChatHistory(ctx, created.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, "Exam nerves", history.Title)

	other := testutil.SeedUser(t, context.Background(), db, "intruder@example.com")
	otherCtx := ctxutil.WithIdentity(context.Background(), &ctxutil.Identity{UserID: other.ID})
	_, err = svc.GetChatHistory(otherCtx, created.ExternalID)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_thread_or_user")
}

func TestThreadServiceAddVote(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	u := testutil.SeedUser(t, context.Background(), db, "voter@example.com")
	ctx := ctxutil.WithIdentity(context.Background(), &ctxutil.Identity{UserID: u.ID})
	th := testutil.SeedThread(t, context.Background(), db, u.ID, chat.Transcript{
		&chat.UserMessage{ID: "u1", Text: "hi"},
		&chat.BotMessage{ID: "b1", Response: "hello"},
	})
	svc := NewThreadService(log, chatrepo.NewThreadRepo(db, log))

	bot, err := svc.AddVote(ctx, VoteInput{ThreadID: th.ExternalID, MessageID: "b1", Action: "upvote"})
	require.NoError(t, err)
	assert.Len(t, bot.Upvotes, 1)

	bot, err = svc.AddVote(ctx, VoteInput{ThreadID: th.ExternalID, MessageID: "b1", Action: "upvote"})
	require.NoError(t, err)
	assert.Len(t, bot.Upvotes, 1, "repeating a vote is a no-op")

	bot, err = svc.AddVote(ctx, VoteInput{ThreadID: th.ExternalID, MessageID: "b1", Action: "downvote"})
	require.NoError(t, err)
	assert.Empty(t, bot.Upvotes)
	assert.Len(t, bot.Downvotes, 1)

	_, err = svc.AddVote(ctx, VoteInput{ThreadID: th.ExternalID, MessageID: "b1", Action: "meh"})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_vote")

	_, err = svc.AddVote(ctx, VoteInput{ThreadID: th.ExternalID, MessageID: "u1", Action: "upvote"})
	requireAPIError(t, err, http.StatusBadRequest, "bot_message_not_found")
}
