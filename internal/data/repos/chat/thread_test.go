package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/mindbridge-backend/internal/data/repos/testutil"
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
)

func TestThreadRepo(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewThreadRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, ctx, db, "threads@example.com")
	created, err := repo.Create(dbc, &chat.Thread{UserID: u.ID, Title: "Exam stress", Mode: "live"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == uuid.Nil || created.ExternalID == "" {
		t.Fatalf("Create: ids not assigned: %+v", created)
	}

	got, err := repo.GetByExternalID(dbc, created.ExternalID)
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got.ID != created.ID || len(got.Chats) != 0 {
		t.Fatalf("GetByExternalID: unexpected %+v", got)
	}

	if _, err := repo.GetByExternalID(dbc, "nope"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("GetByExternalID missing: expected ErrNotFound, got %v", err)
	}

	now := time.Now().UTC()
	got.Chats = append(got.Chats,
		&chat.UserMessage{ID: "u1", Text: "hi", CreatedAt: now, UpdatedAt: now},
		&chat.BotMessage{ID: "b1", Response: "hello", FollowupQuestions: []string{"how?"}, CreatedAt: now, UpdatedAt: now},
	)
	got.Mode = "test"
	if err := repo.Save(dbc, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("Save: version=%d", got.Version)
	}

	reloaded, err := repo.GetByExternalID(dbc, created.ExternalID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Chats) != 2 || reloaded.Mode != "test" {
		t.Fatalf("reload: unexpected %+v", reloaded)
	}
	if b, _ := reloaded.Chats.Bot("b1"); b == nil || b.FollowupQuestions[0] != "how?" {
		t.Fatalf("reload: bot message not decoded: %+v", reloaded.Chats)
	}

	stale := *created
	stale.Version = 0
	if err := repo.Save(dbc, &stale); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("Save stale: expected ErrConflict, got %v", err)
	}
}

func TestThreadRepoListByUser(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewThreadRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, ctx, db, "list@example.com")
	other := testutil.SeedUser(t, ctx, db, "other@example.com")
	for i := 0; i < 3; i++ {
		testutil.SeedThread(t, ctx, db, u.ID, nil)
	}
	testutil.SeedThread(t, ctx, db, other.ID, nil)
	if _, err := repo.Create(dbc, &chat.Thread{UserID: u.ID, Title: "sandbox", Mode: "test"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	page, total, err := repo.ListByUser(dbc, u.ID, "live", 1, 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("ListByUser: total=%d len=%d", total, len(page))
	}
	page2, _, err := repo.ListByUser(dbc, u.ID, "live", 2, 2)
	if err != nil {
		t.Fatalf("ListByUser page 2: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("ListByUser page 2: len=%d", len(page2))
	}
}

func TestPromptRepoLatest(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewPromptRepo(db, testutil.Logger(t))

	if _, err := repo.Latest(dbc); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Latest empty: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Put(dbc, "v1"); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := repo.Put(dbc, "v2"); err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	p, err := repo.Latest(dbc)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if p.Prompt != "v2" {
		t.Fatalf("Latest: got %q", p.Prompt)
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct{ page, limit, wantPage, wantLimit int }{
		{0, 0, 1, 10},
		{3, 500, 3, 100},
		{2, 25, 2, 25},
	}
	for _, tc := range cases {
		p, l := NormalizePage(tc.page, tc.limit)
		if p != tc.wantPage || l != tc.wantLimit {
			t.Fatalf("NormalizePage(%d,%d)=(%d,%d)", tc.page, tc.limit, p, l)
		}
	}
}
