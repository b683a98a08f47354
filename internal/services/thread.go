package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/apierr"
	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

const maxSaveAttempts = 3

var errInvalidThreadOrUser = apierr.BadRequest("invalid_thread_or_user", "Invalid user ID or thread ID.")

type CreateThreadInput struct {
	Title    string
	Category string
	Mode     string
}

type VoteInput struct {
	ThreadID  string
	MessageID string
	Action    string
	Mode      string
}

type ThreadPage struct {
	Threads    []*chat.Thread
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

type ThreadService interface {
	CreateThread(ctx context.Context, in CreateThreadInput) (*chat.Thread, error)
	ListThreads(ctx context.Context, mode string, page, limit int) (*ThreadPage, error)
	GetChatHistory(ctx context.Context, threadID string) (*chat.Thread, error)
	AddVote(ctx context.Context, in VoteInput) (*chat.BotMessage, error)
}

type threadService struct {
	log     *logger.Logger
	threads chatrepo.ThreadRepo
	now     func() time.Time
}

func NewThreadService(log *logger.Logger, threads chatrepo.ThreadRepo) ThreadService {
	return &threadService{
		log:     log.With("service", "ThreadService"),
		threads: threads,
		now:     time.Now,
	}
}

func (s *threadService) CreateThread(ctx context.Context, in CreateThreadInput) (*chat.Thread, error) {
	id := ctxutil.GetIdentity(ctx)
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apierr.BadRequest("invalid_request", "title is required")
	}
	mode := strings.TrimSpace(in.Mode)
	if mode == "" {
		return nil, apierr.BadRequest("invalid_request", "mode is required")
	}
	t, err := s.threads.Create(dbctx.Context{Ctx: ctx}, &chat.Thread{
		UserID:   id.UserID,
		Title:    title,
		Category: strings.TrimSpace(in.Category),
		Mode:     mode,
		Chats:    chat.Transcript{},
	})
	if err != nil {
		return nil, apierr.Internal("thread_create_failed", fmt.Errorf("create thread: %w", err))
	}
	s.log.Debug("Thread created", "thread_id", t.ExternalID, "user_id", id.UserID)
	return t, nil
}

func (s *threadService) ListThreads(ctx context.Context, mode string, page, limit int) (*ThreadPage, error) {
	id := ctxutil.GetIdentity(ctx)
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
	}
	if strings.TrimSpace(mode) == "" {
		return nil, apierr.BadRequest("invalid_request", "Mode is required.")
	}
	if page < 0 {
		return nil, apierr.BadRequest("invalid_request", "Invalid page number.")
	}
	if limit < 0 {
		return nil, apierr.BadRequest("invalid_request", "Invalid limit value.")
	}
	page, limit = chatrepo.NormalizePage(page, limit)
	threads, total, err := s.threads.ListByUser(dbctx.Context{Ctx: ctx}, id.UserID, mode, page, limit)
	if err != nil {
		return nil, apierr.Internal("thread_list_failed", fmt.Errorf("list threads: %w", err))
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if total > 0 && page > totalPages {
		return nil, apierr.New(http.StatusNotFound, "page_not_found", errors.New("Page not found. Please check the page number."))
	}
	return &ThreadPage{
		Threads:    threads,
		Total:      total,
		Page:       page,
		PageSize:   limit,
		TotalPages: totalPages,
	}, nil
}

func (s *threadService) GetChatHistory(ctx context.Context, threadID string) (*chat.Thread, error) {
	id := ctxutil.GetIdentity(ctx)
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
	}
	t, err := s.loadOwned(dbctx.Context{Ctx: ctx}, id, threadID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *threadService) AddVote(ctx context.Context, in VoteInput) (*chat.BotMessage, error) {
	id := ctxutil.GetIdentity(ctx)
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return nil, apierr.BadRequest("invalid_request", "messageId is required")
	}
	dbc := dbctx.Context{Ctx: ctx}
	t, err := s.loadOwned(dbc, id, in.ThreadID)
	if err != nil {
		return nil, err
	}

	uid := id.UserID.String()
	apply := func(t *chat.Thread) error {
		if m := strings.TrimSpace(in.Mode); m != "" {
			t.Mode = m
		}
		return t.Vote(in.MessageID, uid, in.Action, s.now().UTC())
	}
	if err := saveWithRetry(dbc, s.threads, t, apply); err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidVote):
			return nil, apierr.BadRequest("invalid_vote", err.Error())
		case errors.Is(err, chat.ErrBotMessageNotFound):
			return nil, apierr.BadRequest("bot_message_not_found", "Bot message not found.")
		default:
			return nil, apierr.Internal("vote_failed", fmt.Errorf("save vote: %w", err))
		}
	}
	bot, _ := t.Chats.Bot(in.MessageID)
	return bot, nil
}

func (s *threadService) loadOwned(dbc dbctx.Context, id *ctxutil.Identity, threadID string) (*chat.Thread, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errInvalidThreadOrUser
	}
	t, err := s.threads.GetByExternalID(dbc, threadID)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, errInvalidThreadOrUser
	}
	if err != nil {
		return nil, apierr.Internal("thread_load_failed", fmt.Errorf("load thread: %w", err))
	}
	if t.UserID != id.UserID {
		return nil, errInvalidThreadOrUser
	}
	return t, nil
}

// saveWithRetry applies fn to t and saves it. On a version conflict the
// thread is reloaded and fn applied again. fn must be idempotent. On success
// t holds the saved state.
func saveWithRetry(dbc dbctx.Context, repo chatrepo.ThreadRepo, t *chat.Thread, fn func(*chat.Thread) error) error {
	cur := t
	for attempt := 1; ; attempt++ {
		work := *cur
		work.Chats = cur.Chats.Clone()
		if err := fn(&work); err != nil {
			return err
		}
		err := repo.Save(dbc, &work)
		if err == nil {
			*t = work
			return nil
		}
		if !errors.Is(err, pkgerrors.ErrConflict) || attempt >= maxSaveAttempts {
			return err
		}
		fresh, lerr := repo.GetByExternalID(dbc, cur.ExternalID)
		if lerr != nil {
			return fmt.Errorf("reload after conflict: %w", lerr)
		}
		cur = fresh
	}
}
