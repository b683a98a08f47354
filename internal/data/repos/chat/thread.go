package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type ThreadRepo interface {
	Create(dbc dbctx.Context, t *chat.Thread) (*chat.Thread, error)
	GetByExternalID(dbc dbctx.Context, externalID string) (*chat.Thread, error)
	// ListByUser returns one page of threads (without chats) and the total count.
	ListByUser(dbc dbctx.Context, userID uuid.UUID, mode string, page, limit int) ([]*chat.Thread, int64, error)
	// Save writes chats and mode if t.Version still matches; otherwise ErrConflict.
	Save(dbc dbctx.Context, t *chat.Thread) error
}

type threadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThreadRepo(db *gorm.DB, log *logger.Logger) ThreadRepo {
	return &threadRepo{db: db, log: log.With("repo", "ThreadRepo")}
}

func (r *threadRepo) Create(dbc dbctx.Context, t *chat.Thread) (*chat.Thread, error) {
	if t == nil {
		return nil, fmt.Errorf("missing thread")
	}
	if t.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *threadRepo) GetByExternalID(dbc dbctx.Context, externalID string) (*chat.Thread, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, pkgerrors.ErrNotFound
	}
	var out chat.Thread
	err := dbc.DB(r.db).Where("thread_id = ?", externalID).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *threadRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, mode string, page, limit int) ([]*chat.Thread, int64, error) {
	if userID == uuid.Nil {
		return nil, 0, fmt.Errorf("missing user_id")
	}
	page, limit = NormalizePage(page, limit)

	q := dbc.DB(r.db).Model(&chat.Thread{}).Where("user_id = ?", userID)
	if mode = strings.TrimSpace(mode); mode != "" {
		q = q.Where("mode = ?", mode)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*chat.Thread
	if err := q.
		Select("id", "user_id", "thread_id", "title", "category", "mode", "version", "created_at", "updated_at").
		Order("updated_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *threadRepo) Save(dbc dbctx.Context, t *chat.Thread) error {
	if t == nil || t.ID == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&chat.Thread{}).
		Where("id = ? AND version = ?", t.ID, t.Version).
		Updates(map[string]interface{}{
			"chats":      t.Chats,
			"mode":       t.Mode,
			"version":    t.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrConflict
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// NormalizePage clamps paging input to page>=1 and 1<=limit<=100 (default 10).
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
