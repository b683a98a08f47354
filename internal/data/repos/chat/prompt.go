package chat

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type PromptRepo interface {
	// Latest returns the current system prompt or ErrNotFound.
	Latest(dbc dbctx.Context) (*chat.PromptText, error)
	Put(dbc dbctx.Context, prompt string) (*chat.PromptText, error)
}

type promptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPromptRepo(db *gorm.DB, log *logger.Logger) PromptRepo {
	return &promptRepo{db: db, log: log.With("repo", "PromptRepo")}
}

func (r *promptRepo) Latest(dbc dbctx.Context) (*chat.PromptText, error) {
	var out chat.PromptText
	err := dbc.DB(r.db).Order("updated_at DESC").Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *promptRepo) Put(dbc dbctx.Context, prompt string) (*chat.PromptText, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("empty prompt")
	}
	row := &chat.PromptText{Prompt: prompt}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
