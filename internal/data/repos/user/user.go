package user

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/domain/user"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type UserRepo interface {
	Create(dbc dbctx.Context, u *user.User) (*user.User, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*user.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*user.User, error)
	TouchLastActive(dbc dbctx.Context, id uuid.UUID, at time.Time) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, log *logger.Logger) UserRepo {
	return &userRepo{db: db, log: log.With("repo", "UserRepo")}
}

func (r *userRepo) Create(dbc dbctx.Context, u *user.User) (*user.User, error) {
	if u == nil {
		return nil, fmt.Errorf("missing user")
	}
	if err := dbc.DB(r.db).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*user.User, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	return r.take(dbc, "id = ?", id)
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, pkgerrors.ErrNotFound
	}
	return r.take(dbc, "email = ?", email)
}

func (r *userRepo) take(dbc dbctx.Context, query string, arg interface{}) (*user.User, error) {
	var out user.User
	err := dbc.DB(r.db).Where(query, arg).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) TouchLastActive(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	return dbc.DB(r.db).
		Model(&user.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_active_at": at, "updated_at": at}).Error
}
