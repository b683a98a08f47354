package mongostore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	userrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/user"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type userDoc struct {
	ID             string     `bson:"_id"`
	Email          string     `bson:"email"`
	Password       string     `bson:"password"`
	FirstName      string     `bson:"first_name"`
	LastName       string     `bson:"last_name"`
	Phone          string     `bson:"phone,omitempty"`
	Role           string     `bson:"user_type"`
	Country        string     `bson:"country,omitempty"`
	Industry       string     `bson:"industry,omitempty"`
	AreaOfInterest []string   `bson:"area_of_interest,omitempty"`
	LastActiveAt   *time.Time `bson:"last_active_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func (d userDoc) user() (*user.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("user: bad id: %w", err)
	}
	return &user.User{
		ID:             id,
		Email:          d.Email,
		Password:       d.Password,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Phone:          d.Phone,
		Role:           d.Role,
		Country:        d.Country,
		Industry:       d.Industry,
		AreaOfInterest: d.AreaOfInterest,
		LastActiveAt:   d.LastActiveAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

type userRepo struct {
	coll *mongo.Collection
	log  *logger.Logger
}

func (s *Store) UserRepo() userrepo.UserRepo {
	return &userRepo{coll: s.db.Collection(collUsers), log: s.log.With("repo", "UserRepo")}
}

func (r *userRepo) Create(dbc dbctx.Context, u *user.User) (*user.User, error) {
	if u == nil {
		return nil, fmt.Errorf("missing user")
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = user.RoleStudent
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	d := userDoc{
		ID:             u.ID.String(),
		Email:          u.Email,
		Password:       u.Password,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Phone:          u.Phone,
		Role:           u.Role,
		Country:        u.Country,
		Industry:       u.Industry,
		AreaOfInterest: u.AreaOfInterest,
		LastActiveAt:   u.LastActiveAt,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(dbc.Context(), d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("email already registered: %w", pkgerrors.ErrConflict)
		}
		return nil, err
	}
	return u, nil
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*user.User, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	return r.findOne(dbc, bson.M{"_id": id.String()})
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, pkgerrors.ErrNotFound
	}
	return r.findOne(dbc, bson.M{"email": email})
}

func (r *userRepo) findOne(dbc dbctx.Context, filter bson.M) (*user.User, error) {
	var d userDoc
	err := r.coll.FindOne(dbc.Context(), filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.user()
}

func (r *userRepo) TouchLastActive(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	res, err := r.coll.UpdateOne(dbc.Context(),
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"last_active_at": at, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
