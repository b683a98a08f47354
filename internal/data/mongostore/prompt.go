package mongostore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type promptDoc struct {
	ID        string    `bson:"_id"`
	Prompt    string    `bson:"prompt"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type promptRepo struct {
	coll *mongo.Collection
	log  *logger.Logger
}

func (s *Store) PromptRepo() chatrepo.PromptRepo {
	return &promptRepo{coll: s.db.Collection(collPrompts), log: s.log.With("repo", "PromptRepo")}
}

func (r *promptRepo) Latest(dbc dbctx.Context) (*chat.PromptText, error) {
	var d promptDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	err := r.coll.FindOne(dbc.Context(), bson.M{}, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(d.ID)
	if err != nil {
		id = uuid.Nil
	}
	return &chat.PromptText{ID: id, Prompt: d.Prompt, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}, nil
}

func (r *promptRepo) Put(dbc dbctx.Context, prompt string) (*chat.PromptText, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("missing prompt")
	}
	now := time.Now().UTC()
	p := &chat.PromptText{ID: uuid.New(), Prompt: prompt, CreatedAt: now, UpdatedAt: now}
	if _, err := r.coll.InsertOne(dbc.Context(), promptDoc{
		ID:        p.ID.String(),
		Prompt:    p.Prompt,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	return p, nil
}
