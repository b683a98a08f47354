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

type threadDoc struct {
	ID        string               `bson:"_id"`
	UserID    string               `bson:"userId"`
	ThreadID  string               `bson:"thread_id"`
	Title     string               `bson:"title"`
	Category  string               `bson:"category,omitempty"`
	Mode      string               `bson:"mode"`
	Chats     []chat.MessageRecord `bson:"chats"`
	Version   int64                `bson:"version"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func toThreadDoc(t *chat.Thread) threadDoc {
	return threadDoc{
		ID:        t.ID.String(),
		UserID:    t.UserID.String(),
		ThreadID:  t.ExternalID,
		Title:     t.Title,
		Category:  t.Category,
		Mode:      t.Mode,
		Chats:     t.Chats.Records(),
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func (d threadDoc) thread() (*chat.Thread, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("thread %s: bad id: %w", d.ThreadID, err)
	}
	uid, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("thread %s: bad userId: %w", d.ThreadID, err)
	}
	chats, err := chat.TranscriptFromRecords(d.Chats)
	if err != nil {
		return nil, fmt.Errorf("thread %s: %w", d.ThreadID, err)
	}
	return &chat.Thread{
		ID:         id,
		UserID:     uid,
		ExternalID: d.ThreadID,
		Title:      d.Title,
		Category:   d.Category,
		Mode:       d.Mode,
		Chats:      chats,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}, nil
}

type threadRepo struct {
	coll *mongo.Collection
	log  *logger.Logger
}

func (s *Store) ThreadRepo() chatrepo.ThreadRepo {
	return &threadRepo{coll: s.db.Collection(collThreads), log: s.log.With("repo", "ThreadRepo")}
}

func (r *threadRepo) Create(dbc dbctx.Context, t *chat.Thread) (*chat.Thread, error) {
	if t == nil {
		return nil, fmt.Errorf("missing thread")
	}
	if t.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ExternalID == "" {
		t.ExternalID = uuid.NewString()
	}
	if t.Chats == nil {
		t.Chats = chat.Transcript{}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if _, err := r.coll.InsertOne(dbc.Context(), toThreadDoc(t)); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *threadRepo) GetByExternalID(dbc dbctx.Context, externalID string) (*chat.Thread, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, pkgerrors.ErrNotFound
	}
	var d threadDoc
	err := r.coll.FindOne(dbc.Context(), bson.M{"thread_id": externalID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.thread()
}

func (r *threadRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, mode string, page, limit int) ([]*chat.Thread, int64, error) {
	if userID == uuid.Nil {
		return nil, 0, fmt.Errorf("missing user_id")
	}
	page, limit = chatrepo.NormalizePage(page, limit)
	filter := bson.M{"userId": userID.String()}
	if mode = strings.TrimSpace(mode); mode != "" {
		filter["mode"] = mode
	}

	ctx := dbc.Context()
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"chats": 0})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []threadDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]*chat.Thread, 0, len(docs))
	for _, d := range docs {
		t, err := d.thread()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, nil
}

func (r *threadRepo) Save(dbc dbctx.Context, t *chat.Thread) error {
	if t == nil || t.ID == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	now := time.Now().UTC()
	res, err := r.coll.UpdateOne(dbc.Context(),
		bson.M{"_id": t.ID.String(), "version": t.Version},
		bson.M{"$set": bson.M{
			"chats":      t.Chats.Records(),
			"mode":       t.Mode,
			"version":    t.Version + 1,
			"updated_at": now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return pkgerrors.ErrConflict
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}
