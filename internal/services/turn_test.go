package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/chat/prompt"
	"github.com/yungbote/mindbridge-backend/internal/data/replay"
	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	"github.com/yungbote/mindbridge-backend/internal/data/repos/testutil"
	userrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/user"
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
	"github.com/yungbote/mindbridge-backend/internal/observability"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/mindbridge-backend/internal/platform/apierr"
	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/llm"
	"github.com/yungbote/mindbridge-backend/internal/sse"
)

type fakeProvider struct {
	mu      sync.Mutex
	deltas  []string
	err     error
	calls   int
	lastReq llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) StreamResponse(ctx context.Context, req llm.Request, onDelta func(string) error) (llm.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()

	var b strings.Builder
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return llm.Completion{}, err
		}
		b.WriteString(d)
	}
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: b.String(), Model: "fake-1"}, nil
}

type recordingSink struct {
	events  []sse.Event
	closeOn sse.EventType
}

func (r *recordingSink) Emit(typ sse.EventType, content any) error {
	if r.closeOn != "" && typ == r.closeOn {
		return sse.ErrClosed
	}
	r.events = append(r.events, sse.Event{Type: typ, Content: content})
	return nil
}

func (r *recordingSink) ofType(typ sse.EventType) []sse.Event {
	var out []sse.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingSink) text() string {
	var b strings.Builder
	for _, e := range r.ofType(sse.EventText) {
		b.WriteString(e.Content.(string))
	}
	return b.String()
}

type turnEnv struct {
	db       *gorm.DB
	threads  chatrepo.ThreadRepo
	users    userrepo.UserRepo
	provider *fakeProvider
	replay   *replay.MemoryStore
	metrics  *observability.Metrics
	svc      TurnService
	user     *user.User
	ctx      context.Context
}

func newTurnEnv(t *testing.T, threads func(chatrepo.ThreadRepo) chatrepo.ThreadRepo) *turnEnv {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()

	u := testutil.SeedUser(t, ctx, db, "student@example.com")
	testutil.SeedPrompt(t, ctx, db, "You are a supportive counsellor.")

	catalog, err := prompt.LoadCatalog("")
	require.NoError(t, err)

	env := &turnEnv{
		db:       db,
		threads:  chatrepo.NewThreadRepo(db, log),
		users:    userrepo.NewUserRepo(db, log),
		provider: &fakeProvider{},
		replay:   replay.NewMemoryStore(time.Hour),
		metrics:  observability.NewMetrics(),
		user:     u,
		ctx:      ctxutil.WithIdentity(ctx, &ctxutil.Identity{UserID: u.ID, Email: u.Email}),
	}
	repo := env.threads
	if threads != nil {
		repo = threads(env.threads)
	}
	env.svc = NewTurnService(log, repo, env.users, chatrepo.NewPromptRepo(db, log),
		env.provider, catalog, env.replay, TurnConfig{HistoryWindow: 20, Metrics: env.metrics})
	return env
}

func (e *turnEnv) thread(t *testing.T, chats chat.Transcript) *chat.Thread {
	t.Helper()
	return testutil.SeedThread(t, context.Background(), e.db, e.user.ID, chats)
}

func (e *turnEnv) reload(t *testing.T, th *chat.Thread) *chat.Thread {
	t.Helper()
	got, err := e.threads.GetByExternalID(dbctx.Context{Ctx: context.Background()}, th.ExternalID)
	require.NoError(t, err)
	return got
}

func (e *turnEnv) run(t *testing.T, req TurnRequest, nonce string) *recordingSink {
	t.Helper()
	turn, err := e.svc.Prepare(e.ctx, req, nonce)
	require.NoError(t, err)
	sink := &recordingSink{}
	_ = e.svc.Run(e.ctx, turn, sink)
	return sink
}

func endRecord(t *testing.T, sink *recordingSink) chat.MessageRecord {
	t.Helper()
	ends := sink.ofType(sse.EventEnd)
	require.Len(t, ends, 1)
	rec, ok := ends[0].Content.(chat.MessageRecord)
	require.True(t, ok, "end content is %T", ends[0].Content)
	return rec
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	gotStatus, gotCode := apierr.Classify(err)
	assert.Equal(t, status, gotStatus)
	assert.Equal(t, code, gotCode)
}

func TestTurnExchangeStreamsAndPersists(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"Hel`, `lo \"friend\"\nbye","followupQuestions":["How are you?"]}`}
	th := env.thread(t, nil)

	sink := env.run(t, TurnRequest{ThreadID: th.ExternalID, Question: "I feel anxious", Mode: "test", ResponseType: map[string]any{}}, "")

	assert.Equal(t, "Hello \"friend\"\nbye", sink.text())
	rec := endRecord(t, sink)
	assert.Equal(t, chat.KindBot, rec.Type)
	assert.Equal(t, "Hello \"friend\"\nbye", rec.Response)
	assert.Equal(t, []string{"How are you?"}, rec.FollowupQuestions)
	assert.Empty(t, sink.ofType(sse.EventError))

	got := env.reload(t, th)
	require.Len(t, got.Chats, 2)
	um, ok := got.Chats[0].(*chat.UserMessage)
	require.True(t, ok)
	assert.Equal(t, "I feel anxious", um.Text)
	assert.Equal(t, rec.ID, got.Chats[1].MessageID())
	assert.Equal(t, "test", got.Mode)

	u, err := env.users.GetByID(dbctx.Context{Ctx: context.Background()}, env.user.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.LastActiveAt)

	input := env.provider.lastReq.Input[0].Content
	assert.Contains(t, input, "<student_query>\nI feel anxious\n</student_query>")
	assert.Contains(t, input, "within 1 or 2 lines only")
	assert.Contains(t, env.provider.lastReq.Instructions, "You are a supportive counsellor.")
	assert.Equal(t, 1.0, env.metrics.TurnCount(observability.TurnCompleted))
}

func TestTurnStreamsNonASCII(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{
		"{\"response\":\"caf\xc3",
		"\xa9 \\u00",
		"e9 \u0928\u092e\u0938\u094d\u0924\u0947 \xf0\x9f",
		"\x98\x80\"}",
	}
	th := env.thread(t, nil)

	sink := env.run(t, TurnRequest{ThreadID: th.ExternalID, Question: "hola", Mode: "live", ResponseType: map[string]any{}}, "")

	want := "café é नमस्ते 😀"
	rec := endRecord(t, sink)
	assert.Equal(t, want, sink.text())
	assert.Equal(t, rec.Response, sink.text())
	for _, e := range sink.ofType(sse.EventText) {
		assert.True(t, utf8.ValidString(e.Content.(string)), "text chunk %q", e.Content)
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"followup_questions":[]`)

	got := env.reload(t, th)
	require.Len(t, got.Chats, 2)
	bm, ok := got.Chats[1].(*chat.BotMessage)
	require.True(t, ok)
	assert.Equal(t, want, bm.Response)
}

func TestTurnRegenerateUpdatesInPlace(t *testing.T) {
	env := newTurnEnv(t, nil)
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	th := env.thread(t, chat.Transcript{
		&chat.UserMessage{ID: "u1", Text: "Why can't I focus?", CreatedAt: created, UpdatedAt: created},
		&chat.BotMessage{ID: "b1", Response: "old", FollowupQuestions: []string{"x"}, Upvotes: []chat.Vote{{UserID: "v"}}, CreatedAt: created, UpdatedAt: created},
		&chat.UserMessage{ID: "u2", Text: "thanks", CreatedAt: created, UpdatedAt: created},
	})
	env.provider.deltas = []string{`{"response":{"mainContent":"new answer","followupQuestions":["next?"]},"scratchpadText":"note"}`}

	sink := env.run(t, TurnRequest{ThreadID: th.ExternalID, Regenerate: true, BotID: "b1", Mode: "live", ResponseType: map[string]any{}}, "")

	assert.Equal(t, "new answer", sink.text())
	rec := endRecord(t, sink)
	assert.Equal(t, "b1", rec.ID)
	assert.True(t, rec.CreatedAt.Equal(created))

	got := env.reload(t, th)
	require.Len(t, got.Chats, 3)
	bot, idx := got.Chats.Bot("b1")
	require.NotNil(t, bot)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "new answer", bot.Response)
	assert.Equal(t, []string{"next?"}, bot.FollowupQuestions)
	require.NotNil(t, bot.Scratchpad)
	assert.Equal(t, "note", bot.Scratchpad.Text)
	assert.Len(t, bot.Upvotes, 1)

	assert.Contains(t, env.provider.lastReq.Input[0].Content, "<student_query>\nWhy can't I focus?\n</student_query>")
}

func TestTurnResponseTypeAppendsBotOnly(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"Your score suggests mild stress."}`}
	th := env.thread(t, nil)

	sink := env.run(t, TurnRequest{
		ThreadID:     th.ExternalID,
		Mode:         "live",
		ResponseType: map[string]any{"formQuestion": []any{"Q1"}, "result": "mild"},
	}, "")
	endRecord(t, sink)

	got := env.reload(t, th)
	require.Len(t, got.Chats, 1)
	assert.Equal(t, chat.KindBot, got.Chats[0].Kind())
	assert.Contains(t, env.provider.lastReq.Input[0].Content, "ANALYSIS TASK:")
}

func TestTurnProviderFailureEmitsSingleError(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"par`}
	env.provider.err = &llm.ProviderError{Provider: "fake", Code: "server_error", Message: "upstream exploded"}
	th := env.thread(t, nil)

	sink := env.run(t, TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", ResponseType: map[string]any{}}, "")

	errs := sink.ofType(sse.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "upstream exploded", errs[0].Content)
	assert.Empty(t, sink.ofType(sse.EventEnd))
	assert.Equal(t, sse.EventError, sink.events[len(sink.events)-1].Type)

	got := env.reload(t, th)
	assert.Empty(t, got.Chats)
	assert.Equal(t, th.Version, got.Version)
	assert.Equal(t, 1.0, env.metrics.TurnCount(observability.TurnProviderError))
}

func TestTurnClientDisconnectPersistsNothing(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"a`, `b"}`}
	th := env.thread(t, nil)

	turn, err := env.svc.Prepare(env.ctx, TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", ResponseType: map[string]any{}}, "")
	require.NoError(t, err)
	sink := &recordingSink{closeOn: sse.EventText}
	require.NoError(t, env.svc.Run(env.ctx, turn, sink))

	assert.Empty(t, sink.events)
	assert.Empty(t, env.reload(t, th).Chats)
}

func TestTurnReplaySkipsModel(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"once"}`}
	th := env.thread(t, nil)
	req := TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", ResponseType: map[string]any{}}

	first := endRecord(t, env.run(t, req, "nonce-1"))
	require.Equal(t, 1, env.provider.calls)

	turn, err := env.svc.Prepare(env.ctx, req, "nonce-1")
	require.NoError(t, err)
	assert.True(t, turn.Replayed())
	sink := &recordingSink{}
	require.NoError(t, env.svc.Run(env.ctx, turn, sink))

	second := endRecord(t, sink)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.provider.calls)
	assert.Len(t, env.reload(t, th).Chats, 2)
	assert.Equal(t, 1.0, env.metrics.TurnCount(observability.TurnReplayed))
}

// failingSaveRepo fails the first n saves.
type failingSaveRepo struct {
	chatrepo.ThreadRepo
	failures int
}

func (r *failingSaveRepo) Save(dbc dbctx.Context, t *chat.Thread) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("database unavailable")
	}
	return r.ThreadRepo.Save(dbc, t)
}

func TestTurnPersistenceFailureIsRecoverableByNonce(t *testing.T) {
	var repo *failingSaveRepo
	env := newTurnEnv(t, func(inner chatrepo.ThreadRepo) chatrepo.ThreadRepo {
		repo = &failingSaveRepo{ThreadRepo: inner, failures: 1}
		return repo
	})
	env.provider.deltas = []string{`{"response":"kept"}`}
	th := env.thread(t, nil)
	req := TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", ResponseType: map[string]any{}}

	sink := env.run(t, req, "retry-me")
	errs := sink.ofType(sse.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Content, "retry-me")
	assert.Empty(t, sink.ofType(sse.EventEnd))
	assert.Empty(t, env.reload(t, th).Chats)

	retry := env.run(t, req, "retry-me")
	rec := endRecord(t, retry)
	assert.Equal(t, "kept", rec.Response)
	assert.Equal(t, 1, env.provider.calls)
	assert.Len(t, env.reload(t, th).Chats, 2)
}

// racingRepo lets another writer append to the thread right before the first save.
type racingRepo struct {
	chatrepo.ThreadRepo
	raced bool
}

func (r *racingRepo) Save(dbc dbctx.Context, t *chat.Thread) error {
	if !r.raced {
		r.raced = true
		other, err := r.ThreadRepo.GetByExternalID(dbc, t.ExternalID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		other.Chats = append(other.Chats,
			&chat.UserMessage{ID: "concurrent-u", Text: "other tab", CreatedAt: now, UpdatedAt: now},
			&chat.BotMessage{ID: "concurrent-b", Response: "other answer", CreatedAt: now, UpdatedAt: now},
		)
		if err := r.ThreadRepo.Save(dbc, other); err != nil {
			return err
		}
	}
	return r.ThreadRepo.Save(dbc, t)
}

func TestTurnVersionConflictReappliesMutation(t *testing.T) {
	env := newTurnEnv(t, func(inner chatrepo.ThreadRepo) chatrepo.ThreadRepo {
		return &racingRepo{ThreadRepo: inner}
	})
	env.provider.deltas = []string{`{"response":"mine"}`}
	th := env.thread(t, nil)

	sink := env.run(t, TurnRequest{ThreadID: th.ExternalID, Question: "my question", Mode: "live", ResponseType: map[string]any{}}, "")
	rec := endRecord(t, sink)

	got := env.reload(t, th)
	require.Len(t, got.Chats, 4)
	assert.Equal(t, "concurrent-u", got.Chats[0].MessageID())
	assert.Equal(t, "concurrent-b", got.Chats[1].MessageID())
	assert.Equal(t, rec.ID, got.Chats[3].MessageID())
	assert.EqualValues(t, 2, got.Version)
}

func TestTurnHistoryWindow(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"ok"}`}
	var chats chat.Transcript
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("m%02d", i)
		if i%2 == 0 {
			chats = append(chats, &chat.UserMessage{ID: id, Text: "msg-" + id})
		} else {
			chats = append(chats, &chat.BotMessage{ID: id, Response: "msg-" + id})
		}
	}
	th := env.thread(t, chats)

	endRecord(t, env.run(t, TurnRequest{ThreadID: th.ExternalID, Question: "now", Mode: "live", ResponseType: map[string]any{}}, ""))

	input := env.provider.lastReq.Input[0].Content
	assert.NotContains(t, input, "msg-m09")
	assert.Contains(t, input, "msg-m10")
	assert.Contains(t, input, "msg-m29")
	assert.Equal(t, 20, strings.Count(input, `"role":`))
}

func TestTurnAvatarAppendsPersona(t *testing.T) {
	env := newTurnEnv(t, nil)
	env.provider.deltas = []string{`{"response":"ok"}`}
	th := env.thread(t, nil)

	rec := endRecord(t, env.run(t, TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", Avatar: "Sofia", ResponseType: map[string]any{}}, ""))
	assert.Equal(t, "sofia", rec.Avatar)
	assert.Contains(t, env.provider.lastReq.Instructions, "You are a supportive counsellor. \nSupport style: Sofia")
}

func TestTurnPrepareRejections(t *testing.T) {
	env := newTurnEnv(t, nil)
	th := env.thread(t, chat.Transcript{
		&chat.BotMessage{ID: "orphan", Response: "welcome"},
	})
	other := testutil.SeedUser(t, context.Background(), env.db, "other@example.com")
	foreign := testutil.SeedThread(t, context.Background(), env.db, other.ID, nil)

	cases := []struct {
		name   string
		req    TurnRequest
		status int
		code   string
	}{
		{"missing response type", TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live"}, http.StatusBadRequest, "invalid_request"},
		{"missing mode", TurnRequest{ThreadID: th.ExternalID, Question: "hi", ResponseType: map[string]any{}}, http.StatusBadRequest, "invalid_request"},
		{"unknown thread", TurnRequest{ThreadID: "nope", Question: "hi", Mode: "live", ResponseType: map[string]any{}}, http.StatusBadRequest, "invalid_thread_or_user"},
		{"foreign thread", TurnRequest{ThreadID: foreign.ExternalID, Question: "hi", Mode: "live", ResponseType: map[string]any{}}, http.StatusBadRequest, "invalid_thread_or_user"},
		{"unknown avatar", TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", Avatar: "zed", ResponseType: map[string]any{}}, http.StatusBadRequest, "unknown_avatar"},
		{"regenerate without bot id", TurnRequest{ThreadID: th.ExternalID, Regenerate: true, Mode: "live", ResponseType: map[string]any{}}, http.StatusBadRequest, "bot_id_required"},
		{"regenerate missing bot", TurnRequest{ThreadID: th.ExternalID, Regenerate: true, BotID: "missing", Mode: "live", ResponseType: map[string]any{}}, http.StatusBadRequest, "bot_message_not_found"},
		{"regenerate without question", TurnRequest{ThreadID: th.ExternalID, Regenerate: true, BotID: "orphan", Mode: "live", ResponseType: map[string]any{}}, http.StatusBadRequest, "question_not_found"},
		{"empty question", TurnRequest{ThreadID: th.ExternalID, Question: "  ", Mode: "live", ResponseType: map[string]any{}}, http.StatusBadRequest, "question_required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Prepare(env.ctx, tc.req, "")
			requireAPIError(t, err, tc.status, tc.code)
		})
	}
	assert.Zero(t, env.provider.calls)
}

func TestTurnMissingPromptIsFatal(t *testing.T) {
	env := newTurnEnv(t, nil)
	require.NoError(t, env.db.Exec("DELETE FROM prompt_text").Error)
	th := env.thread(t, nil)

	_, err := env.svc.Prepare(env.ctx, TurnRequest{ThreadID: th.ExternalID, Question: "hi", Mode: "live", ResponseType: map[string]any{}}, "")
	requireAPIError(t, err, http.StatusInternalServerError, "prompt_missing")
}

func TestTurnRequiresIdentity(t *testing.T) {
	env := newTurnEnv(t, nil)
	_, err := env.svc.Prepare(context.Background(), TurnRequest{ThreadID: uuid.NewString(), Mode: "live", ResponseType: map[string]any{}}, "")
	requireAPIError(t, err, http.StatusUnauthorized, "unauthorized")
}
