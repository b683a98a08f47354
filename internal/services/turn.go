package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/mindbridge-backend/internal/chat/jsonstream"
	"github.com/yungbote/mindbridge-backend/internal/chat/prompt"
	"github.com/yungbote/mindbridge-backend/internal/data/replay"
	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	userrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/user"
	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
	"github.com/yungbote/mindbridge-backend/internal/observability"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/apierr"
	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/llm"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/platform/promptstyle"
	"github.com/yungbote/mindbridge-backend/internal/sse"
)

const providerUnavailableMessage = "The assistant is unavailable right now. Please try again."

var errUnchanged = errors.New("thread unchanged")

// TurnRequest is the body of a streaming chat request.
type TurnRequest struct {
	ThreadID     string         `json:"threadId"`
	Question     string         `json:"question"`
	Answer       string         `json:"answer"`
	ResponseType map[string]any `json:"responseType"`
	Regenerate   bool           `json:"regenerate"`
	BotID        string         `json:"botId"`
	Mode         string         `json:"mode"`
	Avatar       string         `json:"avatar"`
	RequestID    string         `json:"requestId"`
}

// EventSink receives the turn's stream events in order.
type EventSink interface {
	Emit(typ sse.EventType, content any) error
}

// PreparedTurn is a validated turn, ready to stream.
type PreparedTurn struct {
	Nonce string

	userID   uuid.UUID
	thread   *chat.Thread
	kind     chat.MutationKind
	question string
	avatar   string
	mode     string
	target   *chat.BotMessage
	request  llm.Request
	replayed *replay.Entry
}

// Replayed reports whether the turn is finished from the replay store.
func (p *PreparedTurn) Replayed() bool { return p.replayed != nil }

type TurnConfig struct {
	HistoryWindow int
	Metrics       *observability.Metrics
}

type TurnService interface {
	// Prepare validates the request and builds the model input. Every error
	// it returns is meant to be sent before the stream opens.
	Prepare(ctx context.Context, req TurnRequest, nonce string) (*PreparedTurn, error)
	// Run streams the turn to sink. Failures are reported as a terminal error
	// event; the returned error is only for logging.
	Run(ctx context.Context, turn *PreparedTurn, sink EventSink) error
}

type turnService struct {
	log      *logger.Logger
	threads  chatrepo.ThreadRepo
	users    userrepo.UserRepo
	prompts  chatrepo.PromptRepo
	provider llm.Provider
	personas *prompt.Catalog
	replay   replay.Store
	cfg      TurnConfig
	now      func() time.Time
}

func NewTurnService(
	log *logger.Logger,
	threads chatrepo.ThreadRepo,
	users userrepo.UserRepo,
	prompts chatrepo.PromptRepo,
	provider llm.Provider,
	personas *prompt.Catalog,
	replayStore replay.Store,
	cfg TurnConfig,
) TurnService {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = prompt.DefaultHistoryWindow
	}
	return &turnService{
		log:      log.With("service", "TurnService"),
		threads:  threads,
		users:    users,
		prompts:  prompts,
		provider: provider,
		personas: personas,
		replay:   replayStore,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *turnService) Prepare(ctx context.Context, req TurnRequest, nonce string) (*PreparedTurn, error) {
	id := ctxutil.GetIdentity(ctx)
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
	}
	req.ThreadID = strings.TrimSpace(req.ThreadID)
	req.Mode = strings.TrimSpace(req.Mode)
	if req.ThreadID == "" || req.Mode == "" {
		return nil, apierr.BadRequest("invalid_request", "threadId and mode are required")
	}
	if req.ResponseType == nil {
		return nil, apierr.BadRequest("invalid_request", "responseType is required")
	}

	dbc := dbctx.Context{Ctx: ctx}
	thread, u, err := s.loadThreadAndUser(ctx, dbc, id.UserID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		nonce = uuid.NewString()
	}
	turn := &PreparedTurn{Nonce: nonce, userID: u.ID, thread: thread, mode: req.Mode}

	if s.replay != nil {
		entry, rerr := s.replay.Get(ctx, u.ID, nonce)
		if rerr != nil {
			s.log.Warn("Replay lookup failed", "error", rerr, "thread_id", thread.ExternalID)
		} else if entry != nil && entry.ThreadID == thread.ExternalID {
			turn.replayed = entry
			return turn, nil
		}
	}

	var persona *prompt.Persona
	if a := strings.TrimSpace(req.Avatar); a != "" {
		persona, err = s.personas.Lookup(a)
		if err != nil {
			return nil, apierr.BadRequest("unknown_avatar", "Avatar not found. Please check the name and try again.")
		}
		turn.avatar = persona.Name
	}

	switch {
	case req.Regenerate:
		if strings.TrimSpace(req.BotID) == "" {
			return nil, apierr.BadRequest("bot_id_required", "botId is required to regenerate a response.")
		}
		target, q, rerr := thread.RegenerateSource(strings.TrimSpace(req.BotID))
		switch {
		case errors.Is(rerr, chat.ErrBotMessageNotFound):
			return nil, apierr.BadRequest("bot_message_not_found", "Bot message not found.")
		case errors.Is(rerr, chat.ErrNoPrecedingQuestion):
			return nil, apierr.BadRequest("question_not_found", "No preceding question found for this bot message.")
		case rerr != nil:
			return nil, apierr.Internal("internal_error", rerr)
		}
		turn.kind = chat.MutationRegenerate
		turn.target = target
		turn.question = q.Text
	case len(req.ResponseType) > 0:
		turn.kind = chat.MutationBotOnly
		turn.question = strings.TrimSpace(req.Question)
	default:
		turn.kind = chat.MutationExchange
		turn.question = strings.TrimSpace(req.Question)
		if turn.question == "" {
			return nil, apierr.BadRequest("question_required", "question is required")
		}
	}

	system, err := s.prompts.Latest(dbc)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, apierr.Internal("prompt_missing", errors.New("Prompt text not found in database"))
	}
	if err != nil {
		return nil, apierr.Internal("prompt_load_failed", fmt.Errorf("load prompt: %w", err))
	}

	responseType := req.ResponseType
	if req.Regenerate {
		responseType = nil
	}
	input, err := prompt.Compose(prompt.Input{
		Question:     turn.question,
		Answer:       req.Answer,
		ResponseType: responseType,
		Country:      u.Country,
		Role:         u.Role,
		History:      prompt.Window(thread.Chats, s.cfg.HistoryWindow),
	})
	if err != nil {
		return nil, apierr.BadRequest("invalid_request", err.Error())
	}
	turn.request = llm.Request{
		Instructions: promptstyle.ApplyEnvelope(prompt.Instructions(system.Prompt, persona)),
		Input:        []llm.Message{{Role: "user", Content: input}},
	}
	return turn, nil
}

func (s *turnService) loadThreadAndUser(ctx context.Context, dbc dbctx.Context, userID uuid.UUID, threadID string) (*chat.Thread, *user.User, error) {
	var (
		thread *chat.Thread
		u      *user.User
	)
	g, gctx := errgroup.WithContext(ctx)
	gdbc := dbctx.Context{Ctx: gctx, Tx: dbc.Tx}
	g.Go(func() error {
		var err error
		thread, err = s.threads.GetByExternalID(gdbc, threadID)
		return err
	})
	g.Go(func() error {
		var err error
		u, err = s.users.GetByID(gdbc, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, nil, errInvalidThreadOrUser
		}
		return nil, nil, apierr.Internal("lookup_failed", fmt.Errorf("load thread and user: %w", err))
	}
	if thread.UserID != u.ID {
		return nil, nil, errInvalidThreadOrUser
	}
	return thread, u, nil
}

func (s *turnService) Run(ctx context.Context, turn *PreparedTurn, sink EventSink) error {
	log := s.log.With("thread_id", turn.thread.ExternalID, "request_id", turn.Nonce)
	if turn.replayed != nil {
		log.Info("Replaying completed turn")
		s.cfg.Metrics.IncTurn(observability.TurnReplayed)
		return s.finish(ctx, log, turn, turn.replayed.Mutation, sink)
	}

	completion, revealed, err := s.stream(ctx, turn, sink)
	if err != nil {
		if errors.Is(err, sse.ErrClosed) || ctx.Err() != nil {
			log.Info("Client went away during turn", "error", err)
			s.cfg.Metrics.IncTurn(observability.TurnAborted)
			return nil
		}
		log.Error("Provider stream failed", "provider", s.provider.Name(), "error", err)
		s.cfg.Metrics.IncTurn(observability.TurnProviderError)
		_ = sink.Emit(sse.EventError, providerMessage(err))
		return err
	}

	env, err := jsonstream.ParseEnvelope(completion.Text)
	if err != nil {
		log.Error("Model output could not be parsed", "error", err, "model", completion.Model)
		s.cfg.Metrics.IncTurn(observability.TurnProviderError)
		_ = sink.Emit(sse.EventError, "Failed to read the assistant response. Please try again.")
		return err
	}
	if !revealed && env.Response != "" {
		if err := sink.Emit(sse.EventText, env.Response); errors.Is(err, sse.ErrClosed) {
			log.Info("Client went away before completion was delivered")
		}
	}

	m := s.buildMutation(turn, env)
	if s.replay != nil {
		entry := replay.Entry{ThreadID: turn.thread.ExternalID, Mutation: m, CreatedAt: s.now().UTC()}
		if perr := s.replay.Put(context.WithoutCancel(ctx), turn.userID, turn.Nonce, entry); perr != nil {
			log.Warn("Failed to record turn for replay", "error", perr)
		}
	}
	log.Debug("Model turn completed",
		"model", completion.Model,
		"input_tokens", completion.Usage.InputTokens,
		"output_tokens", completion.Usage.OutputTokens,
	)
	return s.finish(ctx, log, turn, m, sink)
}

// stream relays revealed response text to sink while the provider streams.
func (s *turnService) stream(ctx context.Context, turn *PreparedTurn, sink EventSink) (llm.Completion, bool, error) {
	ctx, span := observability.StartSpan(ctx, "chat.turn.stream",
		attribute.String("llm.provider", s.provider.Name()),
		attribute.String("chat.thread_id", turn.thread.ExternalID),
	)
	defer span.End()
	start := s.now()

	scanner := jsonstream.NewScanner()
	revealed := false
	completion, err := s.provider.StreamResponse(ctx, turn.request, func(delta string) error {
		for _, r := range scanner.Feed(delta) {
			if r.Text == "" {
				continue
			}
			revealed = true
			if err := sink.Emit(sse.EventText, r.Text); err != nil {
				return err
			}
		}
		return nil
	})

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, sse.ErrClosed) || ctx.Err() != nil:
		status = "canceled"
	default:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider stream failed")
	}
	span.SetAttributes(
		attribute.String("llm.model", completion.Model),
		attribute.Int("llm.input_tokens", completion.Usage.InputTokens),
		attribute.Int("llm.output_tokens", completion.Usage.OutputTokens),
	)
	s.cfg.Metrics.ObserveLLMStream(s.provider.Name(), completion.Model, status, s.now().Sub(start),
		completion.Usage.InputTokens, completion.Usage.OutputTokens)
	return completion, revealed, err
}

func (s *turnService) buildMutation(turn *PreparedTurn, env jsonstream.Envelope) chat.TurnMutation {
	now := s.now().UTC()
	bot := chat.BotMessage{
		ID:                uuid.NewString(),
		Response:          env.Response,
		FollowupQuestions: env.FollowupQuestions,
		Avatar:            turn.avatar,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if bot.FollowupQuestions == nil {
		bot.FollowupQuestions = []string{}
	}
	if strings.TrimSpace(env.Scratchpad) != "" {
		bot.Scratchpad = &chat.Scratchpad{ID: uuid.NewString(), Text: env.Scratchpad}
	}
	m := chat.TurnMutation{Kind: turn.kind, Bot: bot, Mode: turn.mode}
	switch turn.kind {
	case chat.MutationRegenerate:
		m.Bot.ID = turn.target.ID
		m.Bot.CreatedAt = turn.target.CreatedAt
		if m.Bot.Avatar == "" {
			m.Bot.Avatar = turn.target.Avatar
		}
	case chat.MutationExchange:
		m.User = &chat.UserMessage{
			ID:        uuid.NewString(),
			Text:      turn.question,
			Avatar:    turn.avatar,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return m
}

// finish persists m and emits the terminal event.
func (s *turnService) finish(ctx context.Context, log *logger.Logger, turn *PreparedTurn, m chat.TurnMutation, sink EventSink) error {
	// Persistence outlives the client connection.
	pctx := context.WithoutCancel(ctx)
	dbc := dbctx.Context{Ctx: pctx}

	err := saveWithRetry(dbc, s.threads, turn.thread, func(t *chat.Thread) error {
		if !m.Apply(t) {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		log.Error("Failed to save turn", "error", err)
		s.cfg.Metrics.IncTurn(observability.TurnPersistError)
		_ = sink.Emit(sse.EventError, fmt.Sprintf("Failed to save the response. Retry with requestId %s.", turn.Nonce))
		return err
	}

	if terr := s.users.TouchLastActive(dbc, turn.userID, s.now().UTC()); terr != nil {
		log.Warn("Failed to update last activity", "error", terr)
	}

	if turn.replayed == nil {
		s.cfg.Metrics.IncTurn(observability.TurnCompleted)
	}

	out := &m.Bot
	if bot, _ := turn.thread.Chats.Bot(m.Bot.ID); bot != nil {
		out = bot
	}
	if eerr := sink.Emit(sse.EventEnd, chat.ToRecord(out)); eerr != nil {
		log.Info("Client went away before end event", "error", eerr)
	}
	return nil
}

func providerMessage(err error) string {
	var pe *llm.ProviderError
	if errors.As(err, &pe) && strings.TrimSpace(pe.Message) != "" {
		return pe.Message
	}
	return providerUnavailableMessage
}
