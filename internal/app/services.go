package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/mindbridge-backend/internal/chat/prompt"
	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	"github.com/yungbote/mindbridge-backend/internal/observability"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/services"
)

type Services struct {
	Auth   services.AuthService
	Thread services.ThreadService
	Turn   services.TurnService
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, repos Repos, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	personas, err := prompt.LoadCatalog(cfg.PersonasFile)
	if err != nil {
		return Services{}, fmt.Errorf("load persona catalog: %w", err)
	}
	if err := seedSystemPrompt(ctx, log, repos.Prompt, cfg.SystemPromptFile); err != nil {
		return Services{}, err
	}

	return Services{
		Auth:   services.NewAuthService(log, repos.User, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		Thread: services.NewThreadService(log, repos.Thread),
		Turn: services.NewTurnService(
			log,
			repos.Thread,
			repos.User,
			repos.Prompt,
			clients.Provider,
			personas,
			clients.Replay,
			services.TurnConfig{HistoryWindow: cfg.HistoryWindow, Metrics: metrics},
		),
	}, nil
}

// seedSystemPrompt stores the contents of path as the current system prompt unless it
// already is. An empty path leaves the stored prompt alone.
func seedSystemPrompt(ctx context.Context, log *logger.Logger, prompts chatrepo.PromptRepo, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read SYSTEM_PROMPT_FILE: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Errorf("SYSTEM_PROMPT_FILE %s is empty", path)
	}
	dbc := dbctx.Context{Ctx: ctx}
	if cur, err := prompts.Latest(dbc); err == nil && cur != nil && cur.Prompt == text {
		return nil
	}
	if _, err := prompts.Put(dbc, text); err != nil {
		return fmt.Errorf("store system prompt: %w", err)
	}
	log.Info("System prompt updated", "source", path)
	return nil
}
