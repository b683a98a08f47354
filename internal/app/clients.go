package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/mindbridge-backend/internal/data/replay"
	"github.com/yungbote/mindbridge-backend/internal/platform/anthropic"
	"github.com/yungbote/mindbridge-backend/internal/platform/llm"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/platform/openai"
)

type Clients struct {
	Provider llm.Provider
	Replay   replay.Store
	// Redis is set when the replay store is redis-backed.
	Redis *replay.RedisStore
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	provider, err := wireProvider(ctx, log, cfg)
	if err != nil {
		return Clients{}, err
	}

	// Redis
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rs, err := replay.NewRedisStore(log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis replay store: %w", err)
		}
		return Clients{Provider: provider, Replay: rs, Redis: rs}, nil
	}
	log.Warn("REDIS_ADDR not set, turn replay is process-local")
	return Clients{Provider: provider, Replay: replay.NewMemoryStore(cfg.Redis.TTL)}, nil
}

// wireProvider builds the configured LLM client and resolves its knowledge base before
// the server accepts traffic.
func wireProvider(ctx context.Context, log *logger.Logger, cfg Config) (llm.Provider, error) {
	kb := cfg.KnowledgeBase
	switch cfg.LLMProvider {
	case anthropic.ProviderName:
		docs, err := anthropic.LoadDocuments(kb.Files)
		if err != nil {
			return nil, fmt.Errorf("load knowledge base documents: %w", err)
		}
		client, err := anthropic.NewClient(log, cfg.Anthropic, docs)
		if err != nil {
			return nil, fmt.Errorf("init anthropic client: %w", err)
		}
		log.Info("LLM provider ready", "provider", anthropic.ProviderName, "documents", len(docs))
		return client, nil

	default:
		client, err := openai.NewClient(log, cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		if strings.TrimSpace(kb.Name) == "" {
			log.Warn("KB_NAME not set, responses will not use file search")
			return client, nil
		}
		vs, err := client.EnsureVectorStore(ctx, openai.VectorStoreSpec{
			Name:            kb.Name,
			Files:           kb.Files,
			ExpireAfterDays: kb.ExpireAfterDays,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure vector store %q: %w", kb.Name, err)
		}
		log.Info("LLM provider ready", "provider", openai.ProviderName, "vector_store_id", vs.ID)
		return client.WithVectorStores(vs.ID), nil
	}
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
