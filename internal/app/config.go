package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/mindbridge-backend/internal/chat/prompt"
	"github.com/yungbote/mindbridge-backend/internal/data/db"
	"github.com/yungbote/mindbridge-backend/internal/data/mongostore"
	"github.com/yungbote/mindbridge-backend/internal/data/replay"
	"github.com/yungbote/mindbridge-backend/internal/platform/anthropic"
	"github.com/yungbote/mindbridge-backend/internal/platform/envutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/platform/openai"
)

const (
	StoreDriverMongo = "mongo"

	defaultJWTSecret = "defaultsecret"
)

// KnowledgeBase names the vector store (OpenAI) or inline documents (Anthropic) the
// assistant grounds its answers on.
type KnowledgeBase struct {
	Name            string
	Files           []string
	ExpireAfterDays int
}

type Config struct {
	Env         string
	Port        string
	ServiceName string

	JWTSecretKey   string
	AccessTokenTTL time.Duration

	StoreDriver string
	SQL         db.Config
	Mongo       mongostore.Config
	Redis       replay.RedisConfig

	LLMProvider   string
	OpenAI        openai.Config
	Anthropic     anthropic.Config
	KnowledgeBase KnowledgeBase

	PersonasFile     string
	SystemPromptFile string
	HistoryWindow    int
	CORSOrigins      []string
	StreamHeartbeat  time.Duration
	ShutdownGrace    time.Duration
}

// LoadEnvFile loads .env when present. Variables already set in the process win.
func LoadEnvFile(log *logger.Logger) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Could not read .env file", "error", err)
		}
		return
	}
	log.Info("Loaded .env file")
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Env:         envutil.String(log, "APP_ENV", "development"),
		Port:        envutil.String(log, "PORT", "8080"),
		ServiceName: envutil.String(log, "OTEL_SERVICE_NAME", "mindbridge"),

		JWTSecretKey:   envutil.String(log, "JWT_SECRET_KEY", defaultJWTSecret),
		AccessTokenTTL: envutil.Seconds("ACCESS_TOKEN_TTL", time.Hour),

		StoreDriver: strings.ToLower(envutil.String(log, "STORE_DRIVER", db.DriverPostgres)),
		Mongo: mongostore.Config{
			URI:      envutil.String(log, "MONGO_URI", ""),
			Database: envutil.String(log, "MONGO_DB", "mindbridge"),
		},
		Redis: replay.RedisConfig{
			Addr:     envutil.String(log, "REDIS_ADDR", ""),
			Password: envutil.String(nil, "REDIS_PASSWORD", ""),
			DB:       envutil.Int("REDIS_DB", 0),
			TTL:      envutil.Seconds("TURN_REPLAY_TTL_SECONDS", replay.DefaultTTL),
		},

		LLMProvider: strings.ToLower(envutil.String(log, "LLM_PROVIDER", openai.ProviderName)),
		OpenAI:      openai.ConfigFromEnv(),
		Anthropic:   anthropic.ConfigFromEnv(),
		KnowledgeBase: KnowledgeBase{
			Name:            envutil.String(log, "KB_NAME", ""),
			Files:           envutil.List("KB_FILES"),
			ExpireAfterDays: envutil.Int("KB_EXPIRE_DAYS", 7),
		},

		PersonasFile:     envutil.String(log, "PERSONAS_FILE", ""),
		SystemPromptFile: envutil.String(log, "SYSTEM_PROMPT_FILE", ""),
		HistoryWindow:    envutil.Int("HISTORY_WINDOW", prompt.DefaultHistoryWindow),
		CORSOrigins:      envutil.List("CORS_ORIGINS"),
		StreamHeartbeat:  envutil.Seconds("SSE_HEARTBEAT_SECONDS", 15*time.Second),
		ShutdownGrace:    envutil.Seconds("SHUTDOWN_GRACE_SECONDS", 30*time.Second),
	}
	cfg.SQL = db.ConfigFromEnv(log, cfg.StoreDriver)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecretKey == defaultJWTSecret {
		log.Warn("JWT_SECRET_KEY not set, using the development default")
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case db.DriverPostgres, db.DriverSQLite:
	case StoreDriverMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("STORE_DRIVER=mongo requires MONGO_URI")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q (want postgres, sqlite or mongo)", c.StoreDriver)
	}
	switch c.LLMProvider {
	case openai.ProviderName:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case anthropic.ProviderName:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (want openai or anthropic)", c.LLMProvider)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be positive")
	}
	return nil
}
