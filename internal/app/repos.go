package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/data/db"
	"github.com/yungbote/mindbridge-backend/internal/data/mongostore"
	chatrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/chat"
	userrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/user"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

// Repos is the persistence surface the services need, backed by SQL or MongoDB.
type Repos struct {
	User   userrepo.UserRepo
	Thread chatrepo.ThreadRepo
	Prompt chatrepo.PromptRepo

	// DB is nil for the mongo driver.
	DB    *gorm.DB
	Ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

func wireRepos(ctx context.Context, log *logger.Logger, cfg Config) (Repos, error) {
	log.Info("Wiring repos...", "driver", cfg.StoreDriver)

	if cfg.StoreDriver == StoreDriverMongo {
		store, err := mongostore.Open(ctx, log, cfg.Mongo)
		if err != nil {
			return Repos{}, fmt.Errorf("init mongo: %w", err)
		}
		return Repos{
			User:   store.UserRepo(),
			Thread: store.ThreadRepo(),
			Prompt: store.PromptRepo(),
			Ping:   store.Ping,
			close:  store.Close,
		}, nil
	}

	sqlSvc, err := db.NewSQLService(log, cfg.SQL)
	if err != nil {
		return Repos{}, fmt.Errorf("init sql store: %w", err)
	}
	if err := sqlSvc.AutoMigrateAll(); err != nil {
		_ = sqlSvc.Close()
		return Repos{}, fmt.Errorf("sql automigrate: %w", err)
	}
	theDB := sqlSvc.DB()
	return Repos{
		User:   userrepo.NewUserRepo(theDB, log),
		Thread: chatrepo.NewThreadRepo(theDB, log),
		Prompt: chatrepo.NewPromptRepo(theDB, log),
		DB:     theDB,
		Ping:   sqlSvc.Ping,
		close:  func(context.Context) error { return sqlSvc.Close() },
	}, nil
}

func (r *Repos) Close(ctx context.Context) error {
	if r == nil || r.close == nil {
		return nil
	}
	return r.close(ctx)
}
