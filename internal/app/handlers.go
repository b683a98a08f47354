package app

import (
	"time"

	httpH "github.com/yungbote/mindbridge-backend/internal/http/handlers"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type Handlers struct {
	Auth   *httpH.AuthHandler
	Chat   *httpH.ChatHandler
	Thread *httpH.ThreadHandler
	Health *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, services Services, repos Repos, heartbeat time.Duration) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:   httpH.NewAuthHandler(log, services.Auth),
		Chat:   httpH.NewChatHandler(log, services.Turn, heartbeat),
		Thread: httpH.NewThreadHandler(log, services.Thread),
		Health: httpH.NewHealthHandler(repos.Ping),
	}
}
