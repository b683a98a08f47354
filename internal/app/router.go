package app

import (
	apphttp "github.com/yungbote/mindbridge-backend/internal/http"
	"github.com/yungbote/mindbridge-backend/internal/observability"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:            log,
		ServiceName:    cfg.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		Metrics:        metrics,
		AuthHandler:    handlers.Auth,
		AuthMiddleware: middleware.Auth,
		ChatHandler:    handlers.Chat,
		ThreadHandler:  handlers.Thread,
		HealthHandler:  handlers.Health,
	})
}
