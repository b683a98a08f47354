package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/mindbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/mindbridge-backend/internal/http/middleware"
	"github.com/yungbote/mindbridge-backend/internal/observability"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware
	ChatHandler    *httpH.ChatHandler
	ThreadHandler  *httpH.ThreadHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Auth (public)
	if cfg.AuthHandler != nil {
		r.POST("/auth/loginOrSignUp", cfg.AuthHandler.Login)
		r.POST("/auth/login", cfg.AuthHandler.Login)
	}

	protected := r.Group("/chat")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Turns (SSE)
		if cfg.ChatHandler != nil {
			protected.POST("/chatStreaming", cfg.ChatHandler.ChatStreaming)
		}

		// Threads
		if cfg.ThreadHandler != nil {
			protected.POST("/ThreadTitle", cfg.ThreadHandler.CreateThread)
			protected.POST("/getThreadList", cfg.ThreadHandler.ListThreads)
			protected.POST("/getChatHistory/:threadId", cfg.ThreadHandler.GetChatHistory)
			protected.POST("/addVote", cfg.ThreadHandler.AddVote)
		}
	}

	return r
}
