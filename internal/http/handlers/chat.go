package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/mindbridge-backend/internal/http/response"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/services"
	"github.com/yungbote/mindbridge-backend/internal/sse"
)

const headerIdempotencyKey = "Idempotency-Key"

type ChatHandler struct {
	log       *logger.Logger
	turns     services.TurnService
	heartbeat time.Duration
}

func NewChatHandler(log *logger.Logger, turns services.TurnService, heartbeat time.Duration) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), turns: turns, heartbeat: heartbeat}
}

// POST /chat/chatStreaming
//
// Validation failures are answered with a JSON error. Once the event stream is open every
// outcome, including failures, is reported as an SSE event.
func (h *ChatHandler) ChatStreaming(c *gin.Context) {
	var req services.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("invalid request body"))
		return
	}
	nonce := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
	if nonce == "" {
		nonce = strings.TrimSpace(req.RequestID)
	}

	ctx := c.Request.Context()
	turn, err := h.turns.Prepare(ctx, req, nonce)
	if err != nil {
		if status, code := statusOf(err); status >= http.StatusInternalServerError {
			h.log.Error("Turn rejected", "code", code, "error", err, "thread_id", req.ThreadID)
		}
		response.RespondAPIError(c, err)
		return
	}

	c.Header(headerIdempotencyKey, turn.Nonce)
	stream, err := sse.Open(ctx, h.log, c.Writer, h.heartbeat)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stream_unsupported", err)
		return
	}
	defer stream.Close()

	if err := h.turns.Run(ctx, turn, stream); err != nil {
		_ = c.Error(err)
	}
}
