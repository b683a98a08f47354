package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/http/response"
	"github.com/yungbote/mindbridge-backend/internal/platform/apierr"
	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/services"
)

type ThreadHandler struct {
	log     *logger.Logger
	threads services.ThreadService
}

func NewThreadHandler(log *logger.Logger, threads services.ThreadService) *ThreadHandler {
	return &ThreadHandler{log: log.With("handler", "ThreadHandler"), threads: threads}
}

type createThreadReq struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Mode     string `json:"mode"`
}

// POST /chat/ThreadTitle
func (h *ThreadHandler) CreateThread(c *gin.Context) {
	var req createThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("invalid request body"))
		return
	}
	t, err := h.threads.CreateThread(c.Request.Context(), services.CreateThreadInput{
		Title:    req.Title,
		Category: req.Category,
		Mode:     req.Mode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"message":    "Thread created successfully.",
		"userId":     t.UserID,
		"category":   t.Category,
		"threadId":   t.ExternalID,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
		"title":      t.Title,
		"mode":       t.Mode,
	})
}

// flexInt accepts 3 or "3".
type flexInt struct {
	set bool
	n   int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	f.set, f.n = true, n
	return nil
}

type listThreadsReq struct {
	Page  flexInt `json:"page"`
	Limit flexInt `json:"limit"`
	Mode  string  `json:"mode"`
}

type threadSummary struct {
	ThreadID  string    `json:"threadId"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// POST /chat/getThreadList
func (h *ThreadHandler) ListThreads(c *gin.Context) {
	var req listThreadsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("invalid page or limit value"))
		return
	}
	if req.Page.set && req.Page.n <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("Invalid page number."))
		return
	}
	if req.Limit.set && req.Limit.n <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("Invalid limit value."))
		return
	}
	page, err := h.threads.ListThreads(c.Request.Context(), req.Mode, req.Page.n, req.Limit.n)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]threadSummary, 0, len(page.Threads))
	for _, t := range page.Threads {
		title := t.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, threadSummary{
			ThreadID:  t.ExternalID,
			Title:     title,
			Category:  t.Category,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	msg := "Fetched all threads successfully."
	if len(out) == 0 {
		msg = "No threads found for this user."
	}
	response.RespondOK(c, gin.H{
		"threads":      out,
		"totalPages":   page.TotalPages,
		"currentPage":  page.Page,
		"pageSize":     page.PageSize,
		"totalThreads": page.Total,
		"message":      msg,
	})
}

// POST /chat/getChatHistory/:threadId
func (h *ThreadHandler) GetChatHistory(c *gin.Context) {
	t, err := h.threads.GetChatHistory(c.Request.Context(), c.Param("threadId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"message":    "Chat history fetched successfully.",
		"threadId":   t.ExternalID,
		"title":      t.Title,
		"category":   t.Category,
		"mode":       t.Mode,
		"chats":      t.Chats.Records(),
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	})
}

type addVoteReq struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	Mode      string `json:"mode"`
}

// POST /chat/addVote
func (h *ThreadHandler) AddVote(c *gin.Context) {
	var req addVoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("invalid request body"))
		return
	}
	bot, err := h.threads.AddVote(c.Request.Context(), services.VoteInput{
		ThreadID:  req.ThreadID,
		MessageID: req.MessageID,
		Action:    req.Action,
		Mode:      req.Mode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"message": "Vote recorded successfully.",
		"data":    chat.ToRecord(bot),
	})
}

func (h *ThreadHandler) fail(c *gin.Context, err error) {
	if status, code := statusOf(err); status >= http.StatusInternalServerError {
		fields := []any{"code", code, "error", err, "path", c.FullPath()}
		if id := ctxutil.GetIdentity(c.Request.Context()); id != nil {
			fields = append(fields, "user_id", id.UserID.String())
		}
		h.log.Error("Thread request failed", fields...)
	}
	response.RespondAPIError(c, err)
}

func statusOf(err error) (int, string) {
	return apierr.Classify(err)
}
