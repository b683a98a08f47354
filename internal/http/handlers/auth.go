package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/mindbridge-backend/internal/http/response"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
	"github.com/yungbote/mindbridge-backend/internal/services"
)

type AuthHandler struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthHandler(log *logger.Logger, authService services.AuthService) *AuthHandler {
	return &AuthHandler{log: log.With("handler", "AuthHandler"), authService: authService}
}

// POST /auth/loginOrSignUp (alias /auth/login)
func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("Email and password are required"))
		return
	}
	res, err := ah.authService.LoginOrSignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if status, _ := statusOf(err); status >= http.StatusInternalServerError {
			ah.log.Error("Login failed", "error", err)
		}
		response.RespondAPIError(c, err)
		return
	}
	msg := "User signed in successfully"
	if res.NewUser {
		msg = "User signed up successfully"
	}
	response.RespondOK(c, gin.H{
		"message":    msg,
		"token":      res.Token,
		"expires_in": int(ah.authService.GetAccessTTL().Seconds()),
	})
}
