package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nearcast/internal/core/ports"
	"nearcast/pkg/errors"
	"nearcast/pkg/validation"
)

// AuthHandler issues operator tokens. There is no user store: the caller
// proves knowledge of the configured operator secret and names itself for
// the audit log.
type AuthHandler struct {
	authService ports.AuthService
	secret      []byte
}

func NewAuthHandler(authService ports.AuthService, secret string) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		secret:      []byte(secret),
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	Operator string `json:"operator" binding:"required,max=64"`
	Secret   string `json:"secret" binding:"required,max=128"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Operator = strings.TrimSpace(req.Operator)
	if err := validation.ValidateStringLength(req.Operator, 1, 64, "operator"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), h.secret) != 1 {
		c.Error(errors.NewUnauthorizedError("invalid operator secret"))
		return
	}

	token, expiresAt, err := h.authService.GenerateToken(req.Operator)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operator":     req.Operator,
		"access_token": token,
		"expires_at":   expiresAt,
		"expires_in":   int(time.Until(expiresAt).Seconds()),
	})
}
