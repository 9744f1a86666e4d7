package http

import (
	"net/http"

	"peerlink/internal/core/services"
	"peerlink/pkg/utils"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/v1/auth/token", h.IssueToken)
}

// IssueToken hands out a signaling token for a client. The peer identifier is
// generated server-side so clients cannot claim an existing session.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		Subject string `json:"subject" binding:"required,min=1,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	peerID := utils.NewID()
	token, err := h.authService.IssueToken(req.Subject, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"peer_id": peerID,
	})
}
