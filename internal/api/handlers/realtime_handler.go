package handlers

import (
	"net/http"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/gin-gonic/gin"
)

type RealtimeHandler struct {
	svc services.RealtimeTokenService
}

func NewRealtimeHandler(svc services.RealtimeTokenService) *RealtimeHandler {
	return &RealtimeHandler{svc: svc}
}

func (h *RealtimeHandler) Token(c *gin.Context) {
	token, err := h.svc.Issue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
