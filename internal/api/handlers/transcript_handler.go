package handlers

import (
	"net/http"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type TranscriptHandler struct {
	svc services.TranscriptService
}

func NewTranscriptHandler(svc services.TranscriptService) *TranscriptHandler {
	return &TranscriptHandler{svc: svc}
}

type CreateTranscriptRequest struct {
	SessionID string `json:"sessionId" binding:"required,min=5"`
	Text      string `json:"text" binding:"required,min=1"`
}

func (h *TranscriptHandler) Create(c *gin.Context) {
	var req CreateTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "TranscriptHandler.Create", "invalid request body", err))
		return
	}

	row, err := h.svc.Create(c.Request.Context(), req.SessionID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *TranscriptHandler) ListBySession(c *gin.Context) {
	rows, err := h.svc.ListBySession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
