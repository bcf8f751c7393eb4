package handlers

import (
	"net/http"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type TurnHandler struct {
	svc services.TurnService
}

func NewTurnHandler(svc services.TurnService) *TurnHandler {
	return &TurnHandler{svc: svc}
}

type CreateTurnRequest struct {
	InterviewID string     `json:"interviewId" binding:"required"`
	Speaker     string     `json:"speaker" binding:"required,oneof=user ai"`
	Text        string     `json:"text" binding:"required"`
	StartedAt   *time.Time `json:"started_at"`
}

func (h *TurnHandler) Create(c *gin.Context) {
	var req CreateTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "TurnHandler.Create", "interviewId, speaker and text are required", err))
		return
	}

	turn, err := h.svc.Record(c.Request.Context(), services.RecordTurnInput{
		InterviewID: req.InterviewID,
		Speaker:     req.Speaker,
		Text:        req.Text,
		StartedAt:   req.StartedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, turn)
}

func (h *TurnHandler) ListByInterview(c *gin.Context) {
	rows, err := h.svc.ListByInterview(c.Request.Context(), c.Param("interviewId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
