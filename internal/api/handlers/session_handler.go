package handlers

import (
	"net/http"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	svc services.InterviewService
}

func NewSessionHandler(svc services.InterviewService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type StartSessionRequest struct {
	CustomerName  *string `json:"customerName"`
	Company       *string `json:"company"`
	ConsentMethod string  `json:"consentMethod" binding:"omitempty,oneof=ui voice"`
	Accept        bool    `json:"accept"`
}

type StartSessionResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Start", "invalid request body", err))
		return
	}

	iv, err := h.svc.StartSession(c.Request.Context(), services.StartSessionInput{
		CustomerName:  req.CustomerName,
		Company:       req.Company,
		ConsentMethod: req.ConsentMethod,
		Accept:        req.Accept,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StartSessionResponse{
		ID:        iv.ID,
		SessionID: iv.SessionID,
		Status:    iv.Status,
		StartedAt: iv.StartedAt.Format(time.RFC3339Nano),
	})
}

type EndSessionRequest struct {
	SessionID   string `json:"sessionId"`
	InterviewID string `json:"interviewId"`
}

func (h *SessionHandler) End(c *gin.Context) {
	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.End", "invalid request body", err))
		return
	}

	ended, err := h.svc.EndSession(c.Request.Context(), req.InterviewID, req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ended)
}

func (h *SessionHandler) Get(c *gin.Context) {
	iv, err := h.svc.GetBySessionID(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, iv)
}
