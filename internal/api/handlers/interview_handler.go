package handlers

import (
	"net/http"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type InterviewHandler struct {
	svc services.InterviewService
}

func NewInterviewHandler(svc services.InterviewService) *InterviewHandler {
	return &InterviewHandler{svc: svc}
}

type CreateInterviewRequest struct {
	CustomerName string `json:"customer_name" binding:"required"`
	SessionID    string `json:"session_id"`
}

func (h *InterviewHandler) Create(c *gin.Context) {
	var req CreateInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.Create", "customer_name is required", err))
		return
	}

	iv, err := h.svc.Create(c.Request.Context(), req.CustomerName, req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, iv)
}

func (h *InterviewHandler) List(c *gin.Context) {
	rows, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *InterviewHandler) Get(c *gin.Context) {
	iv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, iv)
}
