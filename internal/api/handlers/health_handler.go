package handlers

import (
	"net/http"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	interviews services.InterviewService
}

func NewHealthHandler(interviews services.InterviewService) *HealthHandler {
	return &HealthHandler{interviews: interviews}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TestDB round-trips SELECT NOW() through the pool.
func (h *HealthHandler) TestDB(c *gin.Context) {
	now, err := h.interviews.DBNow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"now": now})
}
