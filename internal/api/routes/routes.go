package routes

import (
	"net/http"

	"github.com/Rogrei/diagnostik-chat/internal/api/handlers"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Health     *handlers.HealthHandler
	Session    *handlers.SessionHandler
	Interview  *handlers.InterviewHandler
	Turn       *handlers.TurnHandler
	Transcribe *handlers.TranscribeHandler
	Transcript *handlers.TranscriptHandler
	Realtime   *handlers.RealtimeHandler
	Audio      *handlers.AudioHandler
	WS         *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/health", d.Health.Health)
	r.GET("/uploads/audio/:name", d.Audio.Serve)

	api := r.Group("/api")
	api.GET("/test-db", d.Health.TestDB)

	api.POST("/session/start", d.Session.Start)
	api.POST("/session/end", d.Session.End)
	api.GET("/session/:sessionId", d.Session.Get)

	api.POST("/interviews", d.Interview.Create)
	api.GET("/interviews", d.Interview.List)
	api.GET("/interviews/:id", d.Interview.Get)

	api.POST("/turns", d.Turn.Create)
	api.GET("/turns/:interviewId", d.Turn.ListByInterview)

	api.POST("/transcribe/chunk", d.Transcribe.Chunk)
	api.POST("/transcribe/full", d.Transcribe.Full)
	api.POST("/transcribe/retry/:turnId", d.Transcribe.Retry)
	api.GET("/transcribe/runs/:interviewId", d.Transcribe.Runs)

	api.POST("/transcripts", d.Transcript.Create)
	api.GET("/transcripts/:sessionId", d.Transcript.ListBySession)

	api.POST("/realtime/token", d.Realtime.Token)

	// WebSocket
	api.GET("/ws/interviews/:interviewId", d.WS.InterviewWS)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.APIError{Code: utils.CodeNotFound, Message: "route not found"})
	})
}
