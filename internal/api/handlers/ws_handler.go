package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSHandler streams an interview's timeline events to the browser. Events
// are published by the services; this handler only forwards them. Viewers
// usually only listen, so the server pings to keep the connection open.
type WSHandler struct {
	interviews services.InterviewService
	events     events.Subscriber
	upgrader   websocket.Upgrader

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWSHandler returns a handler that answers 503 when sub is nil.
func NewWSHandler(interviews services.InterviewService, sub events.Subscriber) *WSHandler {
	return &WSHandler{
		interviews: interviews,
		events:     sub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pongWait:   wsPongWait,
		pingPeriod: wsPingPeriod,
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // ping
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func (h *WSHandler) InterviewWS(c *gin.Context) {
	const op = "WSHandler.InterviewWS"

	if h.events == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "live timeline requires redis", nil))
		return
	}

	iv, err := h.interviews.Get(c.Request.Context(), c.Param("interviewId"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	ch, closeSub, err := h.events.Subscribe(ctx, iv.ID)
	if err != nil {
		_ = wc.writeText([]byte(`{"type":"error","code":"UNAVAILABLE","message":"live timeline unavailable"}`))
		return
	}
	defer closeSub()

	hello, _ := json.Marshal(events.Event{Type: events.TypeStatus, InterviewID: iv.ID, Status: iv.Status})
	if err := wc.writeText(hello); err != nil {
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
				continue
			}
			switch msg.Type {
			case "ping":
				_ = wc.writeText([]byte(`{"type":"pong"}`))
			default:
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
			}
		}
	}()

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if werr := wc.writeText(payload); werr != nil {
				return
			}
		}
	}
}
