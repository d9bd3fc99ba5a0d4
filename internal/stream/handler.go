package stream

import (
	"net/http"

	"paylink_backend/internal/events"
	"paylink_backend/internal/logger"
	"paylink_backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// dashboards authenticate with a bearer token, not cookies
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes - operators only, the stream carries every transaction.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream/transactions",
		middleware.AuthMiddleware(),
		middleware.RequirePermission("transactions:verify"),
		h.ServeWS,
	)
}

func (h *Handler) ServeWS(c *gin.Context) {
	userID := middleware.GetUserID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.CtxWarn(c.Request.Context(), "stream upgrade failed", "error", err.Error())
		return
	}

	client := &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan events.StateChanged, sendBuffer),
		hub:    h.hub,
	}
	if !h.hub.join(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
