package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
	"github.com/danutirta/tanyadata-backend/internal/sse"
)

type EventsHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewEventsHandler(log *logger.Logger, hub *sse.SSEHub) *EventsHandler {
	return &EventsHandler{
		log: log.With("handler", "EventsHandler"),
		hub: hub,
	}
}

// GET /api/events?channels=chat:<id>,chat:<id>
//
// Long-lived SSE subscription to answer lifecycle events for the requested
// chat channels.
func (h *EventsHandler) Subscribe(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		RespondAppError(c, errMissingUser)
		return
	}
	channels := strings.Split(c.Query("channels"), ",")

	client := h.hub.NewSSEClient(userID)
	for _, ch := range channels {
		h.hub.AddChannel(client, ch)
	}
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
