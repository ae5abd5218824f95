package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/danutirta/tanyadata-backend/internal/modules/answer"
	"github.com/danutirta/tanyadata-backend/internal/platform/apierr"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

var errMissingUser = apierr.New(http.StatusBadRequest, "missing_user", errors.New("X-User-ID header is required"))

type AskRequest struct {
	Text     string               `json:"text"`
	ChatID   string               `json:"chat_id,omitempty"`
	History  []answer.HistoryTurn `json:"history,omitempty"`
	ImageURL string               `json:"image_url,omitempty"`
}

type AskHandler struct {
	log      *logger.Logger
	pipeline *answer.Pipeline
}

func NewAskHandler(log *logger.Logger, p *answer.Pipeline) *AskHandler {
	return &AskHandler{
		log:      log.With("handler", "AskHandler"),
		pipeline: p,
	}
}

// POST /api/ask
//
// Answers one question and streams the result back as SSE frames. Each frame
// is an answer event; the stream ends after a terminal frame.
func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		RespondAppError(c, errMissingUser)
		return
	}

	q := answer.Query{
		RawText:  req.Text,
		UserID:   userID,
		History:  req.History,
		ImageURL: req.ImageURL,
	}
	if req.ChatID != "" {
		id, err := uuid.Parse(req.ChatID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
			return
		}
		q.ChatID = id
	}

	handle, err := h.pipeline.Answer(c.Request.Context(), q)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_query", err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Header().Set("X-Chat-ID", handle.ChatID.String())
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.log.Warn("response writer does not support flushing; buffering stream")
	}

	for ev := range handle.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.log.Warn("failed to marshal answer event", "error", err)
			continue
		}
		fmt.Fprintf(c.Writer, "event: %s\n", ev.Type)
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		if ok {
			flusher.Flush()
		}
	}
}
