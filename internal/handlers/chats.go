package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	repos "github.com/danutirta/tanyadata-backend/internal/data/repos/chat"
	"github.com/danutirta/tanyadata-backend/internal/modules/answer"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

type ChatHandler struct {
	log      *logger.Logger
	chats    repos.ChatRepo
	messages repos.ChatMessageRepo
}

func NewChatHandler(log *logger.Logger, chats repos.ChatRepo, messages repos.ChatMessageRepo) *ChatHandler {
	return &ChatHandler{
		log:      log.With("handler", "ChatHandler"),
		chats:    chats,
		messages: messages,
	}
}

// GET /api/chats
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		RespondAppError(c, errMissingUser)
		return
	}
	limit := queryInt(c, "limit", 50)

	rows, err := h.chats.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"chats": rows})
}

// GET /api/chats/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	limit := queryInt(c, "limit", 200)

	rows, err := h.messages.ListByChat(c.Request.Context(), chatID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"messages": answer.MessagesJSON(rows)})
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
