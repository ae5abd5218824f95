package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message statuses. A streaming assistant message is created in
// StatusStreaming and finalized to exactly one terminal status.
const (
	StatusStreaming = "streaming"
	StatusDone      = "done"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_chat_message_chat_seq,unique,priority:1" json:"chat_id"`
	UserID string    `gorm:"column:user_id;not null;index" json:"user_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_chat_message_chat_seq,unique,priority:2" json:"seq"`

	Role   string `gorm:"column:role;not null;index" json:"role"`
	Status string `gorm:"column:status;not null;default:'done';index" json:"status"`

	Content string `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Model   string `gorm:"column:model" json:"model,omitempty"`

	// Metadata holds pipeline detail for assistant turns: detected intent,
	// executed SQL, source chunk IDs, token usage, cache and degraded flags.
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	ErrorText string `gorm:"column:error_text;type:text;not null;default:''" json:"error_text,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ChatMessage) TableName() string { return "chat_message" }
