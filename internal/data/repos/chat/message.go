package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/danutirta/tanyadata-backend/internal/domain/chat"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

type ChatMessageRepo interface {
	Create(ctx context.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error)
	GetMaxSeq(ctx context.Context, chatID uuid.UUID) (int64, error)
	ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*types.ChatMessage, error)
	ListRecent(ctx context.Context, chatID uuid.UUID, limit int) ([]*types.ChatMessage, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
}

type chatMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, log *logger.Logger) ChatMessageRepo {
	return &chatMessageRepo{db: db, log: log.With("repo", "ChatMessageRepo")}
}

func (r *chatMessageRepo) Create(ctx context.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error) {
	if len(rows) == 0 {
		return []*types.ChatMessage{}, nil
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chatMessageRepo) GetMaxSeq(ctx context.Context, chatID uuid.UUID) (int64, error) {
	if chatID == uuid.Nil {
		return 0, fmt.Errorf("missing chat_id")
	}
	var maxSeq int64
	if err := r.db.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("chat_id = ?", chatID).
		Scan(&maxSeq).Error; err != nil {
		return 0, err
	}
	return maxSeq, nil
}

// ListByChat returns messages in ascending seq order.
func (r *chatMessageRepo) ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.ChatMessage
	if err := r.db.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Where("chat_id = ?", chatID).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListRecent returns the newest messages first, for building model history.
func (r *chatMessageRepo) ListRecent(ctx context.Context, chatID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.ChatMessage
	if err := r.db.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Where("chat_id = ?", chatID).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatMessageRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing message_id")
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}
