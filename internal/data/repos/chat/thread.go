package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/danutirta/tanyadata-backend/internal/domain/chat"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

type ChatRepo interface {
	Create(ctx context.Context, row *types.Chat) (*types.Chat, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Chat, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*types.Chat, error)
	TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(ctx context.Context, row *types.Chat) (*types.Chat, error) {
	if row == nil {
		return nil, fmt.Errorf("missing chat")
	}
	if strings.TrimSpace(row.UserID) == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *chatRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Chat, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	var out types.Chat
	if err := r.db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*types.Chat, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.Chat
	if err := r.db.WithContext(ctx).
		Model(&types.Chat{}).
		Where("user_id = ?", userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	return r.db.WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message_at": at,
			"updated_at":      time.Now().UTC(),
		}).Error
}
