package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	chatdomain "github.com/danutirta/tanyadata-backend/internal/domain/chat"
	"github.com/danutirta/tanyadata-backend/internal/platform/envutil"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

// PostgresService owns the application database: chat threads and messages.
// The operational dataset queried by synthesized SQL lives behind
// OperationalDB, which may point at a different database entirely.
type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "tanyadata")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&chatdomain.Chat{},
		&chatdomain.ChatMessage{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	if err := s.db.Exec(`
		ALTER TABLE "chat_message"
		DROP CONSTRAINT IF EXISTS "fk_chat_message_chat_id";
	`).Error; err != nil {
		return fmt.Errorf("failed to reset fk_chat_message_chat_id: %w", err)
	}
	if err := s.db.Exec(`
		ALTER TABLE "chat_message"
		ADD CONSTRAINT "fk_chat_message_chat_id"
		FOREIGN KEY ("chat_id")
		REFERENCES "chat"("id")
		ON DELETE CASCADE
	`).Error; err != nil {
		return fmt.Errorf("failed to add fk_chat_message_chat_id: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
