package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/mindbridge-backend/internal/domain/chat"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&user.User{},
		&chat.Thread{},
		&chat.PromptText{},
	); err != nil {
		return err
	}
	return EnsureChatIndexes(db)
}

func (s *SQLService) AutoMigrateAll() error { return AutoMigrateAll(s.db) }

func EnsureChatIndexes(db *gorm.DB) error {
	// Thread listing is always per user and mode, newest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_thread_user_mode_updated
		ON chat_thread (user_id, mode, updated_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_thread_user_mode_updated: %w", err)
	}
	return nil
}
