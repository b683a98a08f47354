package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PromptText holds the system prompt. The most recently updated row is current.
type PromptText struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Prompt    string    `gorm:"column:prompt;type:text;not null" json:"prompt"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (PromptText) TableName() string { return "prompt_text" }

func (p *PromptText) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
