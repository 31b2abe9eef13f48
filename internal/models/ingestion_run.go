package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IngestionRun records one spreadsheet batch written into an inventory table
type IngestionRun struct {
	ID             string     `gorm:"primaryKey" json:"id"`                            // UUID run ID
	ConversationID int64      `gorm:"not null;index;column:conversation_id" json:"conversation_id"`
	Category       string     `gorm:"not null" json:"category"`                         // ftm, uplink
	TargetTable    string     `gorm:"not null;column:target_table" json:"target_table"`
	Status         string     `gorm:"not null;default:starting" json:"status"`          // starting, running, completed, aborted, rejected
	Total          int        `gorm:"not null;default:0" json:"total"`
	Processed      int        `gorm:"not null;default:0" json:"processed"`
	Succeeded      int        `gorm:"not null;default:0" json:"succeeded"`
	Failed         int        `gorm:"not null;default:0" json:"failed"`
	Messages       string     `gorm:"type:text" json:"messages"` // JSON array of strings
	Ledger         string     `gorm:"type:text" json:"ledger"`
	Error          string     `gorm:"type:text" json:"error"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (r *IngestionRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
