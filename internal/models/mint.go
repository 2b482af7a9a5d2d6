package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Mint is the settlement record of one completed purchase. Rows are
// append-only. TxidIn is unique so one signed payment can only ever be
// credited once.
type Mint struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	Amount    uint64    `gorm:"not null" json:"amount"`
	TotalPaid uint64    `gorm:"not null" json:"total_paid"`
	TxidIn    string    `gorm:"size:88;uniqueIndex;not null" json:"txid_in"`
	TxidOut   string    `gorm:"size:88;not null" json:"txid_out"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	LaunchID  string    `gorm:"type:uuid;not null;index" json:"launch_id"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Mint) TableName() string {
	return "mint"
}

func (m *Mint) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
