package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LaunchStatus is the persisted lifecycle state of a presale
type LaunchStatus string

const (
	LaunchStatusUpcoming LaunchStatus = "upcoming"
	LaunchStatusLive     LaunchStatus = "live"
	LaunchStatusFinished LaunchStatus = "finished"
	LaunchStatusEnded    LaunchStatus = "ended"
)

// Launch is a time-boxed presale bound to one on-chain token.
// Price is expressed in lamports per whole token.
type Launch struct {
	ID            string       `gorm:"type:uuid;primarykey" json:"id"`
	MintAddress   string       `gorm:"size:44;uniqueIndex;not null" json:"mint_address"`
	OwnerAddress  string       `gorm:"size:44;not null" json:"owner_address"`
	UserID        string       `gorm:"size:64;not null;index" json:"user_id"`
	Image         string       `gorm:"size:255" json:"image"`
	Name          string       `gorm:"size:50;uniqueIndex;not null" json:"name"`
	Symbol        string       `gorm:"size:5;uniqueIndex;not null" json:"symbol"`
	Description   string       `gorm:"type:text" json:"description"`
	MaxSupply     uint64       `gorm:"not null" json:"max_supply"`
	CurrentSupply uint64       `gorm:"not null;default:0" json:"current_supply"`
	Premint       uint64       `gorm:"not null;default:0" json:"premint"`
	Decimals      uint8        `gorm:"not null" json:"decimals"`
	Price         uint64       `gorm:"not null" json:"price"`
	StartDate     time.Time    `gorm:"not null" json:"start_date"`
	EndDate       time.Time    `gorm:"not null" json:"end_date"`
	Status        LaunchStatus `gorm:"size:16;not null;default:'upcoming';index" json:"status"`
	Website       string       `gorm:"size:255;default:''" json:"website"`
	Twitter       string       `gorm:"size:255;default:''" json:"twitter"`
	Telegram      string       `gorm:"size:255;default:''" json:"telegram"`
	Discord       string       `gorm:"size:255;default:''" json:"discord"`
	CreatedAt     time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Launch) TableName() string {
	return "launch"
}

func (l *Launch) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// RemainingSupply returns how many units can still be sold
func (l *Launch) RemainingSupply() uint64 {
	if l.CurrentSupply >= l.MaxSupply {
		return 0
	}
	return l.MaxSupply - l.CurrentSupply
}
