package models

import "time"

// FeePayment records a verified creation fee so its transaction can pay for
// only one launch or token.
type FeePayment struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Txid         string    `gorm:"size:88;uniqueIndex;not null" json:"txid"`
	Operation    string    `gorm:"size:32;not null" json:"operation"`
	OwnerAddress string    `gorm:"size:44;not null" json:"owner_address"`
	UserID       string    `gorm:"size:64;not null" json:"user_id"`
	Amount       uint64    `gorm:"not null" json:"amount"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (FeePayment) TableName() string {
	return "fee_payment"
}
