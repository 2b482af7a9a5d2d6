package models

import "time"

// SettlementFailure records a purchase whose payment and issuance executed
// on-chain but whose final write failed. Rows are written by the worker
// from the reconciliation queue and resolved by an operator.
type SettlementFailure struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	LaunchID   string     `gorm:"type:uuid;not null;index" json:"launch_id"`
	UserID     string     `gorm:"size:64;not null" json:"user_id"`
	Amount     uint64     `gorm:"not null" json:"amount"`
	TotalPaid  uint64     `gorm:"not null" json:"total_paid"`
	TxidIn     string     `gorm:"size:88;uniqueIndex;not null" json:"txid_in"`
	TxidOut    string     `gorm:"size:88;not null" json:"txid_out"`
	Error      string     `gorm:"type:text" json:"error"`
	OccurredAt time.Time  `gorm:"not null" json:"occurred_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (SettlementFailure) TableName() string {
	return "settlement_failure"
}
