package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	LedgerReasonReferralReward = "referral_reward"
	LedgerReasonCorrection     = "correction"
	LedgerReasonPurchase       = "purchase"
)

// CreditLedgerEntry is an append-only record of every credit movement.
// ReferralID carries a unique index: at most one reward row can ever exist
// per referral, which backs the exactly-once guarantee at the storage layer.
type CreditLedgerEntry struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount     int        `gorm:"not null" json:"amount"`
	Reason     string     `gorm:"size:50;not null" json:"reason"`
	ReferralID *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"referral_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
