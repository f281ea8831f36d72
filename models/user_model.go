package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	FullName string    `gorm:"size:255" json:"full_name"`
	Email    string    `gorm:"size:255;not null;unique" json:"email"`
	Password string    `gorm:"not null" json:"-"`
	Role     string    `gorm:"size:20;not null;default:'student'" json:"role"`

	IsVerified        bool    `gorm:"not null;default:false" json:"is_verified"`
	VerificationToken *string `gorm:"size:255;unique" json:"-"`

	// Credits pay for essay corrections. Mutated only together with a
	// CreditLedgerEntry so every change leaves an audit row.
	Credits int `gorm:"not null;default:0" json:"credits"`

	ReferralCode *string    `gorm:"size:12;unique" json:"referral_code"`
	ReferredByID *uuid.UUID `gorm:"type:uuid;index" json:"referred_by_id"`
	// ReferralRewarded mirrors the referral row's confirmed status for the
	// legacy schema. Written inside the activation transaction, never read
	// back; referrals.status is the source of truth.
	ReferralRewarded bool `gorm:"not null;default:false" json:"-"`

	SignupIP          *string `gorm:"size:45" json:"-"`
	DeviceFingerprint *string `gorm:"size:128" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
