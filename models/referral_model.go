package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ReferralStatusPending   = "pending"
	ReferralStatusConfirmed = "confirmed"
	ReferralStatusRejected  = "rejected"
)

// Referral is one referrer->referred relationship. A user can be referred
// at most once (unique index on ReferredUserID). Status only ever moves
// pending->confirmed or pending->rejected, both terminal; the transition is
// a conditional update on the stored status so concurrent activation
// attempts cannot both win.
type Referral struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ReferrerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"referrer_id"`
	ReferredUserID uuid.UUID `gorm:"type:uuid;not null;unique" json:"referred_user_id"`
	Status         string    `gorm:"size:20;not null;default:'pending'" json:"status"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`

	// Metadata captures the facts behind each decision (signup IPs,
	// fingerprint matches, rule outcome, trigger) for dispute resolution.
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	Referrer     User `gorm:"foreignKey:ReferrerID" json:"-"`
	ReferredUser User `gorm:"foreignKey:ReferredUserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
