package models

import (
	"time"

	"github.com/google/uuid"
)

// Essay records one completed correction. Grading happens in the correction
// service; here only the per-user count matters, as the activity signal for
// referral activation.
type Essay struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Theme     string    `gorm:"size:255;not null" json:"theme"`
	InputType string    `gorm:"size:20;not null;default:'text'" json:"input_type"`

	User User `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
