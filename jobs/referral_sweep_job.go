package jobs

import (
	"log"
	"time"

	"github.com/mooose/redacao-api/database"
	"github.com/mooose/redacao-api/models"
	"github.com/mooose/redacao-api/services"
)

// SweepPendingReferrals re-checks referrals that have sat in pending for a
// while, catching users who qualified without a trigger firing (e.g. email
// verified after their first correction). It goes through the same
// TryActivate as every other trigger, so it can never double-credit.
func SweepPendingReferrals(referrals *services.ReferralService) {
	log.Println("Running job: SweepPendingReferrals...")

	cutoff := time.Now().Add(-1 * time.Hour)

	var pending []models.Referral
	err := database.DB.
		Where("status = ? AND created_at < ?", models.ReferralStatusPending, cutoff).
		Limit(200).
		Find(&pending).Error
	if err != nil {
		log.Printf("Error loading pending referrals: %v", err)
		return
	}

	if len(pending) == 0 {
		return
	}

	confirmed := 0
	for _, referral := range pending {
		result, err := referrals.TryActivate(referral.ReferredUserID, services.TriggerSweep, "")
		if err != nil {
			log.Printf("Sweep activation failed for referral %s: %v", referral.ID, err)
			continue
		}
		if result.Credited {
			confirmed++
		}
	}

	log.Printf("Referral sweep finished: %d checked, %d confirmed", len(pending), confirmed)
}
