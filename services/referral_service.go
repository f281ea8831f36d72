package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mooose/redacao-api/models"
	"github.com/mooose/redacao-api/notifications"
	"github.com/mooose/redacao-api/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUnknownReferrer     = errors.New("referral code does not resolve to a user")
	ErrSelfReferral        = errors.New("users cannot refer themselves")
	ErrDuplicateReferred   = errors.New("user already has a referral")
	ErrInsufficientCredits = errors.New("not enough credits")
)

// Activation triggers. All paths call the identical TryActivate, so the
// outcome never depends on which trigger fired first.
const (
	TriggerFirstCorrection = "first_correction_done"
	TriggerManual          = "manual"
	TriggerSweep           = "sweep"
)

const ActivationStatusNone = "none"

// ActivationResult is the deterministic shape every activation attempt
// resolves to, whether this call performed the transition or merely
// observed an earlier one.
type ActivationResult struct {
	Status       string `json:"status"`
	Credited     bool   `json:"credited"`
	CreditsAdded int    `json:"credits_added"`
	Reason       string `json:"reason,omitempty"`
}

type ReferralConfig struct {
	RewardCredits int
	CodeLength    int
	FrontendURL   string
}

// ReferralService owns the referral lifecycle: it is the only writer of
// referral status and of referral-related credit movements.
type ReferralService struct {
	DB     *gorm.DB
	Gate   *FraudGate
	Config ReferralConfig
}

func NewReferralService(db *gorm.DB, cfg ReferralConfig) *ReferralService {
	return &ReferralService{
		DB:     db,
		Gate:   NewFraudGate(),
		Config: cfg,
	}
}

// ApplyOnSignup links a freshly registered user to the owner of refCode and
// creates the pending referral, inside the registration transaction. A bad
// or unknown code never fails registration; the user simply signs up
// without a referral link.
func (s *ReferralService) ApplyOnSignup(tx *gorm.DB, newUser *models.User, refCode string) (*models.Referral, error) {
	code := utils.NormalizeReferralCode(refCode)
	if code == "" {
		return nil, nil
	}

	referrer, err := s.resolveReferrer(tx, code)
	if err != nil {
		if errors.Is(err, ErrUnknownReferrer) {
			log.Printf("referral_ignored reason=unknown_code code=%s", code)
			return nil, nil
		}
		return nil, err
	}

	metadata := datatypes.JSONMap{"ref_code": code}
	if newUser.SignupIP != nil {
		metadata["signup_ip"] = *newUser.SignupIP
	}
	if newUser.DeviceFingerprint != nil {
		metadata["device_fingerprint"] = *newUser.DeviceFingerprint
	}

	referral, err := s.createReferral(tx, referrer.ID, newUser.ID, metadata)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfReferral):
			log.Printf("referral_ignored reason=self_referral user_id=%s", newUser.ID)
			return nil, nil
		case errors.Is(err, ErrDuplicateReferred):
			log.Printf("referral_ignored reason=duplicate_referred referred_id=%s", newUser.ID)
			return s.getByReferred(tx, newUser.ID)
		default:
			return nil, err
		}
	}

	newUser.ReferredByID = &referrer.ID
	if err := tx.Model(&models.User{}).Where("id = ?", newUser.ID).
		Update("referred_by_id", referrer.ID).Error; err != nil {
		return nil, err
	}

	log.Printf("referral_created referrer_id=%s referred_id=%s", referrer.ID, newUser.ID)
	return referral, nil
}

// resolveReferrer maps a normalized code to its owner.
func (s *ReferralService) resolveReferrer(tx *gorm.DB, code string) (*models.User, error) {
	var referrer models.User
	if err := tx.Where("referral_code = ?", code).First(&referrer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownReferrer
		}
		return nil, err
	}
	return &referrer, nil
}

func (s *ReferralService) createReferral(tx *gorm.DB, referrerID, referredID uuid.UUID, metadata datatypes.JSONMap) (*models.Referral, error) {
	if referrerID == referredID {
		return nil, ErrSelfReferral
	}

	var count int64
	if err := tx.Model(&models.Referral{}).Where("referred_user_id = ?", referredID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateReferred
	}

	referral := models.Referral{
		ID:             uuid.New(),
		ReferrerID:     referrerID,
		ReferredUserID: referredID,
		Status:         models.ReferralStatusPending,
		Metadata:       metadata,
	}
	if err := tx.Create(&referral).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

func (s *ReferralService) getByReferred(tx *gorm.DB, referredID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	if err := tx.Where("referred_user_id = ?", referredID).First(&referral).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

// TryActivate runs one activation attempt for the referred user. It is
// idempotent: once a referral has left pending, every further call returns
// the recorded outcome with Credited=false. Storage errors abort the
// attempt without touching state and are safe to retry.
func (s *ReferralService) TryActivate(referredUserID uuid.UUID, trigger, requestIP string) (ActivationResult, error) {
	referral, err := s.getByReferred(s.DB, referredUserID)
	if err != nil {
		return ActivationResult{}, err
	}
	if referral == nil {
		return ActivationResult{Status: ActivationStatusNone, Reason: "no_referral"}, nil
	}

	if referral.Status != models.ReferralStatusPending {
		return ActivationResult{Status: referral.Status, Reason: "already_" + referral.Status}, nil
	}

	var referred models.User
	if err := s.DB.First(&referred, "id = ?", referredUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ActivationResult{Status: ActivationStatusNone, Reason: "user_not_found"}, nil
		}
		return ActivationResult{}, err
	}

	var referrer models.User
	if err := s.DB.First(&referrer, "id = ?", referral.ReferrerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The referrer row is gone; nobody can ever be credited.
			return s.reject(referral, Decision{
				Outcome: DecisionIneligible,
				Reason:  "referrer-missing",
			}, trigger, requestIP)
		}
		return ActivationResult{}, err
	}

	var essayCount int64
	if err := s.DB.Model(&models.Essay{}).Where("user_id = ?", referredUserID).Count(&essayCount).Error; err != nil {
		return ActivationResult{}, err
	}

	decision := s.Gate.Evaluate(&FraudInput{
		Referrer:   &referrer,
		Referred:   &referred,
		EssayCount: essayCount,
	})

	switch decision.Outcome {
	case DecisionIneligible:
		return s.reject(referral, decision, trigger, requestIP)
	case DecisionNotYetEligible:
		return ActivationResult{Status: models.ReferralStatusPending, Reason: decision.Reason}, nil
	default:
		return s.confirm(referral, &referrer, decision, trigger, requestIP)
	}
}

// reject moves pending->rejected with a conditional update. Losing the race
// to another caller is a normal outcome, not an error: the current persisted
// status is returned either way.
func (s *ReferralService) reject(referral *models.Referral, decision Decision, trigger, requestIP string) (ActivationResult, error) {
	metadata := mergeMetadata(referral.Metadata, decision, trigger, requestIP)

	res := s.DB.Model(&models.Referral{}).
		Where("id = ? AND status = ?", referral.ID, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":   models.ReferralStatusRejected,
			"metadata": metadata,
		})
	if res.Error != nil {
		return ActivationResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		return s.currentOutcome(referral.ID)
	}

	log.Printf("referral_rejected reason=%s referrer_id=%s referred_id=%s",
		decision.Reason, referral.ReferrerID, referral.ReferredUserID)
	return ActivationResult{Status: models.ReferralStatusRejected, Reason: decision.Reason}, nil
}

// confirm performs the reward path: the status compare-and-swap, the credit
// increment and the ledger row all commit in one transaction, so a partial
// state where the referral is confirmed but the credit missing can never be
// observed. The unique index on credit_ledger_entries.referral_id is the
// storage-level backstop should the CAS ever be bypassed.
func (s *ReferralService) confirm(referral *models.Referral, referrer *models.User, decision Decision, trigger, requestIP string) (ActivationResult, error) {
	now := time.Now().UTC()
	metadata := mergeMetadata(referral.Metadata, decision, trigger, requestIP)

	swapped := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", referral.ID, models.ReferralStatusPending).
			Updates(map[string]interface{}{
				"status":       models.ReferralStatusConfirmed,
				"confirmed_at": now,
				"metadata":     metadata,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		swapped = true

		if err := tx.Model(&models.User{}).Where("id = ?", referral.ReferrerID).
			Update("credits", gorm.Expr("credits + ?", s.Config.RewardCredits)).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", referral.ReferredUserID).
			Update("referral_rewarded", true).Error; err != nil {
			return err
		}

		entry := models.CreditLedgerEntry{
			ID:         uuid.New(),
			UserID:     referral.ReferrerID,
			Amount:     s.Config.RewardCredits,
			Reason:     models.LedgerReasonReferralReward,
			ReferralID: &referral.ID,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return ActivationResult{}, err
	}
	if !swapped {
		return s.currentOutcome(referral.ID)
	}

	log.Printf("referral_confirmed referrer_id=%s referred_id=%s credits=%d trigger=%s",
		referral.ReferrerID, referral.ReferredUserID, s.Config.RewardCredits, trigger)

	go notifications.SendEmail(
		referrer.FullName,
		referrer.Email,
		"You've Earned Referral Credits!",
		fmt.Sprintf("<h1>Congratulations!</h1><p>Someone you invited completed their first correction. %d credits have been added to your account.</p>", s.Config.RewardCredits),
	)

	return ActivationResult{
		Status:       models.ReferralStatusConfirmed,
		Credited:     true,
		CreditsAdded: s.Config.RewardCredits,
		Reason:       "credited",
	}, nil
}

// currentOutcome reports the persisted status after a lost compare-and-swap.
func (s *ReferralService) currentOutcome(referralID uuid.UUID) (ActivationResult, error) {
	var current models.Referral
	if err := s.DB.First(&current, "id = ?", referralID).Error; err != nil {
		return ActivationResult{}, err
	}
	return ActivationResult{Status: current.Status, Reason: "already_" + current.Status}, nil
}

func mergeMetadata(existing datatypes.JSONMap, decision Decision, trigger, requestIP string) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range decision.Facts {
		merged[k] = v
	}
	merged["outcome"] = string(decision.Outcome)
	merged["reason"] = decision.Reason
	merged["trigger"] = trigger
	if requestIP != "" {
		merged["activation_ip"] = requestIP
	}
	return merged
}

type ReferralStats struct {
	Pending            int64 `json:"pending"`
	Confirmed          int64 `json:"confirmed"`
	TotalEarnedCredits int64 `json:"total_earned_credits"`
}

type ReferralSummary struct {
	ReferralCode      string        `json:"referral_code"`
	ReferralLink      string        `json:"referral_link"`
	RewardPerReferral int           `json:"reward_per_referral"`
	Stats             ReferralStats `json:"stats"`
}

// Summary builds the caller's referral dashboard. Accounts created before
// referral codes existed get one generated on first read.
func (s *ReferralService) Summary(userID uuid.UUID) (*ReferralSummary, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	if user.ReferralCode == nil || *user.ReferralCode == "" {
		code, err := utils.GenerateUniqueReferralCode(s.DB, s.Config.CodeLength)
		if err != nil {
			return nil, err
		}
		if err := s.DB.Model(&models.User{}).Where("id = ?", user.ID).
			Update("referral_code", code).Error; err != nil {
			return nil, err
		}
		user.ReferralCode = &code
	}

	var stats ReferralStats
	if err := s.DB.Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", user.ID, models.ReferralStatusPending).
		Count(&stats.Pending).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", user.ID, models.ReferralStatusConfirmed).
		Count(&stats.Confirmed).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.CreditLedgerEntry{}).
		Where("user_id = ? AND reason = ?", user.ID, models.LedgerReasonReferralReward).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.TotalEarnedCredits).Error; err != nil {
		return nil, err
	}

	return &ReferralSummary{
		ReferralCode:      *user.ReferralCode,
		ReferralLink:      fmt.Sprintf("%s/register?ref=%s", s.Config.FrontendURL, *user.ReferralCode),
		RewardPerReferral: s.Config.RewardCredits,
		Stats:             stats,
	}, nil
}
