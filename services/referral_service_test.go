package services

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mooose/redacao-api/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// A single connection serializes concurrent transactions the way a
	// row-locked Postgres would; the CAS still decides the winner.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.Essay{}, &models.Referral{}, &models.CreditLedgerEntry{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *ReferralService {
	t.Helper()
	return NewReferralService(newTestDB(t), ReferralConfig{
		RewardCredits: 2,
		CodeLength:    10,
		FrontendURL:   "https://mooose.com.br",
	})
}

func createTestUser(t *testing.T, db *gorm.DB, email, code string, verified bool, signupIP string) *models.User {
	t.Helper()

	user := models.User{
		ID:         uuid.New(),
		FullName:   "Test User",
		Email:      email,
		Password:   "hash",
		IsVerified: verified,
	}
	if code != "" {
		user.ReferralCode = &code
	}
	if signupIP != "" {
		user.SignupIP = &signupIP
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return &user
}

func createTestEssay(t *testing.T, db *gorm.DB, userID uuid.UUID) {
	t.Helper()
	essay := models.Essay{ID: uuid.New(), UserID: userID, Theme: "Tema", InputType: "text"}
	if err := db.Create(&essay).Error; err != nil {
		t.Fatalf("failed to create essay: %v", err)
	}
}

func linkReferral(t *testing.T, svc *ReferralService, referred *models.User, code string) *models.Referral {
	t.Helper()
	referral, err := svc.ApplyOnSignup(svc.DB, referred, code)
	if err != nil {
		t.Fatalf("ApplyOnSignup failed: %v", err)
	}
	return referral
}

func reloadUser(t *testing.T, db *gorm.DB, id uuid.UUID) *models.User {
	t.Helper()
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	return &user
}

func reloadReferral(t *testing.T, db *gorm.DB, referredID uuid.UUID) *models.Referral {
	t.Helper()
	var referral models.Referral
	if err := db.First(&referral, "referred_user_id = ?", referredID).Error; err != nil {
		t.Fatalf("failed to reload referral: %v", err)
	}
	return &referral
}

func TestApplyOnSignup_UnknownCodeIgnored(t *testing.T) {
	svc := newTestService(t)
	createTestUser(t, svc.DB, "ref@example.com", "ABCDEFGH22", true, "1.1.1.1")
	newUser := createTestUser(t, svc.DB, "new@example.com", "NEWUSER222", false, "2.2.2.2")

	referral := linkReferral(t, svc, newUser, "DOESNOTEXIST")

	if referral != nil {
		t.Fatalf("expected no referral for unknown code, got %+v", referral)
	}
	if reloadUser(t, svc.DB, newUser.ID).ReferredByID != nil {
		t.Error("expected referred_by_id to stay unset")
	}
	var count int64
	svc.DB.Model(&models.Referral{}).Count(&count)
	if count != 0 {
		t.Errorf("expected 0 referrals, got %d", count)
	}
}

func TestApplyOnSignup_SelfReferralIgnored(t *testing.T) {
	svc := newTestService(t)
	user := createTestUser(t, svc.DB, "self@example.com", "SELFREF222", true, "1.1.1.1")

	referral := linkReferral(t, svc, user, *user.ReferralCode)

	if referral != nil {
		t.Fatalf("expected self-referral to be ignored, got %+v", referral)
	}
	var count int64
	svc.DB.Model(&models.Referral{}).Count(&count)
	if count != 0 {
		t.Errorf("expected 0 referrals, got %d", count)
	}
}

func TestApplyOnSignup_NormalizesCode(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "ref@example.com", "ABC234XYZW", true, "1.1.1.1")
	newUser := createTestUser(t, svc.DB, "new@example.com", "NEWUSER222", false, "2.2.2.2")

	referral := linkReferral(t, svc, newUser, "  abc-234 xyzw ")

	if referral == nil {
		t.Fatal("expected a referral for normalized code")
	}
	if referral.ReferrerID != referrer.ID {
		t.Errorf("expected referrer %s, got %s", referrer.ID, referral.ReferrerID)
	}
	if referral.Status != models.ReferralStatusPending {
		t.Errorf("expected pending status, got %s", referral.Status)
	}
}

func TestApplyOnSignup_DuplicateReferredReturnsExisting(t *testing.T) {
	svc := newTestService(t)
	referrerA := createTestUser(t, svc.DB, "a@example.com", "AAAA234567", true, "1.1.1.1")
	createTestUser(t, svc.DB, "b@example.com", "BBBB234567", true, "3.3.3.3")
	referred := createTestUser(t, svc.DB, "new@example.com", "NEWUSER222", false, "2.2.2.2")

	first := linkReferral(t, svc, referred, "AAAA234567")
	second := linkReferral(t, svc, referred, "BBBB234567")

	if first == nil || second == nil {
		t.Fatal("expected referrals from both calls")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing referral back, got new row %s", second.ID)
	}
	if second.ReferrerID != referrerA.ID {
		t.Errorf("expected original referrer kept, got %s", second.ReferrerID)
	}
	var count int64
	svc.DB.Model(&models.Referral{}).Count(&count)
	if count != 1 {
		t.Errorf("expected exactly 1 referral, got %d", count)
	}
}

func TestTryActivate_NoReferral(t *testing.T) {
	svc := newTestService(t)
	user := createTestUser(t, svc.DB, "lonely@example.com", "LONELY2345", true, "1.1.1.1")

	result, err := svc.TryActivate(user.ID, TriggerManual, "9.9.9.9")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}
	if result.Status != ActivationStatusNone || result.Credited {
		t.Errorf("expected none/uncredited, got %+v", result)
	}
}

func TestTryActivate_CreditsExactlyOnce(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")
	referred := createTestUser(t, svc.DB, "referred@example.com", "REFERRED22", true, "10.0.0.2")
	linkReferral(t, svc, referred, *referrer.ReferralCode)
	createTestEssay(t, svc.DB, referred.ID)

	result, err := svc.TryActivate(referred.ID, TriggerFirstCorrection, "10.0.0.2")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}

	if !result.Credited || result.CreditsAdded != 2 || result.Status != models.ReferralStatusConfirmed {
		t.Errorf("expected confirmed with 2 credits, got %+v", result)
	}
	if got := reloadUser(t, svc.DB, referrer.ID).Credits; got != 2 {
		t.Errorf("expected referrer balance 2, got %d", got)
	}
	if !reloadUser(t, svc.DB, referred.ID).ReferralRewarded {
		t.Error("expected referral_rewarded flag set on referred user")
	}

	referral := reloadReferral(t, svc.DB, referred.ID)
	if referral.Status != models.ReferralStatusConfirmed || referral.ConfirmedAt == nil {
		t.Errorf("expected confirmed referral with timestamp, got %+v", referral)
	}
	if referral.Metadata["trigger"] != TriggerFirstCorrection {
		t.Errorf("expected trigger recorded in metadata, got %v", referral.Metadata)
	}

	var ledger int64
	svc.DB.Model(&models.CreditLedgerEntry{}).
		Where("referral_id = ?", referral.ID).Count(&ledger)
	if ledger != 1 {
		t.Errorf("expected exactly 1 ledger row for the referral, got %d", ledger)
	}
}

func TestTryActivate_Idempotent(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")
	referred := createTestUser(t, svc.DB, "referred@example.com", "REFERRED22", true, "10.0.0.2")
	linkReferral(t, svc, referred, *referrer.ReferralCode)
	createTestEssay(t, svc.DB, referred.ID)

	first, err := svc.TryActivate(referred.ID, TriggerManual, "")
	if err != nil {
		t.Fatalf("first TryActivate failed: %v", err)
	}
	second, err := svc.TryActivate(referred.ID, TriggerManual, "")
	if err != nil {
		t.Fatalf("second TryActivate failed: %v", err)
	}

	if !first.Credited {
		t.Errorf("expected first call to credit, got %+v", first)
	}
	if second.Credited || second.CreditsAdded != 0 {
		t.Errorf("expected second call to be a no-op, got %+v", second)
	}
	if second.Status != models.ReferralStatusConfirmed {
		t.Errorf("expected second call to report confirmed, got %s", second.Status)
	}
	if got := reloadUser(t, svc.DB, referrer.ID).Credits; got != 2 {
		t.Errorf("expected balance unchanged at 2, got %d", got)
	}
}

func TestTryActivate_SharedIPRejected(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")
	referred := createTestUser(t, svc.DB, "referred@example.com", "REFERRED22", true, "10.0.0.1")
	linkReferral(t, svc, referred, *referrer.ReferralCode)
	createTestEssay(t, svc.DB, referred.ID)

	result, err := svc.TryActivate(referred.ID, TriggerManual, "10.0.0.1")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}

	if result.Credited || result.Status != models.ReferralStatusRejected {
		t.Errorf("expected rejection despite eligibility criteria, got %+v", result)
	}
	if result.Reason != "shared-ip" {
		t.Errorf("expected shared-ip reason, got %s", result.Reason)
	}
	if got := reloadUser(t, svc.DB, referrer.ID).Credits; got != 0 {
		t.Errorf("expected no credit, got %d", got)
	}

	// Rejection is terminal: further attempts observe it.
	again, err := svc.TryActivate(referred.ID, TriggerManual, "10.0.0.1")
	if err != nil {
		t.Fatalf("second TryActivate failed: %v", err)
	}
	if again.Status != models.ReferralStatusRejected || again.Credited {
		t.Errorf("expected terminal rejected, got %+v", again)
	}
}

func TestTryActivate_SharedDeviceRejected(t *testing.T) {
	svc := newTestService(t)
	fingerprint := "fp-same-device"
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")
	referred := createTestUser(t, svc.DB, "referred@example.com", "REFERRED22", true, "10.0.0.2")
	svc.DB.Model(&models.User{}).Where("id IN ?", []uuid.UUID{referrer.ID, referred.ID}).
		Update("device_fingerprint", fingerprint)
	linkReferral(t, svc, referred, *referrer.ReferralCode)
	createTestEssay(t, svc.DB, referred.ID)

	result, err := svc.TryActivate(referred.ID, TriggerManual, "")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}
	if result.Status != models.ReferralStatusRejected || result.Reason != "shared-device" {
		t.Errorf("expected shared-device rejection, got %+v", result)
	}
}

func TestTryActivate_NotYetEligibleStaysPendingThenCreditsOnce(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")
	referred := createTestUser(t, svc.DB, "referred@example.com", "REFERRED22", false, "10.0.0.2")
	linkReferral(t, svc, referred, *referrer.ReferralCode)

	result, err := svc.TryActivate(referred.ID, TriggerManual, "")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}
	if result.Status != models.ReferralStatusPending || result.Reason != "email-unverified" {
		t.Errorf("expected pending/email-unverified, got %+v", result)
	}

	svc.DB.Model(&models.User{}).Where("id = ?", referred.ID).Update("is_verified", true)

	result, err = svc.TryActivate(referred.ID, TriggerManual, "")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}
	if result.Status != models.ReferralStatusPending || result.Reason != "no-activity" {
		t.Errorf("expected pending/no-activity, got %+v", result)
	}
	if got := reloadUser(t, svc.DB, referrer.ID).Credits; got != 0 {
		t.Errorf("expected no credit while pending, got %d", got)
	}

	createTestEssay(t, svc.DB, referred.ID)

	result, err = svc.TryActivate(referred.ID, TriggerFirstCorrection, "")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}
	if !result.Credited || result.CreditsAdded != 2 {
		t.Errorf("expected credit after criteria met, got %+v", result)
	}
	if got := reloadUser(t, svc.DB, referrer.ID).Credits; got != 2 {
		t.Errorf("expected balance 2 after confirmation, got %d", got)
	}
}

func TestTryActivate_LegacySelfReferralRowRejected(t *testing.T) {
	svc := newTestService(t)
	user := createTestUser(t, svc.DB, "self@example.com", "SELFREF234", true, "10.0.0.1")
	createTestEssay(t, svc.DB, user.ID)

	// Signup guards forbid this; simulate a row written before they
	// existed.
	referral := models.Referral{
		ID:             uuid.New(),
		ReferrerID:     user.ID,
		ReferredUserID: user.ID,
		Status:         models.ReferralStatusPending,
	}
	if err := svc.DB.Create(&referral).Error; err != nil {
		t.Fatalf("failed to seed referral: %v", err)
	}

	result, err := svc.TryActivate(user.ID, TriggerManual, "")
	if err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}
	if result.Status != models.ReferralStatusRejected || result.Reason != "self-referral" {
		t.Errorf("expected self-referral rejection, got %+v", result)
	}
	if got := reloadUser(t, svc.DB, user.ID).Credits; got != 0 {
		t.Errorf("expected no self-credit, got %d", got)
	}
}

func TestTryActivate_ConcurrentCallsCreditOnce(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")
	referred := createTestUser(t, svc.DB, "referred@example.com", "REFERRED22", true, "10.0.0.2")
	linkReferral(t, svc, referred, *referrer.ReferralCode)
	createTestEssay(t, svc.DB, referred.ID)

	const attempts = 8
	results := make([]ActivationResult, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.TryActivate(referred.ID, TriggerManual, "")
		}(i)
	}
	wg.Wait()

	credited := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("attempt %d failed: %v", i, errs[i])
		}
		if results[i].Credited {
			credited++
		}
		if results[i].Status != models.ReferralStatusConfirmed && results[i].Status != models.ReferralStatusPending {
			t.Errorf("attempt %d: unexpected status %s", i, results[i].Status)
		}
	}

	if credited != 1 {
		t.Errorf("expected exactly 1 credited attempt, got %d", credited)
	}
	if got := reloadUser(t, svc.DB, referrer.ID).Credits; got != 2 {
		t.Errorf("expected referrer balance 2 after %d concurrent attempts, got %d", attempts, got)
	}

	var ledger int64
	svc.DB.Model(&models.CreditLedgerEntry{}).Where("user_id = ?", referrer.ID).Count(&ledger)
	if ledger != 1 {
		t.Errorf("expected exactly 1 ledger row, got %d", ledger)
	}
}

func TestSummary(t *testing.T) {
	svc := newTestService(t)
	referrer := createTestUser(t, svc.DB, "referrer@example.com", "ABC234XYZW", true, "10.0.0.1")

	pendingUser := createTestUser(t, svc.DB, "p@example.com", "PENDING234", false, "10.0.0.2")
	linkReferral(t, svc, pendingUser, *referrer.ReferralCode)

	confirmedUser := createTestUser(t, svc.DB, "c@example.com", "CONFIRM234", true, "10.0.0.3")
	linkReferral(t, svc, confirmedUser, *referrer.ReferralCode)
	createTestEssay(t, svc.DB, confirmedUser.ID)
	if _, err := svc.TryActivate(confirmedUser.ID, TriggerFirstCorrection, ""); err != nil {
		t.Fatalf("TryActivate failed: %v", err)
	}

	summary, err := svc.Summary(referrer.ID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	if summary.ReferralCode != "ABC234XYZW" {
		t.Errorf("unexpected code %s", summary.ReferralCode)
	}
	if summary.ReferralLink != "https://mooose.com.br/register?ref=ABC234XYZW" {
		t.Errorf("unexpected link %s", summary.ReferralLink)
	}
	if summary.RewardPerReferral != 2 {
		t.Errorf("unexpected reward %d", summary.RewardPerReferral)
	}
	if summary.Stats.Pending != 1 || summary.Stats.Confirmed != 1 {
		t.Errorf("unexpected stats %+v", summary.Stats)
	}
	if summary.Stats.TotalEarnedCredits != 2 {
		t.Errorf("expected 2 earned credits, got %d", summary.Stats.TotalEarnedCredits)
	}
}

func TestSummary_GeneratesCodeForLegacyUser(t *testing.T) {
	svc := newTestService(t)
	user := createTestUser(t, svc.DB, "legacy@example.com", "", true, "10.0.0.1")

	summary, err := svc.Summary(user.ID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(summary.ReferralCode) != 10 {
		t.Errorf("expected generated 10-char code, got %q", summary.ReferralCode)
	}
	if got := reloadUser(t, svc.DB, user.ID).ReferralCode; got == nil || *got != summary.ReferralCode {
		t.Error("expected generated code persisted on the user")
	}
}
