package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mooose/redacao-api/database"
	"github.com/mooose/redacao-api/models"
	"github.com/mooose/redacao-api/services"
	"gorm.io/gorm"
)

type CorrectionsHandler struct {
	Referrals *services.ReferralService
}

func NewCorrectionsHandler(referrals *services.ReferralService) *CorrectionsHandler {
	return &CorrectionsHandler{Referrals: referrals}
}

type CompleteCorrectionRequest struct {
	Theme     string `json:"theme" validate:"required"`
	InputType string `json:"input_type" validate:"omitempty,oneof=text file"`
}

// CompleteCorrection records a finished correction for the caller: one
// credit is debited and the essay row created in a single transaction, then
// the referral activation trigger fires. The grading itself happens in the
// correction service; this endpoint is its completion callback.
func (h *CorrectionsHandler) CompleteCorrection(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req CompleteCorrectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.InputType == "" {
		req.InputType = "text"
	}

	var essay models.Essay
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND credits >= 1", userID).
			Update("credits", gorm.Expr("credits - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return services.ErrInsufficientCredits
		}

		essay = models.Essay{
			ID:        uuid.New(),
			UserID:    userID,
			Theme:     req.Theme,
			InputType: req.InputType,
		}
		if err := tx.Create(&essay).Error; err != nil {
			return err
		}

		entry := models.CreditLedgerEntry{
			ID:     uuid.New(),
			UserID: userID,
			Amount: -1,
			Reason: models.LedgerReasonCorrection,
		}
		return tx.Create(&entry).Error
	})

	if err != nil {
		if errors.Is(err, services.ErrInsufficientCredits) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Not enough credits"})
		}
		log.Printf("Failed to record correction for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record correction"})
	}

	activation, err := h.Referrals.TryActivate(userID, services.TriggerFirstCorrection, c.IP())
	if err != nil {
		// The correction is already committed; the sweep job retries
		// pending referrals, so this only gets logged.
		log.Printf("Referral activation after correction failed for %s: %v", userID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"essay":      essay,
		"activation": activation,
	})
}
