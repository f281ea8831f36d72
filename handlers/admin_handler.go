package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mooose/redacao-api/database"
	"github.com/mooose/redacao-api/models"
	"gorm.io/gorm"
)

type GrantCreditsRequest struct {
	Amount int    `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"omitempty,max=50"`
}

// GrantCredits lets an admin top up a user's balance, e.g. after a support
// ticket or an offline purchase. Every grant leaves a ledger row.
func GrantCredits(c *fiber.Ctx) error {
	targetID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	var req GrantCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Reason == "" {
		req.Reason = models.LedgerReasonPurchase
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", targetID).
			Update("credits", gorm.Expr("credits + ?", req.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		entry := models.CreditLedgerEntry{
			ID:     uuid.New(),
			UserID: targetID,
			Amount: req.Amount,
			Reason: req.Reason,
		}
		return tx.Create(&entry).Error
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		log.Printf("Failed to grant credits to %s: %v", targetID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to grant credits"})
	}

	return c.JSON(fiber.Map{"message": "Credits granted", "amount": req.Amount})
}
