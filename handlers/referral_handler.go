package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/mooose/redacao-api/services"
)

type ReferralHandler struct {
	Referrals *services.ReferralService
}

func NewReferralHandler(referrals *services.ReferralService) *ReferralHandler {
	return &ReferralHandler{Referrals: referrals}
}

// GetMyReferral returns the caller's code, shareable link and per-status
// referral counts.
func (h *ReferralHandler) GetMyReferral(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	summary, err := h.Referrals.Summary(userID)
	if err != nil {
		log.Printf("Failed to build referral summary for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load referral summary"})
	}

	return c.JSON(summary)
}

// ActivateReferral re-checks the caller's own referred record. The response
// shape is the same whether this call confirmed the referral or a previous
// trigger already did.
func (h *ReferralHandler) ActivateReferral(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	result, err := h.Referrals.TryActivate(userID, services.TriggerManual, c.IP())
	if err != nil {
		log.Printf("Referral activation failed for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Activation attempt failed, try again later"})
	}

	return c.JSON(result)
}
