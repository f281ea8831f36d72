package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	config "github.com/mooose/redacao-api/configs"
	"github.com/mooose/redacao-api/database"
	"github.com/mooose/redacao-api/models"
	"github.com/mooose/redacao-api/notifications"
	"github.com/mooose/redacao-api/services"
	"github.com/mooose/redacao-api/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var validate = validator.New()

type AuthHandler struct {
	Referrals *services.ReferralService
}

func NewAuthHandler(referrals *services.ReferralService) *AuthHandler {
	return &AuthHandler{Referrals: referrals}
}

type RegisterRequest struct {
	FullName          string  `json:"full_name" validate:"required,min=3"`
	Email             string  `json:"email" validate:"required,email"`
	Password          string  `json:"password" validate:"required,min=6"`
	ReferredByCode    *string `json:"referred_by_code,omitempty"`
	DeviceFingerprint *string `json:"device_fingerprint,omitempty"`
}

type UserResponse struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	ReferralCode string    `json:"referral_code"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) RegisterUser(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to hash password"})
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate verification token"})
	}
	verificationToken := hex.EncodeToString(tokenBytes)

	signupIP := c.IP()

	var newUser models.User
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		uniqueCode, err := utils.GenerateUniqueReferralCode(tx, h.Referrals.Config.CodeLength)
		if err != nil {
			return err
		}

		newUser = models.User{
			ID:                uuid.New(),
			FullName:          req.FullName,
			Email:             req.Email,
			Password:          string(hashedPassword),
			ReferralCode:      &uniqueCode,
			VerificationToken: &verificationToken,
			SignupIP:          &signupIP,
			DeviceFingerprint: req.DeviceFingerprint,
		}
		if err := tx.Create(&newUser).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.New("email already exists")
			}
			return err
		}

		if req.ReferredByCode != nil {
			if _, err := h.Referrals.ApplyOnSignup(tx, &newUser, *req.ReferredByCode); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, utils.ErrCodeSpaceExhausted) {
			log.Printf("🔥 Referral code space exhausted, check REFERRAL_CODE_LENGTH: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not allocate a referral code"})
		}
		if err.Error() == "email already exists" {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create user"})
	}

	verifyLink := fmt.Sprintf("%s/verify-email?token=%s", h.Referrals.Config.FrontendURL, verificationToken)
	go notifications.SendEmail(
		newUser.FullName,
		newUser.Email,
		"Confirm your email",
		fmt.Sprintf("<h1>Welcome!</h1><p>Click the link below to confirm your email address.</p><p><a href='%s'>Confirm Email</a></p>", verifyLink),
	)

	response := UserResponse{
		ID:           newUser.ID.String(),
		FullName:     newUser.FullName,
		Email:        newUser.Email,
		Role:         newUser.Role,
		ReferralCode: *newUser.ReferralCode,
		CreatedAt:    newUser.CreatedAt,
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	type Request struct {
		Token string `json:"token" validate:"required"`
	}
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var user models.User
	if err := database.DB.Where("verification_token = ?", req.Token).First(&user).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid verification token"})
	}

	user.IsVerified = true
	user.VerificationToken = nil
	if err := database.DB.Save(&user).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to verify email"})
	}

	return c.JSON(fiber.Map{"message": "Email verified successfully."})
}

func (h *AuthHandler) LoginUser(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var user models.User
	result := database.DB.Where("email = ?", req.Email).First(&user)
	if result.Error != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	}

	err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	}

	claims := jwt.MapClaims{
		"user_id": user.ID.String(),
		"role":    user.Role,
		"exp":     time.Now().Add(time.Hour * 72).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	t, err := token.SignedString([]byte(config.Config("JWT_SECRET")))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create token"})
	}

	return c.JSON(fiber.Map{"token": t})
}

func currentUserID(c *fiber.Ctx) (uuid.UUID, error) {
	token := c.Locals("user").(*jwt.Token)
	claims := token.Claims.(jwt.MapClaims)
	return uuid.Parse(claims["user_id"].(string))
}
