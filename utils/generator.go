package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/mooose/redacao-api/models"
	"gorm.io/gorm"
)

// Ambiguous characters (0/O, 1/I) are excluded so codes survive being read
// aloud or retyped from a screenshot.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// maxCodeAttempts bounds collision retries. With a 32-character alphabet and
// codes of length 8+ the space is large enough that hitting this limit means
// something is operationally wrong, not bad luck.
const maxCodeAttempts = 5

var ErrCodeSpaceExhausted = errors.New("referral code space exhausted: could not generate a unique code")

func GenerateUniqueReferralCode(tx *gorm.DB, length int) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode(length)
		if err != nil {
			return "", err
		}

		var count int64
		if err := tx.Model(&models.User{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func randomCode(length int) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeReferralCode uppercases and strips everything non-alphanumeric,
// so "abc-1234 xyz" and "ABC1234XYZ" resolve to the same code.
func NormalizeReferralCode(code string) string {
	var sb strings.Builder
	for _, ch := range strings.ToUpper(strings.TrimSpace(code)) {
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			sb.WriteRune(ch)
		}
	}
	return sb.String()
}
