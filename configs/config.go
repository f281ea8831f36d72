package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func Config(key string) string {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("Warning: .env file not found, reading from system environment variables")
	}

	return os.Getenv(key)
}

func configInt(key string, fallback int) int {
	raw := Config(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: invalid value for %s (%q), using default %d", key, raw, fallback)
		return fallback
	}
	return value
}

// RewardCredits is the amount credited to a referrer per confirmed referral.
func RewardCredits() int {
	return configInt("REFERRAL_REWARD_CREDITS", 2)
}

// CodeLength returns the referral code length, clamped to the supported
// 8-12 range so a bad env value cannot shrink the code space.
func CodeLength() int {
	length := configInt("REFERRAL_CODE_LENGTH", 10)
	if length < 8 {
		return 8
	}
	if length > 12 {
		return 12
	}
	return length
}

func RateLimitRequests() int {
	return configInt("RATE_LIMIT_REQUESTS", 5)
}

func RateLimitWindow() time.Duration {
	return time.Duration(configInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
}
