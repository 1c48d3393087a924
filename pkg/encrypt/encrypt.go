package encrypt

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = bcrypt.DefaultCost

var (
	// ErrWeakPassword password rule not satisfied
	ErrWeakPassword = errors.New("password does not meet strength requirements")
	// ErrPasswordMismatch hash and password differ
	ErrPasswordMismatch = errors.New("password does not match")

	upperRule   = regexp.MustCompile(`[A-Z]`)
	digitRule   = regexp.MustCompile(`[0-9]`)
	specialRule = regexp.MustCompile(`[!@#\$%\^&\*]`)
)

// ValidatePasswordStrength 至少 8 碼, 含大寫, 數字, 特殊字元
func ValidatePasswordStrength(password string) error {
	switch {
	case len(password) < 8:
		return fmt.Errorf("%w: at least 8 characters", ErrWeakPassword)
	case !upperRule.MatchString(password):
		return fmt.Errorf("%w: missing uppercase letter", ErrWeakPassword)
	case !digitRule.MatchString(password):
		return fmt.Errorf("%w: missing digit", ErrWeakPassword)
	case !specialRule.MatchString(password):
		return fmt.Errorf("%w: missing special character (!@#$%%^&*)", ErrWeakPassword)
	}
	return nil
}

// HashPassword 檢查強度後以 bcrypt 加密
func HashPassword(password string) (string, error) {
	if err := ValidatePasswordStrength(password); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword 驗證密碼是否匹配
func CheckPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
