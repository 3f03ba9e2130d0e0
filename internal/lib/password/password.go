package password

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const minLength = 8

var specialCharPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)

var ErrTooWeak = errors.New("password too weak")

// Validate enforces the password policy: at least 8 characters and at
// least one special character.
func Validate(password string) error {
	const op = "password.Validate"

	if len(password) < minLength {
		return fmt.Errorf("%s: %w: must be at least %d characters", op, ErrTooWeak, minLength)
	}
	if !specialCharPattern.MatchString(password) {
		return fmt.Errorf("%s: %w: must contain a special character", op, ErrTooWeak)
	}
	return nil
}

// Hash returns the bcrypt hash of a password.
func Hash(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Matches compares a password against a stored hash in constant time.
func Matches(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
