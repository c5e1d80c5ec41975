package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for an unknown user or a wrong password
var ErrBadCredentials = errors.New("invalid username or password")

// HashPassword hashes a plain text password using bcrypt
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with a plain text password
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// Admin is the single operator account allowed to mutate dashboard state
type Admin struct {
	Username     string
	PasswordHash string
}

// Verify checks a login attempt against the configured account
func (a Admin) Verify(username, password string) error {
	if a.Username == "" || a.PasswordHash == "" {
		return ErrBadCredentials
	}
	if subtle.ConstantTimeCompare([]byte(a.Username), []byte(username)) != 1 {
		return ErrBadCredentials
	}
	if err := ComparePassword(a.PasswordHash, password); err != nil {
		return ErrBadCredentials
	}
	return nil
}
