package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinOperatorCost is the lowest bcrypt cost accepted for the operator hash.
const MinOperatorCost = 10

// HashPassword returns a bcrypt hash of plain.  A cost below bcrypt's
// minimum is raised to bcrypt.DefaultCost.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// CheckHash validates a configured bcrypt hash so a typo in
// OPERATOR_PASSWORD_HASH is caught at boot instead of at the first login.
func CheckHash(hash string) error {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return err
	}
	if cost < MinOperatorCost {
		return errors.New("bcrypt cost below 10")
	}
	return nil
}
