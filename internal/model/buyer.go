package model

import (
	"errors"
	"strings"
)

var ErrInvalidNationalID = errors.New("invalid national id")

// BuyerInfo carries the contact details a buyer types at checkout.  The
// national id is the key under which a buyer later looks up their
// tickets.  AltPhone is a backup family contact.
type BuyerInfo struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	AltPhone   string `json:"alt_phone,omitempty"`
	Address    string `json:"address"`
}

// Validate normalizes the national id in place and checks the required
// fields.
func (b *BuyerInfo) Validate() error {
	b.Name = strings.TrimSpace(b.Name)
	b.Phone = strings.TrimSpace(b.Phone)
	b.AltPhone = strings.TrimSpace(b.AltPhone)
	b.Address = strings.TrimSpace(b.Address)
	id, err := NormalizeNationalID(b.NationalID)
	if err != nil {
		return err
	}
	b.NationalID = id
	switch {
	case b.Name == "":
		return errors.New("buyer name is required")
	case b.Phone == "":
		return errors.New("buyer phone is required")
	case b.Address == "":
		return errors.New("buyer address is required")
	}
	return nil
}

// NormalizeNationalID converts the forms buyers actually type into the
// stored "V-12345678" form.  Accepted inputs include "V-12345678",
// "v12345678", "E - 1234567" and a bare "12345678" (defaults to V).
func NormalizeNationalID(raw string) (string, error) {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if s == "" {
		return "", ErrInvalidNationalID
	}
	kind := byte('V')
	switch s[0] {
	case 'V', 'E':
		kind = s[0]
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "-")
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return "", ErrInvalidNationalID
		}
		digits = append(digits, c)
	}
	if len(digits) < 5 || len(digits) > 10 {
		return "", ErrInvalidNationalID
	}
	return string(kind) + "-" + string(digits), nil
}
