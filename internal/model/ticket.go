package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxTicketNumber is the highest number on the board.  The pool is the
// fixed range 000-999.
const MaxTicketNumber = 999

// PoolSize is the number of tickets on sale.
const PoolSize = MaxTicketNumber + 1

var (
	ErrEmptySelection     = errors.New("at least one ticket number is required")
	ErrTicketOutOfRange   = errors.New("ticket number out of range")
	ErrDuplicateSelection = errors.New("duplicate ticket number in selection")
)

// TicketNumber identifies a ticket on the board.  It has no lifecycle of
// its own: a number is sold exactly when a sold_tickets row exists for it.
// It is rendered as three zero-padded digits ("007") everywhere it
// leaves the process.
type TicketNumber uint16

// String renders the canonical three-digit form.
func (n TicketNumber) String() string { return fmt.Sprintf("%03d", uint16(n)) }

// Valid reports whether n lies inside the board.
func (n TicketNumber) Valid() bool { return n <= MaxTicketNumber }

// ParseTicketNumber accepts "7", "07" or "007".
func ParseTicketNumber(s string) (TicketNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrTicketOutOfRange
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > MaxTicketNumber {
		return 0, fmt.Errorf("%w: %q", ErrTicketOutOfRange, s)
	}
	return TicketNumber(v), nil
}

// MarshalJSON writes the number as its padded string form.
func (n TicketNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON accepts either a JSON number (42) or a string ("042").
func (n *TicketNumber) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := ParseTicketNumber(s)
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// NormalizeSelection validates a buyer's selection and returns it sorted
// ascending.  The input slice is not modified.
func NormalizeSelection(in []TicketNumber) ([]TicketNumber, error) {
	if len(in) == 0 {
		return nil, ErrEmptySelection
	}
	out := make([]TicketNumber, 0, len(in))
	seen := make(map[TicketNumber]struct{}, len(in))
	for _, n := range in {
		if !n.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrTicketOutOfRange, n)
		}
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSelection, n)
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// JoinNumbers renders numbers as "017,042", the storage form used by the
// sales.ticket_numbers column.
func JoinNumbers(nums []TicketNumber) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = n.String()
	}
	return strings.Join(parts, ",")
}

// SplitNumbers is the inverse of JoinNumbers.  Empty input yields an empty
// slice.
func SplitNumbers(s string) ([]TicketNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []TicketNumber{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]TicketNumber, 0, len(parts))
	for _, p := range parts {
		n, err := ParseTicketNumber(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// SoldTicket records the ownership of one number.  The number column is
// unique across the whole table and is the final arbiter against selling
// a number twice.  Rows are only written by the settlement saga as one
// batch per sale and are only deleted when that batch is rolled back.
//
// Fields:
//
//	Number          – sold_tickets.number (unique).
//	BuyerNationalID – national id of the buyer.
//	SaleID          – sale that owns the number.
//	CreatedAt       – insertion timestamp.
type SoldTicket struct {
	Number          TicketNumber `db:"number" json:"number"`
	BuyerNationalID string       `db:"national_id" json:"-"`
	SaleID          uint64       `db:"sale_id" json:"sale_id"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}
