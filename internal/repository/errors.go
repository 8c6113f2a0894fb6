// Package repository holds the MySQL data access for the payment ledger,
// sales, sold tickets and settlement reviews.  The sentinel values below
// let the settlement service tell expected concurrency signals apart from
// store failures.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// ErrTicketTaken is returned when a sold-ticket insert hits the unique
// index on number, i.e. another sale owns at least one of the numbers.
var ErrTicketTaken = errors.New("ticket already sold")

// ErrConflict is returned when an update cannot be applied because the
// row is not in the expected state.
var ErrConflict = errors.New("conflict")

const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique-key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(strings.ToLower(err.Error()), "1062")
}

// escapeLike escapes the LIKE wildcards in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
