// Package repository persists gateway accounts, refresh tokens and role
// profiles in MySQL.  Lookups that find nothing return ErrNotFound so
// handlers can map them to 404 without depending on database/sql.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when an account with the same email exists.
var ErrEmailExists = errors.New("email already exists")

// ErrConflict is returned when a write cannot be performed because of
// conflicting state, such as a second profile for the same account.
var ErrConflict = errors.New("conflict")

// isDuplicate reports whether err is a MySQL duplicate-key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
