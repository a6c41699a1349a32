package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

// ErrCheckViolation is returned when a write would break a column check,
// such as driving a credit balance below zero.
var ErrCheckViolation = errors.New("check constraint violated")

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return ErrConflict
		case checkViolation:
			return ErrCheckViolation
		}
	}
	return err
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
