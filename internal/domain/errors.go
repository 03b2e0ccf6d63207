package domain

import "errors"

// Error taxonomy shared by services and handlers. Services wrap these with
// context; handlers match them with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

// ErrLastAdmin is the conflict raised when a change would leave a budget without an admin
var ErrLastAdmin = errors.New("cannot remove the last admin from budget; budget must have at least one admin user")

// ErrAlreadyMember is the conflict raised when adding an existing member
var ErrAlreadyMember = errors.New("user already has access to budget")
