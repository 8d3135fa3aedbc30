package domain

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyGenerated  = errors.New("already_generated")
	ErrNotFound          = errors.New("not_found")
	ErrUnavailable       = errors.New("unavailable")
	ErrEmptyExport       = errors.New("empty_export")

	ErrInvalidPeriod = errors.New("invalid_period")
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidProof  = errors.New("invalid_proof")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrForbidden     = errors.New("forbidden")
)
