package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrInvalidEnvelope     = errors.New("invalid envelope")
	ErrUnsupportedEvent    = errors.New("unsupported event type")

	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInsufficientEscrow         = errors.New("insufficient escrow balance")
	ErrOverAllocation             = errors.New("release exceeds milestone allocation")
	ErrInvalidTierConfig          = errors.New("invalid tier config")
	ErrDuplicateEvent             = errors.New("duplicate revenue event")
	ErrInvalidMilestoneTransition = errors.New("invalid milestone transition")
	ErrOracleUnavailable          = errors.New("valuation oracle unavailable")
	ErrVerificationTimeout        = errors.New("proof verification timed out")
	ErrUndefinedRatio             = errors.New("sufficiency ratio undefined: collateral required is zero")
	ErrCollateralBreach           = errors.New("collateral breach blocks release")
	ErrMilestoneOverCommitted     = errors.New("milestone allocations exceed requested funding")
	ErrVersionConflict            = errors.New("ledger version conflict")
)

// TierConfigError pinpoints the tier that failed validation.
type TierConfigError struct {
	Index  int
	Reason string
}

func (e *TierConfigError) Error() string {
	return fmt.Sprintf("%s: tier %d: %s", ErrInvalidTierConfig, e.Index, e.Reason)
}

func (e *TierConfigError) Unwrap() error { return ErrInvalidTierConfig }
