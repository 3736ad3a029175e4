/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The pure billing core never returns errors; these are raised at the
  boundaries (parsing, persistence, HTTP).

ERROR CATEGORIES:
  1. Input errors - Unparseable dates, malformed contracts
  2. Store errors - Missing records, duplicate periods

USAGE:
    if errors.Is(err, generic.ErrDuplicatePeriod) {
        // period already billed, safe to ignore on retry
    }

SEE ALSO:
  - time.go: ParseTimePoint wraps ErrInvalidDate
  - factory/contract.go: Returns ContractValidationError
  - store/sqlite/sqlite.go: Returns DuplicatePeriodError
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a date cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidContract is returned when a contract payload is malformed.
	ErrInvalidContract = errors.New("invalid contract")

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = errors.New("contract not found")

	// ErrDuplicatePeriod is returned when a billing period for the same
	// contract and period start was already persisted.
	ErrDuplicatePeriod = errors.New("billing period already exists")

	// ErrInvalidFilter is returned for malformed audit queries.
	ErrInvalidFilter = errors.New("invalid filter")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicatePeriodError identifies the period that collided.
type DuplicatePeriodError struct {
	ContractID  ContractID
	PeriodStart TimePoint
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("billing period already exists: contract %s, period start %s",
		e.ContractID, e.PeriodStart)
}

func (e *DuplicatePeriodError) Unwrap() error {
	return ErrDuplicatePeriod
}

// ContractValidationError lists every problem found in a contract payload.
type ContractValidationError struct {
	Problems []string
}

func (e *ContractValidationError) Error() string {
	return "invalid contract: " + strings.Join(e.Problems, "; ")
}

func (e *ContractValidationError) Unwrap() error {
	return ErrInvalidContract
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrInvalidFilter)
}

// IsConflict returns true if the error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicatePeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound)
}
