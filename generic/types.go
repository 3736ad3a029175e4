/*
Package generic provides the shared primitives of the retroactive billing engine.

PURPOSE:
  Domain-neutral building blocks used by every other package: calendar
  days, periods, billing cycles, identifiers, money helpers and the
  sentinel errors. Nothing in here knows about contracts or audit trails.

KEY CONCEPTS IN THIS FILE (types.go):
  - ContractID / TenantID: Type-safe identifiers, never interpreted
  - Money helpers over decimal.Decimal

DESIGN PRINCIPLES:
  1. Precision: Amounts are decimal.Decimal, never float64
  2. Type Safety: Strong typing for IDs prevents mixing tenant/contract IDs
  3. Determinism: No clock reads outside Today()

SEE ALSO:
  - time.go: TimePoint and month arithmetic
  - period.go: Period and BillingCycle
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type TenantID string

// =============================================================================
// MONEY
// =============================================================================

// ParseDecimal parses a decimal amount.
func ParseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParseDecimal is ParseDecimal for literals. It panics on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Sum adds all amounts; the sum of nothing is zero.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
