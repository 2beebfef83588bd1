// Package accounting converts the constant scaled balances a lending
// protocol mints into underlying economic values via growth indices.
package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept when dividing by an index
// or a price. Multiplications are exact.
const Precision int32 = 18

var ErrNonPositiveIndex = errors.New("accounting: index must be positive")

// Position is the lending-side state of one run. Scaled balances change
// only through Supply, Borrow, Repay and Withdraw; valuation never touches
// them.
type Position struct {
	CollateralToken string
	DebtToken       string

	ScaledCollateral decimal.Decimal
	ScaledDebt       decimal.Decimal

	// Wallet is idle base asset left over from construction.
	Wallet decimal.Decimal

	EntryTime time.Time
}

// Underlying is scaled × index.
func Underlying(scaled, index decimal.Decimal) decimal.Decimal {
	return scaled.Mul(index)
}

// Scale converts an underlying amount to scaled units at index.
func Scale(amount, index decimal.Decimal) (decimal.Decimal, error) {
	if !index.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNonPositiveIndex, index)
	}
	return amount.DivRound(index, Precision), nil
}

// Supply adds collateral (token units) at the current supply index and
// returns the scaled amount minted.
func (p *Position) Supply(amount, index decimal.Decimal) (decimal.Decimal, error) {
	s, err := Scale(amount, index)
	if err != nil {
		return decimal.Zero, err
	}
	p.ScaledCollateral = p.ScaledCollateral.Add(s)
	return s, nil
}

// Withdraw removes collateral (token units).
func (p *Position) Withdraw(amount, index decimal.Decimal) (decimal.Decimal, error) {
	s, err := Scale(amount, index)
	if err != nil {
		return decimal.Zero, err
	}
	if s.GreaterThan(p.ScaledCollateral) {
		return decimal.Zero, fmt.Errorf("accounting: withdraw %s exceeds collateral", amount)
	}
	p.ScaledCollateral = p.ScaledCollateral.Sub(s)
	return s, nil
}

// Borrow adds debt (base units) at the current borrow index.
func (p *Position) Borrow(amount, index decimal.Decimal) (decimal.Decimal, error) {
	s, err := Scale(amount, index)
	if err != nil {
		return decimal.Zero, err
	}
	p.ScaledDebt = p.ScaledDebt.Add(s)
	return s, nil
}

// Repay reduces debt (base units), never below zero.
func (p *Position) Repay(amount, index decimal.Decimal) (decimal.Decimal, error) {
	s, err := Scale(amount, index)
	if err != nil {
		return decimal.Zero, err
	}
	if s.GreaterThan(p.ScaledDebt) {
		s = p.ScaledDebt
	}
	p.ScaledDebt = p.ScaledDebt.Sub(s)
	return s, nil
}

// HasDebt reports whether any debt is outstanding.
func (p Position) HasDebt() bool { return p.ScaledDebt.IsPositive() }
