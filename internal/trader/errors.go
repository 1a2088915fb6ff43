package trader

import (
	"errors"

	"paper-trade-engine/internal/ledger"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrOrderNotFound        = ledger.ErrOrderNotFound
	ErrOrderNotCancellable  = errors.New("order is not cancellable")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrSymbolNotFound       = ledger.ErrSymbolNotFound
	ErrWalletNotFound       = ledger.ErrWalletNotFound
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrRiskDenied           = errors.New("trade denied by risk limits")
)

// RiskDeniedError carries the reason the risk gate gave for rejecting a
// trade. It matches ErrRiskDenied with errors.Is.
type RiskDeniedError struct {
	Rule   string
	Reason string
}

func (e *RiskDeniedError) Error() string {
	return ErrRiskDenied.Error() + ": " + e.Reason
}

func (e *RiskDeniedError) Is(target error) bool {
	return target == ErrRiskDenied
}
