package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCandles is returned when the exchange has no bars for a symbol.
	ErrNoCandles = errors.New("no candles returned")
	// ErrGate marks a failure of the shared rate gate itself; it is cycle-fatal.
	ErrGate = errors.New("rate gate unavailable")
	// ErrBelowMinQuantity is an order quantity that rounds below the symbol's lot minimum.
	ErrBelowMinQuantity = errors.New("quantity below exchange minimum")
	// ErrNothingToReduce is a reduce-only order rejected because the exchange
	// position is already flat.
	ErrNothingToReduce = errors.New("no position to reduce")
)

// FetchError is a network, auth or rate-limit failure talking to the exchange.
type FetchError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DataError is a malformed or empty exchange response.
type DataError struct {
	Symbol string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data %s: %v", e.Symbol, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// PersistenceError is corrupt or unreadable stored state for one symbol.
type PersistenceError struct {
	Symbol string
	Kind   string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Kind, e.Symbol, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExecutionError is a failed order. The position transition it belonged to
// did not happen.
type ExecutionError struct {
	Symbol string
	Action string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s %s: %v", e.Action, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ReconciliationConflict describes a disagreement between stored and exchange
// positions found at startup.
type ReconciliationConflict struct {
	Symbol   string
	Local    string
	Exchange string
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("reconcile %s: local=%s exchange=%s", e.Symbol, e.Local, e.Exchange)
}

// Kind names the error class for reports and metrics labels.
func Kind(err error) string {
	var (
		fe *FetchError
		de *DataError
		pe *PersistenceError
		ee *ExecutionError
		rc *ReconciliationConflict
	)
	switch {
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &de):
		return "data"
	case errors.As(err, &pe):
		return "persistence"
	case errors.As(err, &ee):
		return "execution"
	case errors.As(err, &rc):
		return "reconciliation"
	case errors.Is(err, ErrGate):
		return "gate"
	default:
		return "other"
	}
}
