package repositories

import "fmt"

// StockErrorCode enumerates failure reasons for stock operations.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates a variant has less stock than requested.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorVariantNotFound indicates a stock line names an unknown variant.
	StockErrorVariantNotFound StockErrorCode = "stock_variant_not_found"
	// StockErrorInvalidInput indicates a malformed stock line.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
)

// StockError reports why a stock change was refused.
type StockError struct {
	Code      StockErrorCode
	VariantID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case StockErrorInsufficient:
		return fmt.Sprintf("stock: variant %s has %d, requested %d", e.VariantID, e.Available, e.Requested)
	case StockErrorVariantNotFound:
		return fmt.Sprintf("stock: variant %s not found", e.VariantID)
	}
	return fmt.Sprintf("stock: %s (%s)", e.Code, e.VariantID)
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, variantID string, requested, available int) *StockError {
	return &StockError{Code: code, VariantID: variantID, Requested: requested, Available: available}
}

// CounterErrorCode enumerates failure reasons for sequence numbers.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates a blank counter ID or negative step.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted indicates the counter reached its configured ceiling.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError reports why a counter could not advance.
type CounterError struct {
	Code      CounterErrorCode
	CounterID string
	Ceiling   int64
	Detail    string
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == CounterErrorExhausted {
		return fmt.Sprintf("counter %s: ceiling %d reached", e.CounterID, e.Ceiling)
	}
	return fmt.Sprintf("counter %q: %s", e.CounterID, e.Detail)
}

// NewInvalidCounterError reports a malformed Next call.
func NewInvalidCounterError(counterID, detail string) *CounterError {
	return &CounterError{Code: CounterErrorInvalidInput, CounterID: counterID, Detail: detail}
}

// NewExhaustedCounterError reports a counter that hit ceiling.
func NewExhaustedCounterError(counterID string, ceiling int64) *CounterError {
	return &CounterError{Code: CounterErrorExhausted, CounterID: counterID, Ceiling: ceiling}
}
