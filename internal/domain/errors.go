package domain

import (
	"errors"
	"net/http"
)

// Error is a ledger failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidInput           = &Error{Code: "INVALID_INPUT", Message: "invalid input", Status: http.StatusBadRequest}
	ErrKycRequired            = &Error{Code: "KYC_REQUIRED", Message: "KYC approval required", Status: http.StatusForbidden}
	ErrInsufficientCollateral = &Error{Code: "INSUFFICIENT_COLLATERAL", Message: "insufficient collateral", Status: http.StatusBadRequest}
	ErrActivePositionExists   = &Error{Code: "ACTIVE_POSITION_EXISTS", Message: "an active borrow position already exists", Status: http.StatusConflict}
	ErrExceedsLtv             = &Error{Code: "EXCEEDS_LTV", Message: "requested amount exceeds maximum loan-to-value", Status: http.StatusBadRequest}
	ErrNoFundsDestination     = &Error{Code: "NO_FUNDS_DESTINATION", Message: "no funds destination configured", Status: http.StatusBadRequest}
	ErrPositionNotFound       = &Error{Code: "POSITION_NOT_FOUND", Message: "borrow position not found", Status: http.StatusNotFound}
	ErrExceedsDebt            = &Error{Code: "EXCEEDS_DEBT", Message: "repayment exceeds outstanding debt", Status: http.StatusBadRequest}
	ErrInsufficientFunds      = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient vault funds", Status: http.StatusBadRequest}
	ErrPaymentRequired        = &Error{Code: "PAYMENT_REQUIRED", Message: "external payment required", Status: http.StatusPaymentRequired}
	ErrDistributionInProgress = &Error{Code: "DISTRIBUTION_IN_PROGRESS", Message: "a distribution run is already in progress", Status: http.StatusConflict}
	ErrInvariantViolation     = &Error{Code: "INVARIANT_VIOLATION", Message: "ledger invariant violated", Status: http.StatusInternalServerError}
	ErrPropertyNotFound       = &Error{Code: "PROPERTY_NOT_FOUND", Message: "property not found", Status: http.StatusNotFound}
	ErrRentPaymentNotFound    = &Error{Code: "RENT_PAYMENT_NOT_FOUND", Message: "rent payment not found", Status: http.StatusNotFound}
	ErrVaultNotFound          = &Error{Code: "VAULT_NOT_FOUND", Message: "vault account not found", Status: http.StatusNotFound}
)

// AsError extracts the ledger error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
