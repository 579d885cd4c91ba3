package apperr

import "net/http"

// Code is a machine-readable error code shared by the engine, the reference
// authority and the remote client.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Input errors, rejected before any state mutation.
	CodeValidation Code = "VALIDATION"

	// Business-rule rejections.
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyOwned         Code = "ALREADY_OWNED"
	CodeAlreadyClaimed       Code = "ALREADY_CLAIMED"
	CodePassNotPurchased     Code = "PASS_NOT_PURCHASED"
	CodePassAlreadyPurchased Code = "PASS_ALREADY_PURCHASED"
	CodeTierNotReached       Code = "TIER_NOT_REACHED"
	CodeNotOwned             Code = "NOT_OWNED"
	CodeNotUnlocked          Code = "NOT_UNLOCKED"

	// Session and transport.
	CodeNotFound           Code = "NOT_FOUND"
	CodeTransient          Code = "TRANSIENT"
	CodeSessionInvalidated Code = "SESSION_INVALIDATED"
)

var knownCodes = map[Code]struct{}{
	CodeUnknown:              {},
	CodeValidation:           {},
	CodeInsufficientFunds:    {},
	CodeAlreadyOwned:         {},
	CodeAlreadyClaimed:       {},
	CodePassNotPurchased:     {},
	CodePassAlreadyPurchased: {},
	CodeTierNotReached:       {},
	CodeNotOwned:             {},
	CodeNotUnlocked:          {},
	CodeNotFound:             {},
	CodeTransient:            {},
	CodeSessionInvalidated:   {},
}

// IsKnownCode reports whether c is one of the codes above.
func IsKnownCode(c Code) bool {
	_, ok := knownCodes[c]
	return ok
}

// IsBusinessRule reports whether c is a business-rule rejection that should be
// rendered to the user rather than retried.
func (c Code) IsBusinessRule() bool {
	switch c {
	case CodeInsufficientFunds, CodeAlreadyOwned, CodeAlreadyClaimed,
		CodePassNotPurchased, CodePassAlreadyPurchased, CodeTierNotReached,
		CodeNotOwned, CodeNotUnlocked:
		return true
	}
	return false
}

// HTTPStatus maps a code to the status the reference authority answers with.
func (c Code) HTTPStatus() int {
	switch {
	case c == CodeValidation:
		return http.StatusBadRequest
	case c == CodeNotFound:
		return http.StatusNotFound
	case c == CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case c.IsBusinessRule():
		return http.StatusConflict
	case c == CodeTransient:
		return http.StatusServiceUnavailable
	case c == CodeSessionInvalidated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
