package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrProviderRequest  = errors.New("provider_request_failed")
	ErrSignatureInvalid = errors.New("signature_invalid")
	ErrEventMalformed   = errors.New("event_malformed")
)

// ProviderError carries the provider's own error code and message verbatim so
// the operator sees exactly what the provider said.
type ProviderError struct {
	HTTPStatus int
	Type       string
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider request failed: %s (code=%s, status=%d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("provider request failed: %s (status=%d)", e.Message, e.HTTPStatus)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderRequest
}

// refundRejectionCodes are provider codes meaning the charge cannot be
// refunded as requested. The provider's judgement is authoritative.
var refundRejectionCodes = map[string]struct{}{
	"charge_already_refunded":         {},
	"charge_not_refundable":           {},
	"charge_disputed":                 {},
	"amount_too_large":                {},
	"payment_intent_unexpected_state": {},
}

// IsRefundRejected reports whether the provider rejected a refund request as
// not refundable, as opposed to a transport or auth failure.
func IsRefundRejected(err error) bool {
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		return false
	}
	_, ok := refundRejectionCodes[provErr.Code]
	return ok
}
