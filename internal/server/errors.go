package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	"github.com/smallbiznis/paymirror/internal/gateway"
	"github.com/smallbiznis/paymirror/internal/mode"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrSyncInProgress     = errors.New("sync_in_progress")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationSentinel(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrKeyInvalid):
		return http.StatusUnauthorized, errorPayload{
			Code:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Code:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Code:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, mode.ErrModeNotConfigured):
		// The request is well-formed; the active mode just has no credentials.
		return http.StatusConflict, errorPayload{
			Code:    "mode_not_configured",
			Message: "active mode has no provider credentials configured",
		}
	case errors.Is(err, ErrSyncInProgress):
		return http.StatusConflict, errorPayload{
			Code:    "sync_in_progress",
			Message: "a historical sync is already running",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Code:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, paymentdomain.ErrRefundRejected),
		errors.Is(err, paymentdomain.ErrRefundExceedsBalance):
		return http.StatusUnprocessableEntity, errorPayload{
			Code:    refundErrorCode(err),
			Message: "refund cannot be processed",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Code:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, gateway.ErrProviderRequest):
		return http.StatusBadGateway, providerErrorPayload(err)
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Code:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

// providerErrorPayload passes the provider's own code and message through
// verbatim; hiding them would just push operators to the provider dashboard.
func providerErrorPayload(err error) errorPayload {
	var provErr *gateway.ProviderError
	if errors.As(err, &provErr) {
		code := provErr.Code
		if code == "" {
			code = "provider_request_failed"
		}
		return errorPayload{
			Code:    code,
			Message: provErr.Message,
		}
	}
	return errorPayload{
		Code:    "provider_request_failed",
		Message: "provider request failed",
	}
}

func refundErrorCode(err error) string {
	if errors.Is(err, paymentdomain.ErrRefundExceedsBalance) {
		return "refund_exceeds_balance"
	}
	return "refund_rejected"
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationSentinel(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrAmountTooSmall),
		errors.Is(err, paymentdomain.ErrInvalidCurrency),
		errors.Is(err, paymentdomain.ErrInvalidReason),
		errors.Is(err, mode.ErrInvalidMode),
		errors.Is(err, gateway.ErrSignatureInvalid),
		errors.Is(err, gateway.ErrEventMalformed),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidScope),
		errors.Is(err, apikeydomain.ErrInvalidKeyID):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrRefundNotFound),
		errors.Is(err, apikeydomain.ErrKeyNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, paymentdomain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, paymentdomain.ErrAmountTooSmall):
		return "amount_too_small"
	case errors.Is(err, paymentdomain.ErrInvalidCurrency):
		return "invalid_currency"
	case errors.Is(err, paymentdomain.ErrInvalidReason):
		return "invalid_reason"
	case errors.Is(err, mode.ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, gateway.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, gateway.ErrEventMalformed):
		return "event_malformed"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_amount", "amount_too_small":
		return "amount_minor_units"
	case "invalid_currency":
		return "currency"
	case "invalid_reason":
		return "reason"
	case "invalid_mode":
		return "mode"
	case "signature_invalid", "event_malformed":
		return "body"
	case "invalid_name":
		return "name"
	case "invalid_scope":
		return "scopes"
	case "invalid_key_id":
		return "key_id"
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "amount_too_small":
		return "amount is below the currency minimum"
	case "signature_invalid":
		return "signature verification failed"
	case "event_malformed":
		return "event payload could not be decoded"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog labels request-log entries; the webhook route uses the
// signature_error type to keep probe noise out of warn-level logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}

	switch {
	case errors.Is(err, gateway.ErrSignatureInvalid):
		return "signature_error", "signature_invalid"
	case asValidationErrors(err) != nil:
		return "validation_error", "validation_error"
	case isValidationSentinel(err):
		return "validation_error", validationErrorCode(err)
	case errors.Is(err, ErrUnauthorized), errors.Is(err, apikeydomain.ErrKeyInvalid):
		return "auth_error", "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "auth_error", "forbidden"
	case isNotFoundError(err):
		return "not_found", "not_found"
	case errors.Is(err, mode.ErrModeNotConfigured):
		return "mode_error", "mode_not_configured"
	case errors.Is(err, ErrSyncInProgress):
		return "conflict", "sync_in_progress"
	case errors.Is(err, ErrConflict):
		return "conflict", "conflict"
	case errors.Is(err, paymentdomain.ErrRefundRejected), errors.Is(err, paymentdomain.ErrRefundExceedsBalance):
		return "refund_error", refundErrorCode(err)
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "rate_limited"
	case errors.Is(err, gateway.ErrProviderRequest):
		return "provider_error", providerErrorPayload(err).Code
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable", "service_unavailable"
	default:
		return "internal_error", "internal_error"
	}
}
