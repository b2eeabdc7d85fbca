package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/paymirror/internal/mode"
	"github.com/smallbiznis/paymirror/pkg/db/pagination"
)

type CreatePaymentRequest struct {
	AmountMinorUnits int64
	Currency         string
	Description      string
	CustomerEmail    string
}

// CreatePaymentResponse carries the stored record plus the client secret the
// checkout widget needs to complete the charge. The secret is never stored.
type CreatePaymentResponse struct {
	Payment      PaymentRecord `json:"payment"`
	ClientSecret string        `json:"client_secret"`
}

type ListPaymentsRequest struct {
	PageToken string
	PageSize  int
	LiveMode  *bool
	Status    string
}

type ListPaymentsResponse struct {
	pagination.PageInfo
	Payments []PaymentRecord `json:"payments"`
}

type ListPaymentFilter struct {
	LiveMode *bool
	Status   string
}

type CreateRefundRequest struct {
	ExternalPaymentID string
	// AmountMinorUnits nil refunds the full remaining balance.
	AmountMinorUnits *int64
	Reason           RefundReason
	Notes            string
}

type ListRefundsRequest struct {
	PageToken         string
	PageSize          int
	LiveMode          *bool
	ExternalPaymentID string
}

type ListRefundsResponse struct {
	pagination.PageInfo
	Refunds []RefundRecord `json:"refunds"`
}

type ListRefundFilter struct {
	LiveMode          *bool
	ExternalPaymentID string
}

type ListEventsRequest struct {
	PageToken string
	PageSize  int
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []NotificationEvent `json:"events"`
}

// SyncResult counts one historical import run.
type SyncResult struct {
	PaymentsSeen    int `json:"payments_seen"`
	PaymentsCreated int `json:"payments_created"`
	RefundsSeen     int `json:"refunds_seen"`
	RefundsCreated  int `json:"refunds_created"`
}

// Service is the reconciliation engine: the sole writer path into the store.
// Operations that talk to the provider take the mode snapshot captured by the
// caller at entry, so a concurrent mode switch never splits one operation
// across credential sets.
type Service interface {
	CreatePayment(ctx context.Context, mc mode.Context, req CreatePaymentRequest) (CreatePaymentResponse, error)
	GetPayment(ctx context.Context, externalID string) (PaymentRecord, error)
	ListPayments(ctx context.Context, req ListPaymentsRequest) (ListPaymentsResponse, error)
	ReconcilePaymentStatus(ctx context.Context, mc mode.Context, externalID string) (PaymentRecord, error)

	CreateRefund(ctx context.Context, mc mode.Context, req CreateRefundRequest) (RefundRecord, error)
	ListRefunds(ctx context.Context, req ListRefundsRequest) (ListRefundsResponse, error)
	ListRefundsForPayment(ctx context.Context, externalID string) ([]RefundRecord, error)

	IngestNotificationEvent(ctx context.Context, mc mode.Context, rawBody []byte, signatureHeader string) (*NotificationEvent, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)

	SyncHistoricalData(ctx context.Context, mc mode.Context) (SyncResult, error)
}

var (
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrAmountTooSmall        = errors.New("amount_too_small")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidReason         = errors.New("invalid_reason")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrRefundNotFound        = errors.New("refund_not_found")
	ErrRefundRejected        = errors.New("refund_rejected")
	ErrRefundExceedsBalance  = errors.New("refund_exceeds_balance")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
