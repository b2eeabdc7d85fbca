package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentStatusRequiresAction        PaymentStatus = "requires_action"
	PaymentStatusProcessing            PaymentStatus = "processing"
	PaymentStatusSucceeded             PaymentStatus = "succeeded"
	PaymentStatusFailed                PaymentStatus = "failed"
	PaymentStatusCanceled              PaymentStatus = "canceled"
)

// Terminal reports whether the status accepts no further transitions.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	default:
		return false
	}
}

type RefundStatus string

const (
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusSucceeded  RefundStatus = "succeeded"
	RefundStatusFailed     RefundStatus = "failed"
	RefundStatusCanceled   RefundStatus = "canceled"
)

// Terminal reports whether the refund accepts no further transitions.
func (s RefundStatus) Terminal() bool {
	switch s {
	case RefundStatusSucceeded, RefundStatusFailed, RefundStatusCanceled:
		return true
	default:
		return false
	}
}

// NormalizeRefundStatus maps the provider's wire value onto the local status
// set. The provider reports an in-flight refund as "pending".
func NormalizeRefundStatus(raw string) RefundStatus {
	if raw == "pending" {
		return RefundStatusProcessing
	}
	return RefundStatus(raw)
}

type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
)

// ValidRefundReason reports whether the reason belongs to the closed set the
// provider accepts.
func ValidRefundReason(reason RefundReason) bool {
	switch reason {
	case RefundReasonRequestedByCustomer, RefundReasonDuplicate, RefundReasonFraudulent:
		return true
	default:
		return false
	}
}

// PaymentRecord mirrors one provider payment intent. Status is a cache of
// provider truth; on disagreement the provider-reported status overwrites it.
type PaymentRecord struct {
	ID                    snowflake.ID  `json:"id" gorm:"primaryKey"`
	ExternalPaymentID     string        `json:"external_payment_id" gorm:"type:text;not null;uniqueIndex:ux_payments_external_payment_id"`
	AmountMinorUnits      int64         `json:"amount_minor_units" gorm:"not null"`
	Currency              string        `json:"currency" gorm:"type:text;not null"`
	Status                PaymentStatus `json:"status" gorm:"type:text;not null"`
	CustomerEmail         string        `json:"customer_email,omitempty" gorm:"type:text"`
	Description           string        `json:"description,omitempty" gorm:"type:text"`
	CardLast4             string        `json:"card_last4,omitempty" gorm:"type:text"`
	PaymentMethodBrand    string        `json:"payment_method_brand,omitempty" gorm:"type:text"`
	ProviderFeeMinorUnits *int64        `json:"provider_fee_minor_units,omitempty"`
	LiveMode              bool          `json:"live_mode" gorm:"not null"`
	CreatedAt             time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time     `json:"updated_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payments" }

// RefundRecord mirrors one provider refund against a locally known payment.
// LiveMode is copied from the parent payment and never changes.
type RefundRecord struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	ExternalRefundID  string       `json:"external_refund_id" gorm:"type:text;not null;uniqueIndex:ux_refunds_external_refund_id"`
	PaymentID         snowflake.ID `json:"payment_id" gorm:"not null;index"`
	ExternalPaymentID string       `json:"external_payment_id" gorm:"type:text;not null;index"`
	AmountMinorUnits  int64        `json:"amount_minor_units" gorm:"not null"`
	Currency          string       `json:"currency" gorm:"type:text;not null"`
	Reason            RefundReason `json:"reason,omitempty" gorm:"type:text"`
	Status            RefundStatus `json:"status" gorm:"type:text;not null"`
	Notes             string       `json:"notes,omitempty" gorm:"type:text"`
	LiveMode          bool         `json:"live_mode" gorm:"not null"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (RefundRecord) TableName() string { return "refunds" }

// NotificationEvent is one inbound provider event, stored verbatim before any
// side effect runs. ExternalEventID is the ingestion idempotency key; rows are
// never deleted.
type NotificationEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ExternalEventID string         `json:"external_event_id" gorm:"type:text;not null;uniqueIndex:ux_notification_events_external_event_id"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	RawPayload      datatypes.JSON `json:"raw_payload" gorm:"type:jsonb;not null"`
	Processed       bool           `json:"processed" gorm:"not null"`
	LiveMode        bool           `json:"live_mode" gorm:"not null"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (NotificationEvent) TableName() string { return "notification_events" }
