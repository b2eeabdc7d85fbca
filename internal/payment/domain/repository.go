package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymirror/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository is the durable store for payments, refunds and notification
// events. Every mutating call commits before returning. Find methods return
// (nil, nil) when no row matches. Listings are newest-first by created_at,
// ties broken by descending id.
type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *PaymentRecord) error
	UpdatePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRecord, error)
	FindPaymentByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]PaymentRecord, pagination.PageInfo, error)
	ListStalePayments(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]PaymentRecord, error)

	InsertRefund(ctx context.Context, db *gorm.DB, refund *RefundRecord) error
	UpdateRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindRefundByExternalID(ctx context.Context, db *gorm.DB, externalRefundID string) (*RefundRecord, error)
	ListRefundsForPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]RefundRecord, error)
	// SumActiveRefunds totals refund amounts still counted against the payment
	// balance. Failed and canceled refunds release their amount.
	SumActiveRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)
	ListRefunds(ctx context.Context, db *gorm.DB, filter ListRefundFilter, page pagination.Pagination) ([]RefundRecord, pagination.PageInfo, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *NotificationEvent) (bool, error)
	FindEventByExternalID(ctx context.Context, db *gorm.DB, externalEventID string) (*NotificationEvent, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, externalEventID string, processedAt time.Time) error
	ListEvents(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]NotificationEvent, pagination.PageInfo, error)
}
