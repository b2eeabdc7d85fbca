package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"gorm.io/gorm"
)

// WorkPayment is the claim row for one stale mirror record.
type WorkPayment struct {
	ID                snowflake.ID
	ExternalPaymentID string
	Status            paymentdomain.PaymentStatus
	LiveMode          bool
	UpdatedAt         time.Time
}

// FetchStalePaymentsForWork claims a batch of non-terminal payments that have
// not been touched since the cutoff. Claiming uses FOR UPDATE SKIP LOCKED so
// concurrent sweepers divide the backlog instead of repeating each other;
// reconcile itself is idempotent, so an overlapping claim after the short
// claim transaction commits is harmless.
func (s *Scheduler) FetchStalePaymentsForWork(ctx context.Context, cutoff time.Time, limit int) ([]WorkPayment, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}

	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var payments []WorkPayment
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return tx.WithContext(claimCtx).Raw(
			`SELECT id, external_payment_id, status, live_mode, updated_at
			 FROM payments
			 WHERE status IN (?, ?, ?)
			   AND updated_at <= ?
			 ORDER BY updated_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			paymentdomain.PaymentStatusRequiresPaymentMethod,
			paymentdomain.PaymentStatusRequiresAction,
			paymentdomain.PaymentStatusProcessing,
			cutoff,
			limit,
		).Scan(&payments).Error
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}
