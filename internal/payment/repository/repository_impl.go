package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	paymentColumns = `id, external_payment_id, amount_minor_units, currency, status,
		customer_email, description, card_last4, payment_method_brand,
		provider_fee_minor_units, live_mode, created_at, updated_at`

	refundColumns = `id, external_refund_id, payment_id, external_payment_id,
		amount_minor_units, currency, reason, status, notes, live_mode,
		created_at, updated_at`

	eventColumns = `id, external_event_id, event_type, raw_payload, processed,
		live_mode, created_at, processed_at`
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, external_payment_id, amount_minor_units, currency, status,
			customer_email, description, card_last4, payment_method_brand,
			provider_fee_minor_units, live_mode, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.ExternalPaymentID,
		payment.AmountMinorUnits,
		payment.Currency,
		payment.Status,
		payment.CustomerEmail,
		payment.Description,
		payment.CardLast4,
		payment.PaymentMethodBrand,
		payment.ProviderFeeMinorUnits,
		payment.LiveMode,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return updateByID(ctx, db, "payments", id, fields)
}

func (r *repo) FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPaymentByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE external_payment_id = ?
		 LIMIT 1`,
		externalID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]domain.PaymentRecord, pagination.PageInfo, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	args := []any{}

	if filter.LiveMode != nil {
		query += ` AND live_mode = ?`
		args = append(args, *filter.LiveMode)
	}
	if strings.TrimSpace(filter.Status) != "" {
		query += ` AND status = ?`
		args = append(args, strings.TrimSpace(filter.Status))
	}

	query, args, err := applyCursor(query, args, page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	var items []domain.PaymentRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	items, info := pagination.Window(items, limit, func(p domain.PaymentRecord) pagination.Cursor {
		return pagination.Cursor{ID: int64(p.ID), CreatedAt: p.CreatedAt}
	})
	return items, info, nil
}

func (r *repo) ListStalePayments(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]domain.PaymentRecord, error) {
	var items []domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status NOT IN (?, ?, ?)
		   AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.PaymentStatusSucceeded,
		domain.PaymentStatusFailed,
		domain.PaymentStatusCanceled,
		updatedBefore,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.RefundRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (
			id, external_refund_id, payment_id, external_payment_id,
			amount_minor_units, currency, reason, status, notes, live_mode,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.ExternalRefundID,
		refund.PaymentID,
		refund.ExternalPaymentID,
		refund.AmountMinorUnits,
		refund.Currency,
		refund.Reason,
		refund.Status,
		refund.Notes,
		refund.LiveMode,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repo) UpdateRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return updateByID(ctx, db, "refunds", id, fields)
}

func (r *repo) FindRefundByExternalID(ctx context.Context, db *gorm.DB, externalRefundID string) (*domain.RefundRecord, error) {
	var item domain.RefundRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE external_refund_id = ?
		 LIMIT 1`,
		externalRefundID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListRefundsForPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.RefundRecord, error) {
	var items []domain.RefundRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE payment_id = ?
		 ORDER BY created_at DESC, id DESC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumActiveRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_minor_units), 0)
		 FROM refunds
		 WHERE payment_id = ? AND status NOT IN (?, ?)`,
		paymentID,
		domain.RefundStatusFailed,
		domain.RefundStatusCanceled,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) ListRefunds(ctx context.Context, db *gorm.DB, filter domain.ListRefundFilter, page pagination.Pagination) ([]domain.RefundRecord, pagination.PageInfo, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE 1=1`
	args := []any{}

	if filter.LiveMode != nil {
		query += ` AND live_mode = ?`
		args = append(args, *filter.LiveMode)
	}
	if strings.TrimSpace(filter.ExternalPaymentID) != "" {
		query += ` AND external_payment_id = ?`
		args = append(args, strings.TrimSpace(filter.ExternalPaymentID))
	}

	query, args, err := applyCursor(query, args, page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	var items []domain.RefundRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	items, info := pagination.Window(items, limit, func(rec domain.RefundRecord) pagination.Cursor {
		return pagination.Cursor{ID: int64(rec.ID), CreatedAt: rec.CreatedAt}
	})
	return items, info, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.NotificationEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO notification_events (
			id, external_event_id, event_type, raw_payload, processed,
			live_mode, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_event_id) DO NOTHING`,
		event.ID,
		event.ExternalEventID,
		event.EventType,
		event.RawPayload,
		event.Processed,
		event.LiveMode,
		event.CreatedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEventByExternalID(ctx context.Context, db *gorm.DB, externalEventID string) (*domain.NotificationEvent, error) {
	var item domain.NotificationEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM notification_events
		 WHERE external_event_id = ?
		 LIMIT 1`,
		externalEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, externalEventID string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_events
		 SET processed = ?, processed_at = ?
		 WHERE external_event_id = ?`,
		true,
		processedAt,
		externalEventID,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]domain.NotificationEvent, pagination.PageInfo, error) {
	query := `SELECT ` + eventColumns + ` FROM notification_events WHERE 1=1`
	args := []any{}

	query, args, err := applyCursor(query, args, page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	var items []domain.NotificationEvent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	items, info := pagination.Window(items, limit, func(e domain.NotificationEvent) pagination.Cursor {
		return pagination.Cursor{ID: int64(e.ID), CreatedAt: e.CreatedAt}
	})
	return items, info, nil
}

// applyCursor adds the keyset predicate for a newest-first listing. The
// explicit two-arm form works on every supported dialect.
func applyCursor(query string, args []any, token string) (string, []any, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return query, args, nil
	}
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return "", nil, err
	}
	query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
	args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	return query, args, nil
}

func updateByID(ctx context.Context, db *gorm.DB, table string, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	args := make([]any, 0, len(fields)+1)
	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(key)
		sb.WriteString(" = ?")
		args = append(args, fields[key])
	}
	sb.WriteString(" WHERE id = ?")
	args = append(args, id)

	return db.WithContext(ctx).Exec(sb.String(), args...).Error
}
