package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymirror/internal/clock"
	"github.com/smallbiznis/paymirror/internal/config"
	"github.com/smallbiznis/paymirror/internal/gateway"
	"github.com/smallbiznis/paymirror/internal/mode"
	obsmetrics "github.com/smallbiznis/paymirror/internal/observability/metrics"
	"github.com/smallbiznis/paymirror/internal/payment/domain"
	pkgdb "github.com/smallbiznis/paymirror/pkg/db"
	"github.com/smallbiznis/paymirror/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const syncPageSize = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Gateway    *gateway.Client
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	payCfg  config.PaymentConfig
	gateway *gateway.Client
	repo    domain.Repository
	metrics *obsmetrics.Metrics
	locks   keyLocker
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		payCfg:  p.Cfg.Payment,
		gateway: p.Gateway,
		repo:    p.Repo,
		metrics: p.ObsMetrics,
	}
}

func (s *Service) CreatePayment(ctx context.Context, mc mode.Context, req domain.CreatePaymentRequest) (domain.CreatePaymentResponse, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return domain.CreatePaymentResponse{}, domain.ErrInvalidCurrency
	}
	if req.AmountMinorUnits <= 0 {
		return domain.CreatePaymentResponse{}, domain.ErrInvalidAmount
	}
	if req.AmountMinorUnits < s.payCfg.MinAmount(currency) {
		return domain.CreatePaymentResponse{}, domain.ErrAmountTooSmall
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, mc, gateway.CreatePaymentIntentParams{
		Amount:       req.AmountMinorUnits,
		Currency:     currency,
		Description:  strings.TrimSpace(req.Description),
		ReceiptEmail: strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		return domain.CreatePaymentResponse{}, err
	}

	amount, err := intent.AmountMinorUnits()
	if err != nil {
		return domain.CreatePaymentResponse{}, err
	}

	now := s.clock.Now()
	record := domain.PaymentRecord{
		ID:                s.genID.Generate(),
		ExternalPaymentID: intent.ID,
		AmountMinorUnits:  amount,
		Currency:          currency,
		Status:            domain.PaymentStatus(intent.Status),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		Description:       strings.TrimSpace(req.Description),
		LiveMode:          mc.LiveMode(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	unlock := s.locks.lock(intent.ID)
	defer unlock()

	if err := s.repo.InsertPayment(ctx, s.db, &record); err != nil {
		if !pkgdb.IsDuplicateKeyErr(err) {
			return domain.CreatePaymentResponse{}, err
		}
		// A concurrent history sync imported the intent first.
		existing, ferr := s.repo.FindPaymentByExternalID(ctx, s.db, intent.ID)
		if ferr != nil {
			return domain.CreatePaymentResponse{}, ferr
		}
		if existing == nil {
			return domain.CreatePaymentResponse{}, err
		}
		record = *existing
	}

	s.metrics.RecordPaymentCreated(ctx, mc.Mode)
	s.log.Info("payment created",
		zap.String("external_payment_id", record.ExternalPaymentID),
		zap.Int64("amount_minor_units", record.AmountMinorUnits),
		zap.String("currency", record.Currency),
		zap.String("mode", mc.Mode),
	)

	return domain.CreatePaymentResponse{Payment: record, ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) GetPayment(ctx context.Context, externalID string) (domain.PaymentRecord, error) {
	payment, err := s.repo.FindPaymentByExternalID(ctx, s.db, strings.TrimSpace(externalID))
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if payment == nil {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return *payment, nil
}

func (s *Service) ListPayments(ctx context.Context, req domain.ListPaymentsRequest) (domain.ListPaymentsResponse, error) {
	items, info, err := s.repo.ListPayments(ctx, s.db,
		domain.ListPaymentFilter{LiveMode: req.LiveMode, Status: req.Status},
		pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize},
	)
	if err != nil {
		return domain.ListPaymentsResponse{}, err
	}
	return domain.ListPaymentsResponse{PageInfo: info, Payments: items}, nil
}

func (s *Service) ReconcilePaymentStatus(ctx context.Context, mc mode.Context, externalID string) (domain.PaymentRecord, error) {
	externalID = strings.TrimSpace(externalID)

	payment, err := s.repo.FindPaymentByExternalID(ctx, s.db, externalID)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if payment == nil {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}

	unlock := s.locks.lock(externalID)
	defer unlock()

	snapshot, err := s.gateway.RetrievePaymentIntent(ctx, mc, externalID)
	if err != nil {
		s.metrics.RecordReconcile(ctx, mc.Mode, "error")
		return domain.PaymentRecord{}, err
	}

	// Re-read under the lock so a webhook applied while we were fetching is
	// not overwritten from a stale copy.
	payment, err = s.repo.FindPaymentByExternalID(ctx, s.db, externalID)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if payment == nil {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}

	previous := payment.Status
	updated, err := s.applyPaymentSnapshot(ctx, payment, snapshot)
	if err != nil {
		s.metrics.RecordReconcile(ctx, mc.Mode, "error")
		return domain.PaymentRecord{}, err
	}

	outcome := "unchanged"
	if updated.Status != previous {
		outcome = "status_changed"
		s.log.Info("payment reconciled",
			zap.String("external_payment_id", externalID),
			zap.String("from", string(previous)),
			zap.String("to", string(updated.Status)),
		)
	}
	s.metrics.RecordReconcile(ctx, mc.Mode, outcome)

	return updated, nil
}

func (s *Service) CreateRefund(ctx context.Context, mc mode.Context, req domain.CreateRefundRequest) (domain.RefundRecord, error) {
	externalID := strings.TrimSpace(req.ExternalPaymentID)
	if !domain.ValidRefundReason(req.Reason) {
		return domain.RefundRecord{}, domain.ErrInvalidReason
	}
	if req.AmountMinorUnits != nil && *req.AmountMinorUnits <= 0 {
		return domain.RefundRecord{}, domain.ErrInvalidAmount
	}

	unlock := s.locks.lock(externalID)
	defer unlock()

	payment, err := s.repo.FindPaymentByExternalID(ctx, s.db, externalID)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	if payment == nil {
		return domain.RefundRecord{}, domain.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		return domain.RefundRecord{}, domain.ErrRefundRejected
	}

	refunded, err := s.repo.SumActiveRefunds(ctx, s.db, payment.ID)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	remaining := payment.AmountMinorUnits - refunded

	// Advisory check only. The provider re-validates and its verdict wins.
	amount := remaining
	if req.AmountMinorUnits != nil {
		amount = *req.AmountMinorUnits
	}
	if amount <= 0 || amount > remaining {
		return domain.RefundRecord{}, domain.ErrRefundExceedsBalance
	}

	metadata := map[string]string{"source": "paymirror"}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		metadata["notes"] = notes
	}
	providerRefund, err := s.gateway.CreateRefund(ctx, mc, gateway.CreateRefundParams{
		PaymentIntentID: externalID,
		Amount:          &amount,
		Reason:          string(req.Reason),
		Metadata:        metadata,
	})
	if err != nil {
		if gateway.IsRefundRejected(err) {
			return domain.RefundRecord{}, fmt.Errorf("%w: %v", domain.ErrRefundRejected, err)
		}
		return domain.RefundRecord{}, err
	}

	refundAmount, err := providerRefund.AmountMinorUnits()
	if err != nil {
		return domain.RefundRecord{}, err
	}

	now := s.clock.Now()
	record := domain.RefundRecord{
		ID:                s.genID.Generate(),
		ExternalRefundID:  providerRefund.ID,
		PaymentID:         payment.ID,
		ExternalPaymentID: payment.ExternalPaymentID,
		AmountMinorUnits:  refundAmount,
		Currency:          payment.Currency,
		Reason:            req.Reason,
		Status:            domain.NormalizeRefundStatus(providerRefund.Status),
		Notes:             strings.TrimSpace(req.Notes),
		LiveMode:          payment.LiveMode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.InsertRefund(ctx, s.db, &record); err != nil {
		if !pkgdb.IsDuplicateKeyErr(err) {
			return domain.RefundRecord{}, err
		}
		existing, ferr := s.repo.FindRefundByExternalID(ctx, s.db, providerRefund.ID)
		if ferr != nil {
			return domain.RefundRecord{}, ferr
		}
		if existing == nil {
			return domain.RefundRecord{}, err
		}
		record = *existing
	}

	s.metrics.RecordRefundCreated(ctx, mc.Mode)
	s.log.Info("refund created",
		zap.String("external_refund_id", record.ExternalRefundID),
		zap.String("external_payment_id", record.ExternalPaymentID),
		zap.Int64("amount_minor_units", record.AmountMinorUnits),
		zap.String("mode", mc.Mode),
	)

	return record, nil
}

func (s *Service) ListRefunds(ctx context.Context, req domain.ListRefundsRequest) (domain.ListRefundsResponse, error) {
	items, info, err := s.repo.ListRefunds(ctx, s.db,
		domain.ListRefundFilter{LiveMode: req.LiveMode, ExternalPaymentID: req.ExternalPaymentID},
		pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize},
	)
	if err != nil {
		return domain.ListRefundsResponse{}, err
	}
	return domain.ListRefundsResponse{PageInfo: info, Refunds: items}, nil
}

func (s *Service) ListRefundsForPayment(ctx context.Context, externalID string) ([]domain.RefundRecord, error) {
	payment, err := s.repo.FindPaymentByExternalID(ctx, s.db, strings.TrimSpace(externalID))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return s.repo.ListRefundsForPayment(ctx, s.db, payment.ID)
}

func (s *Service) IngestNotificationEvent(ctx context.Context, mc mode.Context, rawBody []byte, signatureHeader string) (*domain.NotificationEvent, error) {
	if strings.TrimSpace(mc.WebhookSecret) == "" {
		s.metrics.RecordWebhookEvent(ctx, "unknown", "unconfigured")
		return nil, mode.ErrModeNotConfigured
	}

	event, err := gateway.VerifyAndParse(rawBody, signatureHeader, mc.WebhookSecret, s.clock.Now(), s.payCfg.WebhookTolerance)
	if err != nil {
		outcome := "malformed"
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			outcome = "signature_invalid"
			s.log.Warn("webhook signature rejected",
				zap.String("mode", mc.Mode),
				zap.Error(err),
			)
		}
		s.metrics.RecordWebhookEvent(ctx, "unknown", outcome)
		return nil, err
	}

	now := s.clock.Now()
	record := domain.NotificationEvent{
		ID:              s.genID.Generate(),
		ExternalEventID: event.ID,
		EventType:       event.Type,
		RawPayload:      datatypes.JSON(rawBody),
		LiveMode:        event.LiveMode,
		CreatedAt:       now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEventByExternalID(ctx, s.db, event.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("notification event %s missing after conflicting insert", event.ID)
		}
		if stored.Processed {
			s.metrics.RecordWebhookEvent(ctx, event.Type, "duplicate")
			return stored, domain.ErrEventAlreadyProcessed
		}
		// Unprocessed row from a failed earlier delivery. Re-apply.
	}

	if err := s.applyEvent(ctx, mc, event); err != nil {
		s.metrics.RecordWebhookEvent(ctx, event.Type, "error")
		return stored, err
	}

	processedAt := s.clock.Now()
	if err := s.repo.MarkEventProcessed(ctx, s.db, event.ID, processedAt); err != nil {
		return stored, err
	}
	stored.Processed = true
	stored.ProcessedAt = &processedAt

	s.metrics.RecordWebhookEvent(ctx, event.Type, "applied")
	return stored, nil
}

func (s *Service) ListEvents(ctx context.Context, req domain.ListEventsRequest) (domain.ListEventsResponse, error) {
	items, info, err := s.repo.ListEvents(ctx, s.db, pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize})
	if err != nil {
		return domain.ListEventsResponse{}, err
	}
	return domain.ListEventsResponse{PageInfo: info, Events: items}, nil
}

func (s *Service) SyncHistoricalData(ctx context.Context, mc mode.Context) (domain.SyncResult, error) {
	result := domain.SyncResult{}

	payments := s.gateway.ListPaymentIntents(ctx, mc, syncPageSize)
	for payments.Next() {
		result.PaymentsSeen++
		created, err := s.importPaymentSnapshot(ctx, mc, payments.Current())
		if err != nil {
			return result, err
		}
		if created {
			result.PaymentsCreated++
		}
	}
	if err := payments.Err(); err != nil {
		return result, err
	}

	refunds := s.gateway.ListRefunds(ctx, mc, syncPageSize)
	for refunds.Next() {
		result.RefundsSeen++
		created, err := s.importRefundSnapshot(ctx, refunds.Current())
		if err != nil {
			return result, err
		}
		if created {
			result.RefundsCreated++
		}
	}
	if err := refunds.Err(); err != nil {
		return result, err
	}

	s.metrics.RecordSyncRecords(ctx, mc.Mode, "payments", int64(result.PaymentsCreated))
	s.metrics.RecordSyncRecords(ctx, mc.Mode, "refunds", int64(result.RefundsCreated))
	s.log.Info("historical sync finished",
		zap.String("mode", mc.Mode),
		zap.Int("payments_seen", result.PaymentsSeen),
		zap.Int("payments_created", result.PaymentsCreated),
		zap.Int("refunds_seen", result.RefundsSeen),
		zap.Int("refunds_created", result.RefundsCreated),
	)

	return result, nil
}

// applyPaymentSnapshot overwrites the local record from an authoritative
// provider snapshot in a single update. Card and fee details are extracted
// only when the snapshot reports a success the local record has not seen yet.
// Callers hold the payment's key lock.
func (s *Service) applyPaymentSnapshot(ctx context.Context, local *domain.PaymentRecord, snapshot *gateway.PaymentIntent) (domain.PaymentRecord, error) {
	now := s.clock.Now()
	status := domain.PaymentStatus(snapshot.Status)

	updated := *local
	updated.Status = status
	updated.UpdatedAt = now
	fields := map[string]any{
		"status":     status,
		"updated_at": now,
	}

	if status == domain.PaymentStatusSucceeded && local.Status != domain.PaymentStatusSucceeded {
		brand, last4, fee, err := chargeCardFields(snapshot)
		if err != nil {
			return domain.PaymentRecord{}, err
		}
		if brand != "" {
			fields["payment_method_brand"] = brand
			updated.PaymentMethodBrand = brand
		}
		if last4 != "" {
			fields["card_last4"] = last4
			updated.CardLast4 = last4
		}
		if fee != nil {
			fields["provider_fee_minor_units"] = *fee
			updated.ProviderFeeMinorUnits = fee
		}
	}

	if err := s.repo.UpdatePayment(ctx, s.db, local.ID, fields); err != nil {
		return domain.PaymentRecord{}, err
	}
	return updated, nil
}

func (s *Service) applyEvent(ctx context.Context, mc mode.Context, event *gateway.Event) error {
	switch event.Type {
	case gateway.EventPaymentSucceeded, gateway.EventPaymentFailed, gateway.EventPaymentCanceled:
		return s.applyPaymentEvent(ctx, mc, event)
	case gateway.EventRefundCreated, gateway.EventRefundUpdated:
		return s.applyRefundEvent(ctx, event)
	default:
		s.log.Info("unhandled provider event recorded",
			zap.String("external_event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return nil
	}
}

func (s *Service) applyPaymentEvent(ctx context.Context, mc mode.Context, event *gateway.Event) error {
	embedded, err := event.PaymentIntent()
	if err != nil {
		return err
	}

	unlock := s.locks.lock(embedded.ID)
	defer unlock()

	local, err := s.repo.FindPaymentByExternalID(ctx, s.db, embedded.ID)
	if err != nil {
		return err
	}
	if local == nil {
		// Created outside this tool's visibility. Recorded, not mirrored.
		s.log.Info("payment event for unknown payment skipped",
			zap.String("external_event_id", event.ID),
			zap.String("external_payment_id", embedded.ID),
		)
		return nil
	}

	// Events can arrive out of order, so the embedded status is not trusted
	// directly. The live snapshot is authoritative.
	snapshot, err := s.gateway.RetrievePaymentIntent(ctx, mc, embedded.ID)
	if err != nil {
		embeddedStatus := domain.PaymentStatus(embedded.Status)
		if local.Status.Terminal() && embeddedStatus != local.Status {
			s.log.Warn("stale payment event ignored for terminal payment",
				zap.String("external_event_id", event.ID),
				zap.String("external_payment_id", embedded.ID),
				zap.String("local_status", string(local.Status)),
				zap.String("event_status", string(embeddedStatus)),
				zap.Error(err),
			)
			return nil
		}
		snapshot = embedded
	}

	_, err = s.applyPaymentSnapshot(ctx, local, snapshot)
	return err
}

func (s *Service) applyRefundEvent(ctx context.Context, event *gateway.Event) error {
	embedded, err := event.Refund()
	if err != nil {
		return err
	}

	unlock := s.locks.lock(embedded.PaymentIntent)
	defer unlock()

	now := s.clock.Now()
	local, err := s.repo.FindRefundByExternalID(ctx, s.db, embedded.ID)
	if err != nil {
		return err
	}

	if local != nil {
		status := domain.NormalizeRefundStatus(embedded.Status)
		if local.Status.Terminal() && status != local.Status {
			s.log.Warn("stale refund event ignored for terminal refund",
				zap.String("external_event_id", event.ID),
				zap.String("external_refund_id", embedded.ID),
				zap.String("local_status", string(local.Status)),
				zap.String("event_status", string(status)),
			)
			return nil
		}
		return s.repo.UpdateRefund(ctx, s.db, local.ID, map[string]any{
			"status":     status,
			"updated_at": now,
		})
	}

	parent, err := s.repo.FindPaymentByExternalID(ctx, s.db, embedded.PaymentIntent)
	if err != nil {
		return err
	}
	if parent == nil {
		s.log.Info("refund event for unknown payment skipped",
			zap.String("external_event_id", event.ID),
			zap.String("external_refund_id", embedded.ID),
			zap.String("external_payment_id", embedded.PaymentIntent),
		)
		return nil
	}

	// Refund opened directly at the provider. Mirror a minimal record.
	amount, err := embedded.AmountMinorUnits()
	if err != nil {
		return err
	}
	record := domain.RefundRecord{
		ID:                s.genID.Generate(),
		ExternalRefundID:  embedded.ID,
		PaymentID:         parent.ID,
		ExternalPaymentID: parent.ExternalPaymentID,
		AmountMinorUnits:  amount,
		Currency:          parent.Currency,
		Reason:            domain.RefundReason(embedded.Reason),
		Status:            domain.NormalizeRefundStatus(embedded.Status),
		LiveMode:          parent.LiveMode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertRefund(ctx, s.db, &record); err != nil && !pkgdb.IsDuplicateKeyErr(err) {
		return err
	}
	return nil
}

func (s *Service) importPaymentSnapshot(ctx context.Context, mc mode.Context, snapshot *gateway.PaymentIntent) (bool, error) {
	unlock := s.locks.lock(snapshot.ID)
	defer unlock()

	existing, err := s.repo.FindPaymentByExternalID(ctx, s.db, snapshot.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	amount, err := snapshot.AmountMinorUnits()
	if err != nil {
		return false, err
	}
	brand, last4, fee, err := chargeCardFields(snapshot)
	if err != nil {
		return false, err
	}
	if snapshot.Status != string(domain.PaymentStatusSucceeded) {
		brand, last4, fee = "", "", nil
	}

	now := s.clock.Now()
	record := domain.PaymentRecord{
		ID:                    s.genID.Generate(),
		ExternalPaymentID:     snapshot.ID,
		AmountMinorUnits:      amount,
		Currency:              strings.ToLower(snapshot.Currency),
		Status:                domain.PaymentStatus(snapshot.Status),
		CustomerEmail:         snapshot.ReceiptEmail,
		Description:           snapshot.Description,
		CardLast4:             last4,
		PaymentMethodBrand:    brand,
		ProviderFeeMinorUnits: fee,
		LiveMode:              mc.LiveMode(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.InsertPayment(ctx, s.db, &record); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) importRefundSnapshot(ctx context.Context, snapshot *gateway.Refund) (bool, error) {
	unlock := s.locks.lock(snapshot.PaymentIntent)
	defer unlock()

	existing, err := s.repo.FindRefundByExternalID(ctx, s.db, snapshot.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	parent, err := s.repo.FindPaymentByExternalID(ctx, s.db, snapshot.PaymentIntent)
	if err != nil {
		return false, err
	}
	if parent == nil {
		return false, nil
	}

	amount, err := snapshot.AmountMinorUnits()
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	record := domain.RefundRecord{
		ID:                s.genID.Generate(),
		ExternalRefundID:  snapshot.ID,
		PaymentID:         parent.ID,
		ExternalPaymentID: parent.ExternalPaymentID,
		AmountMinorUnits:  amount,
		Currency:          parent.Currency,
		Reason:            domain.RefundReason(snapshot.Reason),
		Status:            domain.NormalizeRefundStatus(snapshot.Status),
		LiveMode:          parent.LiveMode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertRefund(ctx, s.db, &record); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func chargeCardFields(snapshot *gateway.PaymentIntent) (string, string, *int64, error) {
	charge := snapshot.LatestCharge
	if charge == nil {
		return "", "", nil, nil
	}

	var brand, last4 string
	if details := charge.PaymentMethodDetails; details != nil && details.Card != nil {
		brand = details.Card.Brand
		last4 = details.Card.Last4
	}

	var fee *int64
	if tx := charge.BalanceTransaction; tx != nil {
		value, err := tx.FeeMinorUnits()
		if err != nil {
			return "", "", nil, err
		}
		fee = &value
	}

	return brand, last4, fee, nil
}
