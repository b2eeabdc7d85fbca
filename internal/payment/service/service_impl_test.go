package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymirror/internal/clock"
	"github.com/smallbiznis/paymirror/internal/config"
	"github.com/smallbiznis/paymirror/internal/gateway"
	"github.com/smallbiznis/paymirror/internal/mode"
	"github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/internal/payment/repository"
	"github.com/smallbiznis/paymirror/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testSecretKey     = "sk_test_svc"
	testWebhookSecret = "whsec_svc"
)

func TestCreatePaymentMirrorsProviderIntent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_100","status":"requires_payment_method","amount":2500,"currency":"usd","client_secret":"pi_100_secret_k3y","livemode":false}`)
	}))
	defer srv.Close()

	svc, _ := newService(t, db, clk)

	resp, err := svc.CreatePayment(ctx, testMode(srv.URL), domain.CreatePaymentRequest{
		AmountMinorUnits: 2500,
		Currency:         "USD",
		Description:      "order 1137",
		CustomerEmail:    "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if resp.ClientSecret != "pi_100_secret_k3y" {
		t.Fatalf("expected client secret passthrough, got %q", resp.ClientSecret)
	}
	if resp.Payment.Status != domain.PaymentStatusRequiresPaymentMethod {
		t.Fatalf("expected requires_payment_method, got %s", resp.Payment.Status)
	}
	if resp.Payment.LiveMode {
		t.Fatalf("test-mode payment stored as live")
	}

	stored := findPayment(t, db, "pi_100")
	if stored.AmountMinorUnits != 2500 || stored.Currency != "usd" {
		t.Fatalf("stored %d %s, want 2500 usd", stored.AmountMinorUnits, stored.Currency)
	}
	if stored.CustomerEmail != "buyer@example.com" {
		t.Fatalf("stored customer email %q", stored.CustomerEmail)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 1)

	// The provider returning an intent this tool already mirrors must not
	// produce a second row.
	again, err := svc.CreatePayment(ctx, testMode(srv.URL), domain.CreatePaymentRequest{
		AmountMinorUnits: 2500,
		Currency:         "usd",
	})
	if err != nil {
		t.Fatalf("create payment again: %v", err)
	}
	if again.Payment.ID != stored.ID {
		t.Fatalf("expected existing mirror %d, got %d", stored.ID, again.Payment.ID)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 1)
}

func TestCreatePaymentValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, _ := newService(t, db, clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)))

	cases := []struct {
		name string
		req  domain.CreatePaymentRequest
		want error
	}{
		{"zero amount", domain.CreatePaymentRequest{AmountMinorUnits: 0, Currency: "usd"}, domain.ErrInvalidAmount},
		{"negative amount", domain.CreatePaymentRequest{AmountMinorUnits: -5, Currency: "usd"}, domain.ErrInvalidAmount},
		{"below minimum", domain.CreatePaymentRequest{AmountMinorUnits: 49, Currency: "usd"}, domain.ErrAmountTooSmall},
		{"missing currency", domain.CreatePaymentRequest{AmountMinorUnits: 2500, Currency: "  "}, domain.ErrInvalidCurrency},
	}
	for _, tc := range cases {
		if _, err := svc.CreatePayment(ctx, testMode(""), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 0)
}

func TestRefundLifecycleEnforcesBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	refundSeq := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		refundSeq++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"re_%d","status":"succeeded","amount":%s,"currency":"usd","payment_intent":"pi_150"}`, refundSeq, r.PostFormValue("amount"))
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_150",
		AmountMinorUnits:  150,
		Currency:          "usd",
		Status:            domain.PaymentStatusSucceeded,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	first := int64(50)
	r1, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_150",
		AmountMinorUnits:  &first,
		Reason:            domain.RefundReasonRequestedByCustomer,
		Notes:             "customer called in",
	})
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if r1.AmountMinorUnits != 50 || r1.Status != domain.RefundStatusSucceeded {
		t.Fatalf("first refund %d %s", r1.AmountMinorUnits, r1.Status)
	}
	if r1.Currency != "usd" || r1.ExternalPaymentID != "pi_150" {
		t.Fatalf("first refund inherits %q %q", r1.Currency, r1.ExternalPaymentID)
	}

	over := int64(101)
	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_150",
		AmountMinorUnits:  &over,
		Reason:            domain.RefundReasonDuplicate,
	}); !errors.Is(err, domain.ErrRefundExceedsBalance) {
		t.Fatalf("expected refund_exceeds_balance, got %v", err)
	}

	// Omitting the amount refunds whatever is left.
	r2, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_150",
		Reason:            domain.RefundReasonDuplicate,
	})
	if err != nil {
		t.Fatalf("remainder refund: %v", err)
	}
	if r2.AmountMinorUnits != 100 {
		t.Fatalf("remainder refund %d, want 100", r2.AmountMinorUnits)
	}

	one := int64(1)
	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_150",
		AmountMinorUnits:  &one,
		Reason:            domain.RefundReasonRequestedByCustomer,
	}); !errors.Is(err, domain.ErrRefundExceedsBalance) {
		t.Fatalf("expected refund_exceeds_balance on drained payment, got %v", err)
	}
	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_150",
		Reason:            domain.RefundReasonRequestedByCustomer,
	}); !errors.Is(err, domain.ErrRefundExceedsBalance) {
		t.Fatalf("expected refund_exceeds_balance on full refund of drained payment, got %v", err)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM refunds", 2)

	history, err := svc.ListRefundsForPayment(ctx, "pi_150")
	if err != nil {
		t.Fatalf("list refunds for payment: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 refunds, got %d", len(history))
	}
	if history[0].ExternalRefundID != r2.ExternalRefundID || history[1].ExternalRefundID != r1.ExternalRefundID {
		t.Fatalf("expected newest-first history, got %s then %s", history[0].ExternalRefundID, history[1].ExternalRefundID)
	}
}

func TestCreateRefundGuards(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_pending",
		AmountMinorUnits:  1000,
		Currency:          "usd",
		Status:            domain.PaymentStatusProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	amount := int64(10)
	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_pending",
		AmountMinorUnits:  &amount,
		Reason:            "because",
	}); !errors.Is(err, domain.ErrInvalidReason) {
		t.Fatalf("expected invalid_reason, got %v", err)
	}

	zero := int64(0)
	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_pending",
		AmountMinorUnits:  &zero,
		Reason:            domain.RefundReasonDuplicate,
	}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid_amount, got %v", err)
	}

	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_ghost",
		AmountMinorUnits:  &amount,
		Reason:            domain.RefundReasonDuplicate,
	}); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected payment_not_found, got %v", err)
	}

	if _, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_pending",
		AmountMinorUnits:  &amount,
		Reason:            domain.RefundReasonDuplicate,
	}); !errors.Is(err, domain.ErrRefundRejected) {
		t.Fatalf("expected refund_rejected for non-succeeded payment, got %v", err)
	}

	if hit {
		t.Fatalf("provider called during guard checks")
	}
	assertCount(t, db, "SELECT COUNT(1) FROM refunds", 0)
}

func TestCreateRefundSurfacesProviderRejection(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"Charge ch_9 has already been refunded."}}`)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_done",
		AmountMinorUnits:  1000,
		Currency:          "usd",
		Status:            domain.PaymentStatusSucceeded,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	amount := int64(400)
	_, err := svc.CreateRefund(ctx, testMode(srv.URL), domain.CreateRefundRequest{
		ExternalPaymentID: "pi_done",
		AmountMinorUnits:  &amount,
		Reason:            domain.RefundReasonRequestedByCustomer,
	})
	if !errors.Is(err, domain.ErrRefundRejected) {
		t.Fatalf("expected refund_rejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "already been refunded") {
		t.Fatalf("expected provider message, got %v", err)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM refunds", 0)
}

func TestIngestWebhookAppliesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	retrieves := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/payment_intents/pi_w" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		retrieves++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_w","status":"succeeded","amount":2500,"currency":"usd","latest_charge":{"id":"ch_w","status":"succeeded","payment_method_details":{"type":"card","card":{"brand":"visa","last4":"4242"}},"balance_transaction":{"id":"txn_w","fee":103}}}`)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_w",
		AmountMinorUnits:  2500,
		Currency:          "usd",
		Status:            domain.PaymentStatusProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	body := []byte(fmt.Sprintf(`{"id":"evt_w1","type":"payment_intent.succeeded","created":%d,"livemode":false,"data":{"object":{"id":"pi_w","status":"succeeded","amount":2500,"currency":"usd"}}}`, now.Unix()))
	header := gateway.SignPayload(body, testWebhookSecret, now)

	stored, err := svc.IngestNotificationEvent(ctx, testMode(srv.URL), body, header)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !stored.Processed || stored.ProcessedAt == nil {
		t.Fatalf("expected event marked processed")
	}
	if stored.EventType != gateway.EventPaymentSucceeded {
		t.Fatalf("stored event type %s", stored.EventType)
	}

	pay := findPayment(t, db, "pi_w")
	if pay.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("payment status %s, want succeeded", pay.Status)
	}
	if pay.PaymentMethodBrand != "visa" || pay.CardLast4 != "4242" {
		t.Fatalf("card details %q %q", pay.PaymentMethodBrand, pay.CardLast4)
	}
	if pay.ProviderFeeMinorUnits == nil || *pay.ProviderFeeMinorUnits != 103 {
		t.Fatalf("provider fee %v", pay.ProviderFeeMinorUnits)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 1)

	// Second delivery of the same event stops at the stored row.
	replay, err := svc.IngestNotificationEvent(ctx, testMode(srv.URL), body, header)
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected event_already_processed, got %v", err)
	}
	if replay == nil || !replay.Processed {
		t.Fatalf("expected stored processed event on replay")
	}
	if retrieves != 1 {
		t.Fatalf("expected a single authoritative fetch, got %d", retrieves)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 1)

	events, err := svc.ListEvents(ctx, domain.ListEventsRequest{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events.Events) != 1 || events.Events[0].ExternalEventID != "evt_w1" {
		t.Fatalf("unexpected event listing %+v", events.Events)
	}
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := newService(t, db, clk)
	now := clk.Now()

	body := []byte(fmt.Sprintf(`{"id":"evt_bad","type":"payment_intent.succeeded","created":%d,"livemode":false,"data":{"object":{"id":"pi_x","status":"succeeded"}}}`, now.Unix()))

	if _, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, "whsec_other", now)); !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("expected signature_invalid for wrong secret, got %v", err)
	}
	if _, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, testWebhookSecret, now.Add(-time.Hour))); !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("expected signature_invalid for stale timestamp, got %v", err)
	}

	// Unverified payloads are never stored.
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 0)
}

func TestIngestWebhookWithoutSecretFails(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := newService(t, db, clk)

	mc := testMode("")
	mc.WebhookSecret = ""

	body := []byte(`{"id":"evt_unconfigured","type":"payment_intent.succeeded"}`)
	if _, err := svc.IngestNotificationEvent(ctx, mc, body, gateway.SignPayload(body, testWebhookSecret, clk.Now())); !errors.Is(err, mode.ErrModeNotConfigured) {
		t.Fatalf("expected mode_not_configured, got %v", err)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 0)
}

func TestIngestWebhookRecordsUnhandledEventType(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := newService(t, db, clk)
	now := clk.Now()

	body := []byte(fmt.Sprintf(`{"id":"evt_cus","type":"customer.created","created":%d,"livemode":false,"data":{"object":{"id":"cus_9"}}}`, now.Unix()))
	stored, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, testWebhookSecret, now))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !stored.Processed {
		t.Fatalf("expected unhandled event marked processed")
	}
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 0)
}

func TestIngestWebhookSkipsUnknownPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, _ := newService(t, db, clk)
	now := clk.Now()

	body := []byte(fmt.Sprintf(`{"id":"evt_ghost","type":"payment_intent.succeeded","created":%d,"livemode":false,"data":{"object":{"id":"pi_ghost","status":"succeeded"}}}`, now.Unix()))
	stored, err := svc.IngestNotificationEvent(ctx, testMode(srv.URL), body, gateway.SignPayload(body, testWebhookSecret, now))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !stored.Processed {
		t.Fatalf("expected event recorded and processed")
	}
	if hit {
		t.Fatalf("no fetch expected for a payment this tool does not mirror")
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 0)
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 1)
}

func TestIngestWebhookRefetchOverridesEmbeddedStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_race","status":"succeeded","amount":900,"currency":"usd","latest_charge":{"id":"ch_r","status":"succeeded","payment_method_details":{"type":"card","card":{"brand":"amex","last4":"0005"}}}}`)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_race",
		AmountMinorUnits:  900,
		Currency:          "usd",
		Status:            domain.PaymentStatusProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	// The delivered event claims a cancellation, but the provider has since
	// settled the payment. The live snapshot wins.
	body := []byte(fmt.Sprintf(`{"id":"evt_race","type":"payment_intent.canceled","created":%d,"livemode":false,"data":{"object":{"id":"pi_race","status":"canceled"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(srv.URL), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	pay := findPayment(t, db, "pi_race")
	if pay.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected live snapshot to win, got %s", pay.Status)
	}
	if pay.PaymentMethodBrand != "amex" || pay.CardLast4 != "0005" {
		t.Fatalf("card details %q %q", pay.PaymentMethodBrand, pay.CardLast4)
	}
}

func TestIngestWebhookFallsBackToEmbeddedStatusWhenRefetchFails(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_open",
		AmountMinorUnits:  700,
		Currency:          "usd",
		Status:            domain.PaymentStatusProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_settled",
		AmountMinorUnits:  700,
		Currency:          "usd",
		Status:            domain.PaymentStatusSucceeded,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	body := []byte(fmt.Sprintf(`{"id":"evt_fb1","type":"payment_intent.payment_failed","created":%d,"livemode":false,"data":{"object":{"id":"pi_open","status":"requires_payment_method"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(srv.URL), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest open: %v", err)
	}
	if got := findPayment(t, db, "pi_open").Status; got != domain.PaymentStatusRequiresPaymentMethod {
		t.Fatalf("expected embedded status applied to open payment, got %s", got)
	}

	// A late event must not walk a settled payment backwards.
	body = []byte(fmt.Sprintf(`{"id":"evt_fb2","type":"payment_intent.payment_failed","created":%d,"livemode":false,"data":{"object":{"id":"pi_settled","status":"requires_payment_method"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(srv.URL), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest settled: %v", err)
	}
	if got := findPayment(t, db, "pi_settled").Status; got != domain.PaymentStatusSucceeded {
		t.Fatalf("expected settled payment untouched, got %s", got)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 2)
}

func TestIngestWebhookMirrorsProviderInitiatedRefund(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, node := newService(t, db, clk)
	now := clk.Now()

	parentID := node.Generate()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                parentID,
		ExternalPaymentID: "pi_par",
		AmountMinorUnits:  1000,
		Currency:          "usd",
		Status:            domain.PaymentStatusSucceeded,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	body := []byte(fmt.Sprintf(`{"id":"evt_ref1","type":"refund.created","created":%d,"livemode":false,"data":{"object":{"id":"re_ext","status":"pending","amount":40,"currency":"usd","payment_intent":"pi_par","reason":"requested_by_customer"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest refund.created: %v", err)
	}

	ref := findRefund(t, db, "re_ext")
	if ref.Status != domain.RefundStatusProcessing {
		t.Fatalf("expected pending normalized to processing, got %s", ref.Status)
	}
	if ref.AmountMinorUnits != 40 || ref.PaymentID != parentID || ref.LiveMode {
		t.Fatalf("mirrored refund %+v", ref)
	}
	if ref.Reason != domain.RefundReasonRequestedByCustomer {
		t.Fatalf("mirrored reason %s", ref.Reason)
	}

	body = []byte(fmt.Sprintf(`{"id":"evt_ref2","type":"refund.updated","created":%d,"livemode":false,"data":{"object":{"id":"re_ext","status":"succeeded","amount":40,"currency":"usd","payment_intent":"pi_par"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest refund.updated: %v", err)
	}
	if got := findRefund(t, db, "re_ext").Status; got != domain.RefundStatusSucceeded {
		t.Fatalf("expected refund succeeded, got %s", got)
	}

	// A stale update cannot reopen a settled refund.
	body = []byte(fmt.Sprintf(`{"id":"evt_ref3","type":"refund.updated","created":%d,"livemode":false,"data":{"object":{"id":"re_ext","status":"pending","amount":40,"currency":"usd","payment_intent":"pi_par"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest stale refund.updated: %v", err)
	}
	if got := findRefund(t, db, "re_ext").Status; got != domain.RefundStatusSucceeded {
		t.Fatalf("expected settled refund untouched, got %s", got)
	}

	// Refund for a payment this tool does not mirror is recorded and skipped.
	body = []byte(fmt.Sprintf(`{"id":"evt_ref4","type":"refund.created","created":%d,"livemode":false,"data":{"object":{"id":"re_orphan","status":"pending","amount":10,"currency":"usd","payment_intent":"pi_ghost"}}}`, now.Unix()))
	if _, err := svc.IngestNotificationEvent(ctx, testMode(""), body, gateway.SignPayload(body, testWebhookSecret, now)); err != nil {
		t.Fatalf("ingest orphan refund: %v", err)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM refunds", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM notification_events", 4)
}

func TestSyncHistoricalDataImportsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	const intentPage = `{"object":"list","data":[` +
		`{"id":"pi_a","status":"succeeded","amount":3000,"currency":"USD","description":"order 9","receipt_email":"a@example.com","livemode":false,"latest_charge":{"id":"ch_a","status":"succeeded","payment_method_details":{"type":"card","card":{"brand":"visa","last4":"4242"}},"balance_transaction":{"id":"txn_a","fee":117}}},` +
		`{"id":"pi_b","status":"processing","amount":800,"currency":"usd","livemode":false,"latest_charge":{"id":"ch_b","status":"pending","payment_method_details":{"type":"card","card":{"brand":"mastercard","last4":"4444"}}}}` +
		`],"has_more":false}`
	const refundPage = `{"object":"list","data":[` +
		`{"id":"re_hist","status":"succeeded","amount":500,"currency":"usd","payment_intent":"pi_a","reason":"duplicate"},` +
		`{"id":"re_orphan","status":"succeeded","amount":100,"currency":"usd","payment_intent":"pi_ghost"}` +
		`],"has_more":false}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents":
			fmt.Fprint(w, intentPage)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/refunds":
			fmt.Fprint(w, refundPage)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc, _ := newService(t, db, clk)

	result, err := svc.SyncHistoricalData(ctx, testMode(srv.URL))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.PaymentsSeen != 2 || result.PaymentsCreated != 2 {
		t.Fatalf("payments seen %d created %d", result.PaymentsSeen, result.PaymentsCreated)
	}
	if result.RefundsSeen != 2 || result.RefundsCreated != 1 {
		t.Fatalf("refunds seen %d created %d", result.RefundsSeen, result.RefundsCreated)
	}

	pa := findPayment(t, db, "pi_a")
	if pa.Currency != "usd" || pa.CustomerEmail != "a@example.com" {
		t.Fatalf("imported pi_a %q %q", pa.Currency, pa.CustomerEmail)
	}
	if pa.PaymentMethodBrand != "visa" || pa.CardLast4 != "4242" {
		t.Fatalf("imported pi_a card %q %q", pa.PaymentMethodBrand, pa.CardLast4)
	}
	if pa.ProviderFeeMinorUnits == nil || *pa.ProviderFeeMinorUnits != 117 {
		t.Fatalf("imported pi_a fee %v", pa.ProviderFeeMinorUnits)
	}
	if pa.LiveMode {
		t.Fatalf("test-mode import stored as live")
	}

	// Card details only settle with the payment.
	pb := findPayment(t, db, "pi_b")
	if pb.PaymentMethodBrand != "" || pb.CardLast4 != "" || pb.ProviderFeeMinorUnits != nil {
		t.Fatalf("unsettled import carries card details %+v", pb)
	}

	ref := findRefund(t, db, "re_hist")
	if ref.PaymentID != pa.ID || ref.AmountMinorUnits != 500 {
		t.Fatalf("imported refund %+v", ref)
	}

	// Local state is authoritative for rows the sync already knows.
	if err := repository.Provide().UpdatePayment(ctx, db, pb.ID, map[string]any{"status": domain.PaymentStatusCanceled}); err != nil {
		t.Fatalf("update pi_b: %v", err)
	}

	again, err := svc.SyncHistoricalData(ctx, testMode(srv.URL))
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again.PaymentsSeen != 2 || again.PaymentsCreated != 0 || again.RefundsSeen != 2 || again.RefundsCreated != 0 {
		t.Fatalf("second sync %+v", again)
	}
	if got := findPayment(t, db, "pi_b").Status; got != domain.PaymentStatusCanceled {
		t.Fatalf("sync overwrote local row, got %s", got)
	}
	assertCount(t, db, "SELECT COUNT(1) FROM payments", 2)
	assertCount(t, db, "SELECT COUNT(1) FROM refunds", 1)
}

func TestReconcilePaymentStatusAdoptsProviderState(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_rec" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_rec","status":"succeeded","amount":2500,"currency":"usd","latest_charge":{"id":"ch_rec","status":"succeeded","payment_method_details":{"type":"card","card":{"brand":"mastercard","last4":"4444"}},"balance_transaction":{"id":"txn_rec","fee":88}}}`)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	now := clk.Now()
	seedPayment(t, db, domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_rec",
		AmountMinorUnits:  2500,
		Currency:          "usd",
		Status:            domain.PaymentStatusProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	})

	rec, err := svc.ReconcilePaymentStatus(ctx, testMode(srv.URL), "pi_rec")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("reconciled status %s", rec.Status)
	}
	if rec.PaymentMethodBrand != "mastercard" || rec.CardLast4 != "4444" {
		t.Fatalf("reconciled card %q %q", rec.PaymentMethodBrand, rec.CardLast4)
	}
	if rec.ProviderFeeMinorUnits == nil || *rec.ProviderFeeMinorUnits != 88 {
		t.Fatalf("reconciled fee %v", rec.ProviderFeeMinorUnits)
	}
	if got := findPayment(t, db, "pi_rec").Status; got != domain.PaymentStatusSucceeded {
		t.Fatalf("stored status %s", got)
	}

	if _, err := svc.ReconcilePaymentStatus(ctx, testMode(srv.URL), "pi_ghost"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected payment_not_found, got %v", err)
	}
}

func TestReconcileUnchangedPaymentBumpsOnlyUpdatedAt(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	start := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_same","status":"succeeded","amount":2500,"currency":"usd","latest_charge":{"id":"ch_s","status":"succeeded","payment_method_details":{"type":"card","card":{"brand":"visa","last4":"4242"}},"balance_transaction":{"id":"txn_s","fee":103}}}`)
	}))
	defer srv.Close()

	svc, node := newService(t, db, clk)
	fee := int64(103)
	seedPayment(t, db, domain.PaymentRecord{
		ID:                    node.Generate(),
		ExternalPaymentID:     "pi_same",
		AmountMinorUnits:      2500,
		Currency:              "usd",
		Status:                domain.PaymentStatusSucceeded,
		CardLast4:             "4242",
		PaymentMethodBrand:    "visa",
		ProviderFeeMinorUnits: &fee,
		CreatedAt:             start,
		UpdatedAt:             start,
	})

	clk.Advance(45 * time.Minute)
	rec, err := svc.ReconcilePaymentStatus(ctx, testMode(srv.URL), "pi_same")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("status changed to %s", rec.Status)
	}
	if !rec.UpdatedAt.Equal(start.Add(45 * time.Minute)) {
		t.Fatalf("updated_at %s, want poll time", rec.UpdatedAt)
	}

	stored := findPayment(t, db, "pi_same")
	if stored.AmountMinorUnits != 2500 || stored.CardLast4 != "4242" || stored.PaymentMethodBrand != "visa" {
		t.Fatalf("reconcile mutated payment %+v", stored)
	}
	if stored.UpdatedAt.Before(start.Add(45 * time.Minute)) {
		t.Fatalf("stored updated_at %s not bumped", stored.UpdatedAt)
	}
}

func TestListPaymentsFiltersModeAndPaginates(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	svc, node := newService(t, db, clk)
	now := clk.Now()

	liveOld := domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_live_1",
		AmountMinorUnits:  100,
		Currency:          "usd",
		Status:            domain.PaymentStatusSucceeded,
		LiveMode:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	liveNew := domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_live_2",
		AmountMinorUnits:  200,
		Currency:          "usd",
		Status:            domain.PaymentStatusProcessing,
		LiveMode:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	testOnly := domain.PaymentRecord{
		ID:                node.Generate(),
		ExternalPaymentID: "pi_test_1",
		AmountMinorUnits:  300,
		Currency:          "usd",
		Status:            domain.PaymentStatusSucceeded,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	seedPayment(t, db, liveOld)
	seedPayment(t, db, liveNew)
	seedPayment(t, db, testOnly)

	live := true
	page1, err := svc.ListPayments(ctx, domain.ListPaymentsRequest{PageSize: 1, LiveMode: &live})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page1.Payments) != 1 || page1.Payments[0].ExternalPaymentID != "pi_live_2" {
		t.Fatalf("page 1 %+v", page1.Payments)
	}
	if !page1.HasMore || page1.NextPageToken == "" {
		t.Fatalf("expected more live payments after page 1")
	}

	page2, err := svc.ListPayments(ctx, domain.ListPaymentsRequest{PageSize: 1, LiveMode: &live, PageToken: page1.NextPageToken})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2.Payments) != 1 || page2.Payments[0].ExternalPaymentID != "pi_live_1" {
		t.Fatalf("page 2 %+v", page2.Payments)
	}
	if page2.HasMore {
		t.Fatalf("expected final page")
	}

	testFlag := false
	testPage, err := svc.ListPayments(ctx, domain.ListPaymentsRequest{LiveMode: &testFlag})
	if err != nil {
		t.Fatalf("list test mode: %v", err)
	}
	if len(testPage.Payments) != 1 || testPage.Payments[0].ExternalPaymentID != "pi_test_1" {
		t.Fatalf("test-mode listing %+v", testPage.Payments)
	}

	settled, err := svc.ListPayments(ctx, domain.ListPaymentsRequest{LiveMode: &live, Status: "succeeded"})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(settled.Payments) != 1 || settled.Payments[0].ExternalPaymentID != "pi_live_1" {
		t.Fatalf("status listing %+v", settled.Payments)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_pay_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			external_payment_id TEXT NOT NULL,
			amount_minor_units BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			customer_email TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			card_last4 TEXT NOT NULL DEFAULT '',
			payment_method_brand TEXT NOT NULL DEFAULT '',
			provider_fee_minor_units BIGINT,
			live_mode BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payments_external_payment_id ON payments(external_payment_id)`,
		`CREATE TABLE refunds (
			id BIGINT PRIMARY KEY,
			external_refund_id TEXT NOT NULL,
			payment_id BIGINT NOT NULL,
			external_payment_id TEXT NOT NULL,
			amount_minor_units BIGINT NOT NULL,
			currency TEXT NOT NULL,
			reason TEXT,
			status TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			live_mode BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_refunds_external_refund_id ON refunds(external_refund_id)`,
		`CREATE INDEX ix_refunds_payment_id ON refunds(payment_id)`,
		`CREATE TABLE notification_events (
			id BIGINT PRIMARY KEY,
			external_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			raw_payload TEXT NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			live_mode BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX ux_notification_events_external_event_id ON notification_events(external_event_id)`,
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

func newService(t *testing.T, db *gorm.DB, clk clock.Clock) (domain.Service, *snowflake.Node) {
	t.Helper()

	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Cfg: config.Config{Payment: config.PaymentConfig{
			MinAmountDefault: 50,
			WebhookTolerance: 5 * time.Minute,
		}},
		Gateway: gateway.NewClient(gateway.ClientParams{}),
		Repo:    repository.Provide(),
	})
	return svc, node
}

func testMode(baseURL string) mode.Context {
	return mode.Context{
		Mode:          config.ModeTest,
		APIBaseURL:    baseURL,
		SecretKey:     testSecretKey,
		WebhookSecret: testWebhookSecret,
	}
}

func seedPayment(t *testing.T, db *gorm.DB, p domain.PaymentRecord) {
	t.Helper()
	if err := repository.Provide().InsertPayment(context.Background(), db, &p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func findPayment(t *testing.T, db *gorm.DB, externalID string) domain.PaymentRecord {
	t.Helper()
	p, err := repository.Provide().FindPaymentByExternalID(context.Background(), db, externalID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if p == nil {
		t.Fatalf("payment %s not found", externalID)
	}
	return *p
}

func findRefund(t *testing.T, db *gorm.DB, externalID string) domain.RefundRecord {
	t.Helper()
	r, err := repository.Provide().FindRefundByExternalID(context.Background(), db, externalID)
	if err != nil {
		t.Fatalf("find refund: %v", err)
	}
	if r == nil {
		t.Fatalf("refund %s not found", externalID)
	}
	return *r
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
