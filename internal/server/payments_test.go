package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paymirror/internal/config"
	"github.com/smallbiznis/paymirror/internal/mode"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/internal/providers/pdf"
)

type fakePaymentService struct {
	createMode mode.Context
	createReq  paymentdomain.CreatePaymentRequest
	createResp paymentdomain.CreatePaymentResponse
	createErr  error

	getCalls   int
	getPayment paymentdomain.PaymentRecord
	getErr     error

	listReq  paymentdomain.ListPaymentsRequest
	listResp paymentdomain.ListPaymentsResponse
	listErr  error

	reconcileID   string
	reconcileResp paymentdomain.PaymentRecord
	reconcileErr  error

	refundReq  paymentdomain.CreateRefundRequest
	refundResp paymentdomain.RefundRecord
	refundErr  error

	listRefundsReq  paymentdomain.ListRefundsRequest
	listRefundsResp paymentdomain.ListRefundsResponse
	listRefundsErr  error

	paymentRefunds    []paymentdomain.RefundRecord
	paymentRefundsErr error

	ingestBody  []byte
	ingestSig   string
	ingestEvent *paymentdomain.NotificationEvent
	ingestErr   error

	listEventsResp paymentdomain.ListEventsResponse
	listEventsErr  error

	syncCalls  int
	syncResult paymentdomain.SyncResult
	syncErr    error
}

func (f *fakePaymentService) CreatePayment(ctx context.Context, mc mode.Context, req paymentdomain.CreatePaymentRequest) (paymentdomain.CreatePaymentResponse, error) {
	_ = ctx
	f.createMode = mc
	f.createReq = req
	return f.createResp, f.createErr
}

func (f *fakePaymentService) GetPayment(ctx context.Context, externalID string) (paymentdomain.PaymentRecord, error) {
	_ = ctx
	_ = externalID
	f.getCalls++
	return f.getPayment, f.getErr
}

func (f *fakePaymentService) ListPayments(ctx context.Context, req paymentdomain.ListPaymentsRequest) (paymentdomain.ListPaymentsResponse, error) {
	_ = ctx
	f.listReq = req
	return f.listResp, f.listErr
}

func (f *fakePaymentService) ReconcilePaymentStatus(ctx context.Context, mc mode.Context, externalID string) (paymentdomain.PaymentRecord, error) {
	_ = ctx
	_ = mc
	f.reconcileID = externalID
	return f.reconcileResp, f.reconcileErr
}

func (f *fakePaymentService) CreateRefund(ctx context.Context, mc mode.Context, req paymentdomain.CreateRefundRequest) (paymentdomain.RefundRecord, error) {
	_ = ctx
	_ = mc
	f.refundReq = req
	return f.refundResp, f.refundErr
}

func (f *fakePaymentService) ListRefunds(ctx context.Context, req paymentdomain.ListRefundsRequest) (paymentdomain.ListRefundsResponse, error) {
	_ = ctx
	f.listRefundsReq = req
	return f.listRefundsResp, f.listRefundsErr
}

func (f *fakePaymentService) ListRefundsForPayment(ctx context.Context, externalID string) ([]paymentdomain.RefundRecord, error) {
	_ = ctx
	_ = externalID
	return f.paymentRefunds, f.paymentRefundsErr
}

func (f *fakePaymentService) IngestNotificationEvent(ctx context.Context, mc mode.Context, rawBody []byte, signatureHeader string) (*paymentdomain.NotificationEvent, error) {
	_ = ctx
	_ = mc
	f.ingestBody = rawBody
	f.ingestSig = signatureHeader
	return f.ingestEvent, f.ingestErr
}

func (f *fakePaymentService) ListEvents(ctx context.Context, req paymentdomain.ListEventsRequest) (paymentdomain.ListEventsResponse, error) {
	_ = ctx
	_ = req
	return f.listEventsResp, f.listEventsErr
}

func (f *fakePaymentService) SyncHistoricalData(ctx context.Context, mc mode.Context) (paymentdomain.SyncResult, error) {
	_ = ctx
	_ = mc
	f.syncCalls++
	return f.syncResult, f.syncErr
}

type fakePDFProvider struct {
	data pdf.ReceiptData
	err  error
}

func (f *fakePDFProvider) GenerateReceipt(ctx context.Context, data pdf.ReceiptData) (io.Reader, error) {
	_ = ctx
	f.data = data
	if f.err != nil {
		return nil, f.err
	}
	return strings.NewReader("%PDF-1.7 stub"), nil
}

func testModeHolder(t *testing.T) *mode.Holder {
	t.Helper()
	provider := func() config.ProviderConfig {
		return config.ProviderConfig{
			APIBaseURL:  "https://provider.test",
			DefaultMode: config.ModeTest,
			Modes: map[string]config.ProviderCredentials{
				config.ModeTest: {
					SecretKey:      "sk_test_abc",
					PublishableKey: "pk_test_abc",
					WebhookSecret:  "whsec_test",
				},
				config.ModeLive: {},
			},
		}
	}
	holder, err := mode.NewHolderFromProvider(provider, config.ModeTest)
	if err != nil {
		t.Fatalf("build mode holder: %v", err)
	}
	return holder
}

func newPaymentRouter(srv *Server) *gin.Engine {
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/v1/payments", srv.CreatePayment)
	router.GET("/v1/payments", srv.ListPayments)
	router.GET("/v1/payments/:external_id", srv.GetPayment)
	router.POST("/v1/payments/:external_id/reconcile", srv.ReconcilePayment)
	router.GET("/v1/payments/:external_id/receipt", srv.GetPaymentReceipt)
	router.GET("/v1/payments/:external_id/refunds", srv.ListPaymentRefunds)
	return router
}

func TestCreatePaymentHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{
		createResp: paymentdomain.CreatePaymentResponse{
			Payment: paymentdomain.PaymentRecord{
				ExternalPaymentID: "pi_123",
				AmountMinorUnits:  2500,
				Currency:          "usd",
				Status:            paymentdomain.PaymentStatusRequiresPaymentMethod,
			},
			ClientSecret: "pi_123_secret_xyz",
		},
	}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewBufferString(`{"amount_minor_units":2500,"currency":" USD ","description":"Pro plan","customer_email":"a@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if paymentSvc.createReq.Currency != "USD" {
		t.Fatalf("expected trimmed currency USD, got %q", paymentSvc.createReq.Currency)
	}
	if paymentSvc.createMode.Mode != config.ModeTest {
		t.Fatalf("expected test mode snapshot, got %q", paymentSvc.createMode.Mode)
	}

	var body paymentdomain.CreatePaymentResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ClientSecret != "pi_123_secret_xyz" {
		t.Fatalf("expected client secret in response, got %q", body.ClientSecret)
	}
}

func TestCreatePaymentHandlerRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{paymentSvc: &fakePaymentService{}, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewBufferString(`{"amount_minor_units":`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreatePaymentHandlerMapsAmountTooSmall(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{createErr: paymentdomain.ErrAmountTooSmall}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewBufferString(`{"amount_minor_units":10,"currency":"usd"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "amount_too_small") {
		t.Fatalf("expected amount_too_small in body, got %s", resp.Body.String())
	}
}

func TestGetPaymentHandlerNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{getErr: paymentdomain.ErrPaymentNotFound}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/pi_missing", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "not_found") {
		t.Fatalf("expected not_found code in body, got %s", resp.Body.String())
	}
}

func TestListPaymentsHandlerParsesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments?live_mode=true&status=succeeded&page_size=5&page_token=tok", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if paymentSvc.listReq.LiveMode == nil || !*paymentSvc.listReq.LiveMode {
		t.Fatal("expected live_mode filter true")
	}
	if paymentSvc.listReq.Status != "succeeded" {
		t.Fatalf("expected status filter succeeded, got %q", paymentSvc.listReq.Status)
	}
	if paymentSvc.listReq.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", paymentSvc.listReq.PageSize)
	}
	if paymentSvc.listReq.PageToken != "tok" {
		t.Fatalf("expected page token tok, got %q", paymentSvc.listReq.PageToken)
	}
}

func TestListPaymentsHandlerRejectsBadLiveMode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{paymentSvc: &fakePaymentService{}, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments?live_mode=banana", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestReconcilePaymentHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{
		reconcileResp: paymentdomain.PaymentRecord{
			ExternalPaymentID: "pi_123",
			Status:            paymentdomain.PaymentStatusSucceeded,
		},
	}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/pi_123/reconcile", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if paymentSvc.reconcileID != "pi_123" {
		t.Fatalf("expected reconcile of pi_123, got %q", paymentSvc.reconcileID)
	}
}

func TestGetPaymentReceiptHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	fee := int64(73)
	paymentSvc := &fakePaymentService{
		getPayment: paymentdomain.PaymentRecord{
			ExternalPaymentID:     "pi_123",
			AmountMinorUnits:      2500,
			Currency:              "usd",
			Status:                paymentdomain.PaymentStatusSucceeded,
			Description:           "Pro plan",
			CustomerEmail:         "a@example.com",
			CardLast4:             "4242",
			PaymentMethodBrand:    "visa",
			ProviderFeeMinorUnits: &fee,
			LiveMode:              false,
			UpdatedAt:             time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		},
		paymentRefunds: []paymentdomain.RefundRecord{
			{
				ExternalRefundID: "re_1",
				AmountMinorUnits: 500,
				Currency:         "usd",
				Reason:           paymentdomain.RefundReasonRequestedByCustomer,
				Status:           paymentdomain.RefundStatusSucceeded,
				UpdatedAt:        time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
			},
			{
				ExternalRefundID: "re_2",
				AmountMinorUnits: 100,
				Currency:         "usd",
				Status:           paymentdomain.RefundStatusFailed,
			},
		},
	}
	pdfProvider := &fakePDFProvider{}
	srv := &Server{
		cfg:         config.Config{AppName: "paymirror"},
		paymentSvc:  paymentSvc,
		modeHolder:  testModeHolder(t),
		pdfProvider: pdfProvider,
	}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/pi_123/receipt", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if got := resp.Header().Get("Content-Disposition"); !strings.Contains(got, "receipt-pro-plan-pi_123.pdf") {
		t.Fatalf("expected slugged filename in disposition, got %q", got)
	}

	if pdfProvider.data.AmountPaid != "25.00 USD" {
		t.Fatalf("expected formatted amount 25.00 USD, got %q", pdfProvider.data.AmountPaid)
	}
	if pdfProvider.data.CardSummary != "visa ending in 4242" {
		t.Fatalf("unexpected card summary %q", pdfProvider.data.CardSummary)
	}
	if len(pdfProvider.data.Refunds) != 1 {
		t.Fatalf("expected only the succeeded refund on the receipt, got %d", len(pdfProvider.data.Refunds))
	}
	if pdfProvider.data.NetAmount != "20.00 USD" {
		t.Fatalf("expected net amount 20.00 USD, got %q", pdfProvider.data.NetAmount)
	}
	if !pdfProvider.data.TestMode {
		t.Fatal("expected test mode watermark for a test payment")
	}
}

func TestGetPaymentReceiptHandlerPendingPayment(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{
		getPayment: paymentdomain.PaymentRecord{
			ExternalPaymentID: "pi_123",
			Status:            paymentdomain.PaymentStatusProcessing,
		},
	}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t), pdfProvider: &fakePDFProvider{}}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/pi_123/receipt", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "receipt_unavailable") {
		t.Fatalf("expected receipt_unavailable code, got %s", resp.Body.String())
	}
}

func TestListPaymentRefundsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	paymentSvc := &fakePaymentService{
		paymentRefunds: []paymentdomain.RefundRecord{
			{ExternalRefundID: "re_1", AmountMinorUnits: 500},
		},
	}
	srv := &Server{paymentSvc: paymentSvc, modeHolder: testModeHolder(t)}
	router := newPaymentRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/pi_123/refunds", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "re_1") {
		t.Fatalf("expected refund id in body, got %s", resp.Body.String())
	}
}
