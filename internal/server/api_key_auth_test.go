package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
)

type fakeAPIKeyService struct {
	identity  *apikeydomain.Identity
	verifyErr error
	lastKey   string

	keys      []apikeydomain.Response
	listErr   error
	secret    *apikeydomain.SecretResponse
	createErr error
	rotateErr error
	revokeErr error
	revokedID string
}

func (f *fakeAPIKeyService) List(ctx context.Context) ([]apikeydomain.Response, error) {
	_ = ctx
	return f.keys, f.listErr
}

func (f *fakeAPIKeyService) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	_ = ctx
	_ = req
	return f.secret, f.createErr
}

func (f *fakeAPIKeyService) Rotate(ctx context.Context, keyID string) (*apikeydomain.SecretResponse, error) {
	_ = ctx
	_ = keyID
	return f.secret, f.rotateErr
}

func (f *fakeAPIKeyService) Revoke(ctx context.Context, keyID string) error {
	_ = ctx
	f.revokedID = keyID
	return f.revokeErr
}

func (f *fakeAPIKeyService) Verify(ctx context.Context, presented string) (*apikeydomain.Identity, error) {
	_ = ctx
	f.lastKey = presented
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.identity, nil
}

func (f *fakeAPIKeyService) EnsureBootstrapKey(ctx context.Context) error {
	_ = ctx
	return nil
}

func newAuthedRouter(srv *Server) *gin.Engine {
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	api := router.Group("/v1", srv.APIKeyRequired())
	api.GET("/payments", srv.RequireScope(apikeydomain.ScopeRead), srv.ListPayments)
	api.POST("/payments", srv.RequireScope(apikeydomain.ScopePaymentsWrite), srv.CreatePayment)
	return router
}

func TestAPIKeyRequiredMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{paymentSvc: &fakePaymentService{}, apiKeySvc: &fakeAPIKeyService{}, modeHolder: testModeHolder(t)}
	router := newAuthedRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAPIKeyRequiredMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	apiKeySvc := &fakeAPIKeyService{}
	srv := &Server{paymentSvc: &fakePaymentService{}, apiKeySvc: apiKeySvc, modeHolder: testModeHolder(t)}
	router := newAuthedRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments", nil)
	req.Header.Set("Authorization", "Basic abc123")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if apiKeySvc.lastKey != "" {
		t.Fatal("expected verify not to be called for a malformed header")
	}
}

func TestAPIKeyRequiredInvalidKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	apiKeySvc := &fakeAPIKeyService{verifyErr: apikeydomain.ErrKeyInvalid}
	srv := &Server{paymentSvc: &fakePaymentService{}, apiKeySvc: apiKeySvc, modeHolder: testModeHolder(t)}
	router := newAuthedRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments", nil)
	req.Header.Set("Authorization", "Bearer pk_bogus_secret")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if apiKeySvc.lastKey != "pk_bogus_secret" {
		t.Fatalf("expected presented key forwarded to verify, got %q", apiKeySvc.lastKey)
	}
}

func TestRequireScopeForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)

	apiKeySvc := &fakeAPIKeyService{
		identity: &apikeydomain.Identity{
			KeyID:  "01ARZ",
			Name:   "reader",
			Scopes: []string{apikeydomain.ScopeRead},
		},
	}
	srv := &Server{paymentSvc: &fakePaymentService{}, apiKeySvc: apiKeySvc, modeHolder: testModeHolder(t)}
	router := newAuthedRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"amount_minor_units":2500,"currency":"usd"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer pk_01ARZ_secret")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestRequireScopeAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	apiKeySvc := &fakeAPIKeyService{
		identity: &apikeydomain.Identity{
			KeyID:  "01ARZ",
			Name:   "writer",
			Scopes: []string{apikeydomain.ScopeRead, apikeydomain.ScopePaymentsWrite},
		},
	}
	srv := &Server{paymentSvc: &fakePaymentService{}, apiKeySvc: apiKeySvc, modeHolder: testModeHolder(t)}
	router := newAuthedRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"amount_minor_units":2500,"currency":"usd"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer pk_01ARZ_secret")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}
