package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/paymirror/internal/mode"
	obsmetrics "github.com/smallbiznis/paymirror/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paymirror/internal/observability/tracing"
	"go.uber.org/fx"
)

const requestTimeout = 12 * time.Second

// Client talks to the provider's REST API. Credentials come from the mode
// snapshot passed per call, never from client state, so a mode switch cannot
// leak into an in-flight operation.
type Client struct {
	httpClient *http.Client
	metrics    *obsmetrics.Metrics
}

type ClientParams struct {
	fx.In

	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewClient(p ClientParams) *Client {
	return &Client{
		httpClient: obstracing.WrapHTTPClient(&http.Client{Timeout: requestTimeout}),
		metrics:    p.Metrics,
	}
}

var Module = fx.Module("gateway",
	fx.Provide(NewClient),
)

// CreatePaymentIntentParams are the fields forwarded on intent creation.
// Amount is integer minor units.
type CreatePaymentIntentParams struct {
	Amount       int64
	Currency     string
	Description  string
	ReceiptEmail string
}

// CreatePaymentIntent opens a new payment intent with the provider.
func (c *Client) CreatePaymentIntent(ctx context.Context, mc mode.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("automatic_payment_methods[enabled]", "false")
	form.Set("payment_method_types[]", "card")
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	if params.ReceiptEmail != "" {
		form.Set("receipt_email", params.ReceiptEmail)
	}
	form.Set("metadata[source]", "paymirror")
	form.Add("expand[]", "latest_charge")
	form.Add("expand[]", "latest_charge.balance_transaction")

	var intent PaymentIntent
	if err := c.doRequest(ctx, mc, http.MethodPost, "/v1/payment_intents", form, "create_payment_intent", &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, &ProviderError{Message: "payment intent response missing id"}
	}
	return &intent, nil
}

// RetrievePaymentIntent fetches the live snapshot of an intent, with the
// latest charge and its balance transaction expanded.
func (c *Client) RetrievePaymentIntent(ctx context.Context, mc mode.Context, externalID string) (*PaymentIntent, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, &ProviderError{Message: "payment intent id is required"}
	}

	query := url.Values{}
	query.Add("expand[]", "latest_charge")
	query.Add("expand[]", "latest_charge.balance_transaction")

	var intent PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(externalID) + "?" + query.Encode()
	if err := c.doRequest(ctx, mc, http.MethodGet, path, nil, "retrieve_payment_intent", &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, &ProviderError{Message: "payment intent response missing id"}
	}
	return &intent, nil
}

// CreateRefundParams are the fields forwarded on refund creation. A nil
// Amount refunds the remaining balance at the provider.
type CreateRefundParams struct {
	PaymentIntentID string
	Amount          *int64
	Reason          string
	Metadata        map[string]string
}

// CreateRefund asks the provider to refund a payment intent. The provider's
// own refundability check is authoritative; rejections surface verbatim.
func (c *Client) CreateRefund(ctx context.Context, mc mode.Context, params CreateRefundParams) (*Refund, error) {
	if strings.TrimSpace(params.PaymentIntentID) == "" {
		return nil, &ProviderError{Message: "payment intent id is required"}
	}

	form := url.Values{}
	form.Set("payment_intent", params.PaymentIntentID)
	if params.Amount != nil {
		form.Set("amount", strconv.FormatInt(*params.Amount, 10))
	}
	if params.Reason != "" {
		form.Set("reason", params.Reason)
	}
	for key, value := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	var refund Refund
	if err := c.doRequest(ctx, mc, http.MethodPost, "/v1/refunds", form, "create_refund", &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, &ProviderError{Message: "refund response missing id"}
	}
	return &refund, nil
}

func (c *Client) doRequest(ctx context.Context, mc mode.Context, method, path string, form url.Values, operation string, out any) error {
	if !mc.HasCredentials() {
		return mode.ErrModeNotConfigured
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(mc.APIBaseURL, "/")+path, body)
	if err != nil {
		c.recordRequest(ctx, operation, "error")
		return fmt.Errorf("build provider request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+mc.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(ctx, operation, "transport_error")
		return &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		c.recordRequest(ctx, operation, "api_error")
		return decodeAPIError(resp)
	}

	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		decoder.UseNumber()
		if err := decoder.Decode(out); err != nil {
			c.recordRequest(ctx, operation, "decode_error")
			return &ProviderError{HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("decode provider response: %v", err)}
		}
	}

	c.recordRequest(ctx, operation, "ok")
	return nil
}

func decodeAPIError(resp *http.Response) error {
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{HTTPStatus: resp.StatusCode, Message: resp.Status}
	}

	var decoded apiError
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded.Error.Message == "" {
		message := strings.TrimSpace(string(payload))
		if message == "" {
			message = resp.Status
		}
		return &ProviderError{HTTPStatus: resp.StatusCode, Message: message}
	}

	return &ProviderError{
		HTTPStatus: resp.StatusCode,
		Type:       decoded.Error.Type,
		Code:       decoded.Error.Code,
		Message:    decoded.Error.Message,
	}
}

func (c *Client) recordRequest(ctx context.Context, operation, outcome string) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.RecordProviderRequest(ctx, operation, outcome)
}
