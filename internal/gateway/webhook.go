package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event types this tool acts on. Anything else is recorded for audit and
// otherwise ignored.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
	EventRefundCreated    = "refund.created"
	EventRefundUpdated    = "refund.updated"
)

// DefaultTolerance bounds how stale a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Event is a verified provider notification.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	LiveMode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// PaymentIntent decodes the event object as a payment intent.
func (e *Event) PaymentIntent() (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := decodeEventObject(e.Data.Object, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("event %s carries no payment intent id: %w", e.ID, ErrEventMalformed)
	}
	return &intent, nil
}

// Refund decodes the event object as a refund.
func (e *Event) Refund() (*Refund, error) {
	var refund Refund
	if err := decodeEventObject(e.Data.Object, &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, fmt.Errorf("event %s carries no refund id: %w", e.ID, ErrEventMalformed)
	}
	return &refund, nil
}

func decodeEventObject(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("event data object is empty: %w", ErrEventMalformed)
	}
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode event object: %v: %w", err, ErrEventMalformed)
	}
	return nil
}

// VerifyAndParse checks the signature header against the raw body and secret,
// then decodes the event. Verification fails closed: any parse problem in the
// header, a stale timestamp, or a digest mismatch all yield
// ErrSignatureInvalid without looking at the payload.
func VerifyAndParse(payload []byte, sigHeader, secret string, now time.Time, tolerance time.Duration) (*Event, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	drift := now.Sub(time.Unix(timestamp, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return nil, fmt.Errorf("signed timestamp outside tolerance: %w", ErrSignatureInvalid)
	}

	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := mac.Sum(nil)

	matched := false
	for _, signature := range signatures {
		decoded, decodeErr := hex.DecodeString(signature)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("no matching signature: %w", ErrSignatureInvalid)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %v: %w", err, ErrEventMalformed)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("event missing id or type: %w", ErrEventMalformed)
	}
	return &event, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]" into its
// timestamp and candidate signatures.
func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("missing signature header: %w", ErrSignatureInvalid)
	}

	var timestampRaw string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestampRaw = pair[1]
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if timestampRaw == "" || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("signature header missing t or v1: %w", ErrSignatureInvalid)
	}

	timestamp, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid signed timestamp: %w", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

// SignPayload produces a valid signature header for the payload. Test and
// tooling helper; the provider is the only real signer.
func SignPayload(payload []byte, secret string, at time.Time) string {
	signedPayload := fmt.Sprintf("%d.%s", at.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
