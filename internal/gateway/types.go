package gateway

import (
	"encoding/json"
	"fmt"
)

// PaymentIntent is the provider's payment intent object, decoded from the
// fields this tool mirrors. Amounts stay json.Number until converted so a
// fractional value is caught instead of truncated.
type PaymentIntent struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	Amount         json.Number `json:"amount"`
	AmountReceived json.Number `json:"amount_received"`
	Currency       string      `json:"currency"`
	Description    string      `json:"description"`
	ClientSecret   string      `json:"client_secret"`
	ReceiptEmail   string      `json:"receipt_email"`
	Created        int64       `json:"created"`
	LiveMode       bool        `json:"livemode"`
	LatestCharge   *Charge     `json:"latest_charge"`
}

// AmountMinorUnits converts the intent amount to integer minor units.
func (p *PaymentIntent) AmountMinorUnits() (int64, error) {
	return minorUnits(p.Amount)
}

// Charge is the charge attached to a succeeded intent, expanded inline.
type Charge struct {
	ID                   string                `json:"id"`
	Status               string                `json:"status"`
	PaymentMethodDetails *PaymentMethodDetails `json:"payment_method_details"`
	BalanceTransaction   *BalanceTransaction   `json:"balance_transaction"`
}

type PaymentMethodDetails struct {
	Type string       `json:"type"`
	Card *CardDetails `json:"card"`
}

type CardDetails struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// BalanceTransaction carries the provider fee for a settled charge.
type BalanceTransaction struct {
	ID  string      `json:"id"`
	Fee json.Number `json:"fee"`
}

// FeeMinorUnits converts the provider fee to integer minor units.
func (b *BalanceTransaction) FeeMinorUnits() (int64, error) {
	return minorUnits(b.Fee)
}

// Refund is the provider's refund object.
type Refund struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Amount        json.Number       `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	Reason        string            `json:"reason"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
}

// AmountMinorUnits converts the refund amount to integer minor units.
func (r *Refund) AmountMinorUnits() (int64, error) {
	return minorUnits(r.Amount)
}

func minorUnits(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	value, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount %q is not an integer minor-unit value: %w", n, ErrEventMalformed)
	}
	return value, nil
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type paymentIntentList struct {
	Object  string           `json:"object"`
	Data    []*PaymentIntent `json:"data"`
	HasMore bool             `json:"has_more"`
}

type refundList struct {
	Object  string    `json:"object"`
	Data    []*Refund `json:"data"`
	HasMore bool      `json:"has_more"`
}
