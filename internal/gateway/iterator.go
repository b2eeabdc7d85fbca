package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/smallbiznis/paymirror/internal/mode"
)

const defaultPageSize = 100

// PaymentIntentIter walks the provider's payment intent listing newest-first.
// One pass, not restartable; a fresh listing needs a fresh iterator.
type PaymentIntentIter struct {
	ctx      context.Context
	client   *Client
	mc       mode.Context
	pageSize int

	queue         []*PaymentIntent
	current       *PaymentIntent
	startingAfter string
	hasMore       bool
	started       bool
	err           error
}

// ListPaymentIntents returns an iterator over all intents visible to the
// snapshot's credentials.
func (c *Client) ListPaymentIntents(ctx context.Context, mc mode.Context, pageSize int) *PaymentIntentIter {
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	return &PaymentIntentIter{
		ctx:      ctx,
		client:   c,
		mc:       mc,
		pageSize: pageSize,
		hasMore:  true,
	}
}

// Next advances the iterator, fetching the next page when the current one is
// exhausted. It returns false at the end of the listing or on error.
func (it *PaymentIntentIter) Next() bool {
	if it.err != nil {
		return false
	}
	if len(it.queue) == 0 {
		if it.started && !it.hasMore {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
		if len(it.queue) == 0 {
			return false
		}
	}

	it.current = it.queue[0]
	it.queue = it.queue[1:]
	it.startingAfter = it.current.ID
	return true
}

// Current returns the intent positioned by the last successful Next.
func (it *PaymentIntentIter) Current() *PaymentIntent {
	return it.current
}

// Err returns the first error hit while listing.
func (it *PaymentIntentIter) Err() error {
	return it.err
}

func (it *PaymentIntentIter) fetchPage() error {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(it.pageSize))
	if it.startingAfter != "" {
		query.Set("starting_after", it.startingAfter)
	}
	query.Add("expand[]", "data.latest_charge")
	query.Add("expand[]", "data.latest_charge.balance_transaction")

	var page paymentIntentList
	path := "/v1/payment_intents?" + query.Encode()
	if err := it.client.doRequest(it.ctx, it.mc, http.MethodGet, path, nil, "list_payment_intents", &page); err != nil {
		return err
	}

	it.started = true
	it.queue = page.Data
	it.hasMore = page.HasMore
	return nil
}

// RefundIter walks the provider's refund listing newest-first. Same contract
// as PaymentIntentIter.
type RefundIter struct {
	ctx      context.Context
	client   *Client
	mc       mode.Context
	pageSize int

	queue         []*Refund
	current       *Refund
	startingAfter string
	hasMore       bool
	started       bool
	err           error
}

// ListRefunds returns an iterator over all refunds visible to the snapshot's
// credentials.
func (c *Client) ListRefunds(ctx context.Context, mc mode.Context, pageSize int) *RefundIter {
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	return &RefundIter{
		ctx:      ctx,
		client:   c,
		mc:       mc,
		pageSize: pageSize,
		hasMore:  true,
	}
}

// Next advances the iterator. It returns false at the end of the listing or
// on error.
func (it *RefundIter) Next() bool {
	if it.err != nil {
		return false
	}
	if len(it.queue) == 0 {
		if it.started && !it.hasMore {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
		if len(it.queue) == 0 {
			return false
		}
	}

	it.current = it.queue[0]
	it.queue = it.queue[1:]
	it.startingAfter = it.current.ID
	return true
}

// Current returns the refund positioned by the last successful Next.
func (it *RefundIter) Current() *Refund {
	return it.current
}

// Err returns the first error hit while listing.
func (it *RefundIter) Err() error {
	return it.err
}

func (it *RefundIter) fetchPage() error {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(it.pageSize))
	if it.startingAfter != "" {
		query.Set("starting_after", it.startingAfter)
	}

	var page refundList
	path := "/v1/refunds?" + query.Encode()
	if err := it.client.doRequest(it.ctx, it.mc, http.MethodGet, path, nil, "list_refunds", &page); err != nil {
		return err
	}

	it.started = true
	it.queue = page.Data
	it.hasMore = page.HasMore
	return nil
}
