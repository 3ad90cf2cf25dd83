package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a transaction and may be retried on contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// TxOption adjusts retry attempts or the time budget of RunTransaction.
type TxOption func(*txSettings)

// WithTxAttempts sets how many times a contended transaction is retried.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTxTimeout caps the whole transaction including retries.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// RunTransaction runs fn in a transaction on the shared client. Cart quantity increments and
// idempotency reservations both go through here so concurrent writers for one line serialise.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	settings := txSettings{attempts: 5, timeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}
	err = client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts))
	return WrapError("transaction", err)
}
