package batchpay

import (
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/ledger"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/submission"
)

type Option func(*BatchPay)

func WithLogger(l logger.Logger) Option {
	return func(b *BatchPay) {
		b.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(b *BatchPay) {
		b.metrics = r
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(now ledger.Clock) Option {
	return func(b *BatchPay) {
		b.now = now
	}
}

// WithProvider uses p instead of dialing cfg.WalletURL.
func WithProvider(p clients.Provider) Option {
	return func(b *BatchPay) {
		b.provider = p
	}
}

// WithLedger uses l instead of opening cfg.Ledger. The caller keeps
// ownership and closes it.
func WithLedger(l ledger.Ledger) Option {
	return func(b *BatchPay) {
		b.ledger = l
	}
}

// WithBalanceChecker enables the balance pre-check without a node endpoint.
func WithBalanceChecker(c submission.BalanceChecker) Option {
	return func(b *BatchPay) {
		b.balance = c
	}
}
