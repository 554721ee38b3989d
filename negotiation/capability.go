// Package negotiation decides whether a batch can be requested as atomic.
package negotiation

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/types"
)

// Negotiator asks the wallet for its atomic batch capability.
type Negotiator struct {
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*Negotiator)

func WithLogger(l logger.Logger) Option {
	return func(n *Negotiator) {
		n.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(n *Negotiator) {
		n.metrics = r
	}
}

// NewNegotiator bounds every capability query by timeout; zero uses
// types.DefaultQueryTimeout.
func NewNegotiator(timeout time.Duration, opts ...Option) *Negotiator {
	if timeout <= 0 {
		timeout = types.DefaultQueryTimeout
	}
	n := &Negotiator{timeout: timeout}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logger.OrNoop(n.logger)
	n.metrics = metrics.OrNoop(n.metrics)
	return n
}

// Negotiate returns the wallet's answer for account on network. A wallet that
// answers without an entry for the chain does not support atomic batches.
func (n *Negotiator) Negotiate(ctx context.Context, p clients.Provider, account common.Address, network types.Network) (bool, error) {
	if !network.IsSupported() {
		return false, types.NewError(types.CodeUnsupportedNetwork, "unsupported network: %s", network)
	}
	chainID := network.ChainID()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	caps, err := p.QueryCapabilities(ctx, account, chainID)
	n.metrics.ObserveLatency(metrics.OpCapabilityQuery, time.Since(start), map[string]string{"network": network.String()})
	if err != nil {
		return false, err
	}

	set, ok := caps.For(chainID)
	if !ok {
		return false, nil
	}
	return set.SupportsAtomic(), nil
}

// QueryAtomicSupport never fails: any error, timeout or missing descriptor
// yields false and the batch is sent without the atomic requirement.
func (n *Negotiator) QueryAtomicSupport(ctx context.Context, p clients.Provider, account common.Address, network types.Network) bool {
	labels := map[string]string{"network": network.String()}

	atomic, err := n.Negotiate(ctx, p, account, network)
	if err != nil {
		n.logger.Warn("capability query failed, assuming no atomic support", map[string]any{
			"network": network.String(),
			"account": account.Hex(),
			"error":   err,
		})
		n.metrics.IncCounter(metrics.EventCapabilityError, labels)
		n.metrics.IncCounter(metrics.EventAtomicUnsupported, labels)
		return false
	}

	if atomic {
		n.metrics.IncCounter(metrics.EventAtomicSupported, labels)
	} else {
		n.metrics.IncCounter(metrics.EventAtomicUnsupported, labels)
	}
	n.logger.Debug("atomic capability negotiated", map[string]any{
		"network": network.String(),
		"atomic":  atomic,
	})
	return atomic
}
