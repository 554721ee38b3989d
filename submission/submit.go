// Package submission dispatches verified batches to the wallet and records
// accepted ones in the ledger.
package submission

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/batchpay/calls"
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/ledger"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/types"
)

// Submitter is the contract for batch submission
type Submitter interface {
	Submit(ctx context.Context, req *Request) (*Result, error)
}

// BalanceChecker reports whether owner holds at least amount base units.
// clients.TokenClient implements it.
type BalanceChecker interface {
	HasBalance(ctx context.Context, owner common.Address, amount *big.Int) (bool, *big.Int, error)
}

// Request is one user-confirmed batch.
type Request struct {
	Batch      *types.BatchRequest
	Recipients []types.Recipient

	// Total in token units, as shown to the user.
	Total decimal.Decimal

	// Total in base units; the encoded calls must add up to exactly this.
	TotalUnits *big.Int
}

// Result of an accepted submission.
type Result struct {
	ID     string
	Record types.PaymentRecord
}

type route struct {
	provider clients.Provider
	token    common.Address
	balance  BalanceChecker
}

// Service manages batch submission across networks
type Service struct {
	mu     sync.Mutex
	routes map[types.Network]route

	ledger       ledger.Ledger
	timeout      time.Duration
	queryTimeout time.Duration
	logger       logger.Logger
	metrics metrics.Recorder

	inflightMu sync.Mutex
	inflight   map[common.Hash]struct{}
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

// WithTimeout bounds the wallet_sendCalls request, which includes the time
// the user takes to confirm.
func WithTimeout(t time.Duration) Option {
	return func(s *Service) {
		s.timeout = t
	}
}

// WithQueryTimeout bounds the balance pre-check.
func WithQueryTimeout(t time.Duration) Option {
	return func(s *Service) {
		if t > 0 {
			s.queryTimeout = t
		}
	}
}

// NewService creates a submission service writing to l.
func NewService(l ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		routes:   make(map[types.Network]route),
		ledger:   l,
		timeout:      types.DefaultSubmitTimeout,
		queryTimeout: types.DefaultQueryTimeout,
		inflight:     make(map[common.Hash]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNoop(s.logger)
	s.metrics = metrics.OrNoop(s.metrics)
	return s
}

// AddNetwork routes batches for network to provider. balance may be nil.
func (s *Service) AddNetwork(network types.Network, provider clients.Provider, token common.Address, balance BalanceChecker) error {
	if !network.IsSupported() {
		return types.NewError(types.CodeUnsupportedNetwork, "unsupported network: %s", network)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[network] = route{provider: provider, token: token, balance: balance}
	return nil
}

// Submit sends req.Batch to the wallet exactly once and records the accepted
// batch as pending before returning. Nothing is recorded when the wallet
// refuses the batch.
func (s *Service) Submit(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Batch == nil {
		return nil, types.NewError(types.CodeEncoding, "empty submission request")
	}
	batch := req.Batch
	network := batch.Network
	labels := map[string]string{"network": network.String()}
	log := s.logger.With(map[string]any{"network": network.String()})

	s.mu.Lock()
	rt, ok := s.routes[network]
	s.mu.Unlock()
	if !ok {
		return nil, types.NewError(types.CodeUnsupportedNetwork, "no wallet configured for network %s", network)
	}

	if err := s.verify(rt.token, req); err != nil {
		log.Error("batch failed self-verification", map[string]any{"error": err})
		return nil, err
	}

	key := batch.Fingerprint()
	if !s.acquire(key) {
		return nil, types.NewError(types.CodeSubmission, "an identical batch is already being submitted")
	}
	defer s.release(key)

	if rt.balance != nil {
		balanceCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		enough, have, err := rt.balance.HasBalance(balanceCtx, batch.From, req.TotalUnits)
		cancel()
		switch {
		case err != nil:
			// the wallet rejects an underfunded batch anyway
			log.Warn("balance pre-check unavailable", map[string]any{"error": err})
		case !enough:
			return nil, types.NewError(types.CodeSubmission,
				"insufficient balance: have %s, need %s base units", have.String(), req.TotalUnits.String())
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	id, err := rt.provider.SubmitBatch(submitCtx, batch)
	s.metrics.ObserveLatency(metrics.OpSubmit, time.Since(start), labels)
	if err != nil {
		if types.ErrorCode(err) == "" {
			err = clients.ClassifySubmitError(err)
		}
		if types.ErrorCode(err) == types.CodeUserRejected {
			s.metrics.IncCounter(metrics.EventUserRejected, labels)
			log.Info("batch rejected by user", nil)
		} else {
			s.metrics.IncCounter(metrics.EventSubmitFailed, labels)
			log.Error("batch submission failed", map[string]any{"error": err, "code": types.ErrorCode(err)})
		}
		return nil, err
	}

	// The wallet has the batch now; the record must exist even if the caller
	// goes away.
	rec, err := s.ledger.Create(context.WithoutCancel(ctx), ledger.Entry{
		ID:         id,
		Recipients: req.Recipients,
		Total:      req.Total,
		Network:    network,
		Payer:      batch.From.Hex(),
		Atomic:     batch.AtomicRequired,
	})
	if err != nil {
		log.Error("submitted batch could not be recorded", map[string]any{"id": id, "error": err})
		return &Result{ID: id}, fmt.Errorf("batch %s was submitted but not recorded: %w", id, err)
	}

	s.metrics.IncCounter(metrics.EventBatchSubmitted, labels)
	log.Info("batch submitted", map[string]any{
		"id":         id,
		"recipients": len(req.Recipients),
		"total":      req.Total.String(),
		"atomic":     batch.AtomicRequired,
	})
	return &Result{ID: id, Record: rec}, nil
}

func (s *Service) verify(token common.Address, req *Request) error {
	batch := req.Batch
	if len(batch.Calls) == 0 {
		return types.NewError(types.CodeEncoding, "batch has no calls")
	}
	if len(batch.Calls) != len(req.Recipients) {
		return types.NewError(types.CodeEncoding,
			"batch has %d calls for %d recipients", len(batch.Calls), len(req.Recipients))
	}
	if batch.ChainID == nil || batch.ChainID.Cmp(batch.Network.ChainID()) != 0 {
		return types.NewError(types.CodeEncoding, "batch chain id %v does not match network %s", batch.ChainID, batch.Network)
	}

	units, err := calls.VerifyBatch(token, batch.Calls)
	if err != nil {
		return err
	}
	if req.TotalUnits == nil || units.Cmp(req.TotalUnits) != 0 {
		return types.NewError(types.CodeEncoding, "calls transfer %s base units, expected %v", units.String(), req.TotalUnits)
	}
	return nil
}

func (s *Service) acquire(key common.Hash) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) release(key common.Hash) {
	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()
}

// Provider returns the wallet routed for network.
func (s *Service) Provider(network types.Network) (clients.Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.routes[network]
	return rt.provider, ok
}

// GetSupportedNetworks returns all networks that have a wallet configured
func (s *Service) GetSupportedNetworks() []types.Network {
	s.mu.Lock()
	defer s.mu.Unlock()
	networks := make([]types.Network, 0, len(s.routes))
	for n := range s.routes {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// Close closes all wallet connections
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.routes {
		rt.provider.Close()
	}
}
