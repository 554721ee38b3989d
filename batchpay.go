// Package batchpay pays many recipients in one ERC-20 batch submitted through
// an EIP-5792 wallet and tracks every batch in a payment ledger.
package batchpay

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitwit/batchpay/calls"
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/ledger"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/negotiation"
	"github.com/vitwit/batchpay/polling"
	"github.com/vitwit/batchpay/submission"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
	"golang.org/x/sync/errgroup"
)

// BatchPay is the main struct that wires the wallet, the ledger and the poller
// together for one network and one paying account.
type BatchPay struct {
	cfg     *types.Config
	account common.Address
	token   common.Address
	codec   utils.AmountCodec

	provider   clients.Provider
	ledger     ledger.Ledger
	balance    submission.BalanceChecker
	negotiator *negotiation.Negotiator
	submitter  *submission.Service
	poller     *polling.Poller

	logger  logger.Logger
	metrics metrics.Recorder
	now     ledger.Clock

	ownsLedger  bool
	ownsBalance bool
}

// Prepared is a validated, encoded batch waiting for the user to confirm.
type Prepared struct {
	submission.Request

	// Whether the wallet reported atomic batch support.
	Atomic bool

	// Correlates the log lines of one payment attempt.
	Attempt string
}

// Payment is an accepted batch and the watch tracking it.
type Payment struct {
	ID     string
	Record types.PaymentRecord
	Handle *polling.Handle
}

// New validates cfg and connects to the wallet, the ledger and, when
// cfg.RPCUrl is set, the node used for the balance pre-check.
func New(ctx context.Context, cfg *types.Config, opts ...Option) (*BatchPay, error) {
	if cfg == nil {
		return nil, types.NewError(types.CodeConfig, "config is required")
	}
	cfg.ApplyDefaults()

	b := &BatchPay{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logger.OrNoop(b.logger)
	b.metrics = metrics.OrNoop(b.metrics)

	if b.provider != nil && cfg.WalletURL == "" {
		// an injected wallet needs no endpoint
		cfg.WalletURL = "inproc://wallet"
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	account, err := utils.ValidateAddress(cfg.Account)
	if err != nil {
		return nil, types.WrapError(types.CodeConfig, err, "invalid account")
	}
	token, err := utils.ValidateAddress(cfg.Token.Address)
	if err != nil {
		return nil, types.WrapError(types.CodeConfig, err, "invalid token address")
	}
	codec, err := utils.NewAmountCodec(cfg.Token.Decimals, cfg.MaxAmount)
	if err != nil {
		return nil, err
	}
	b.account, b.token, b.codec = account, token, codec

	if err := b.connect(ctx); err != nil {
		b.Close()
		return nil, err
	}

	b.negotiator = negotiation.NewNegotiator(cfg.QueryTimeout,
		negotiation.WithLogger(b.logger),
		negotiation.WithMetrics(b.metrics),
	)
	b.submitter = submission.NewService(b.ledger,
		submission.WithLogger(b.logger),
		submission.WithMetrics(b.metrics),
		submission.WithTimeout(cfg.SubmitTimeout),
		submission.WithQueryTimeout(cfg.QueryTimeout),
	)
	if err := b.submitter.AddNetwork(cfg.Network, b.provider, token, b.balance); err != nil {
		b.Close()
		return nil, err
	}
	b.poller = polling.NewPoller(b.provider, b.ledger,
		polling.WithInterval(cfg.PollInterval),
		polling.WithQueryTimeout(cfg.QueryTimeout),
		polling.WithNetwork(cfg.Network),
		polling.WithLogger(b.logger),
		polling.WithMetrics(b.metrics),
	)

	b.logger.Info("batchpay ready", map[string]any{
		"network": cfg.Network.String(),
		"account": account.Hex(),
		"token":   cfg.Token.Symbol,
		"ledger":  cfg.Ledger.Driver,
	})
	return b, nil
}

func (b *BatchPay) connect(ctx context.Context) error {
	if b.provider == nil {
		wallet, err := clients.NewWalletClient(ctx, b.cfg.WalletURL, b.logger)
		if err != nil {
			return fmt.Errorf("failed to connect wallet at %s: %w", b.cfg.WalletURL, err)
		}
		b.provider = wallet
	}

	if b.ledger == nil {
		l, err := ledger.Open(ctx, b.cfg.Ledger, b.now)
		if err != nil {
			return err
		}
		b.ledger = l
		b.ownsLedger = true
	}

	if b.balance == nil && b.cfg.RPCUrl != "" {
		tc, err := clients.DialToken(ctx, b.cfg.RPCUrl, b.token)
		if err != nil {
			// the pre-check is optional
			b.logger.Warn("balance pre-check disabled", map[string]any{"rpc": b.cfg.RPCUrl, "error": err})
			return nil
		}
		b.balance = tc
		b.ownsBalance = true
	}
	return nil
}

// Prepare validates recipients, encodes the batch and asks the wallet for
// atomic support. Encoding and negotiation run concurrently.
func (b *BatchPay) Prepare(ctx context.Context, recipients []types.Recipient) (*Prepared, error) {
	attempt := uuid.NewString()
	log := b.logger.With(map[string]any{"attempt": attempt})

	var (
		atomic  bool
		encoded []types.EncodedCall
		total   decimal.Decimal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		atomic = b.negotiator.QueryAtomicSupport(gctx, b.provider, b.account, b.cfg.Network)
		return nil
	})
	g.Go(func() error {
		var err error
		encoded, err = calls.EncodeBatch(b.token, recipients, b.codec)
		if err != nil {
			return err
		}
		amounts := make([]string, len(recipients))
		for i, r := range recipients {
			amounts[i] = r.Amount
		}
		total, err = b.codec.Sum(amounts...)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn("batch rejected before submission", map[string]any{"error": err})
		return nil, err
	}

	p := &Prepared{
		Request: submission.Request{
			Batch: &types.BatchRequest{
				Version:        types.SendCallsVersion,
				From:           b.account,
				ChainID:        b.cfg.Network.ChainID(),
				Network:        b.cfg.Network,
				AtomicRequired: atomic,
				Calls:          encoded,
			},
			Recipients: append([]types.Recipient(nil), recipients...),
			Total:      total,
			TotalUnits: total.Shift(b.codec.Decimals).BigInt(),
		},
		Atomic:  atomic,
		Attempt: attempt,
	}

	b.metrics.IncCounter(metrics.EventBatchPrepared, map[string]string{"network": b.cfg.Network.String()})
	log.Debug("batch prepared", map[string]any{
		"recipients": len(recipients),
		"total":      total.String(),
		"atomic":     atomic,
	})
	return p, nil
}

// Submit dispatches a prepared batch once and starts watching it. The watch
// outlives ctx; use Await or the returned handle to wait for it.
func (b *BatchPay) Submit(ctx context.Context, p *Prepared) (*Payment, error) {
	if p == nil {
		return nil, types.NewError(types.CodeValidation, "nothing to submit")
	}
	res, err := b.submitter.Submit(ctx, &p.Request)
	if err != nil {
		if res != nil && res.ID != "" {
			// submitted but unrecorded; still track it
			b.poller.Watch(context.WithoutCancel(ctx), res.ID)
		}
		return nil, err
	}
	h := b.poller.Watch(context.WithoutCancel(ctx), res.ID)
	return &Payment{ID: res.ID, Record: res.Record, Handle: h}, nil
}

// Pay prepares and submits recipients in one step.
func (b *BatchPay) Pay(ctx context.Context, recipients []types.Recipient) (*Payment, error) {
	p, err := b.Prepare(ctx, recipients)
	if err != nil {
		return nil, err
	}
	return b.Submit(ctx, p)
}

// Await blocks until batch id reaches a terminal status or ctx is done. A
// failed batch returns a StatusFailed error alongside the result. Only
// pending records are watched; a settled record answers from the ledger and
// an unknown id is NotFound.
func (b *BatchPay) Await(ctx context.Context, id string) (polling.Result, error) {
	rec, err := b.ledger.Get(ctx, id)
	if err != nil {
		return polling.Result{ID: id, Err: err}, err
	}
	if rec.Status.IsTerminal() {
		res := polling.Result{ID: id, Status: rec.Status}
		if rec.Status == types.StatusFailed {
			res.Err = types.NewError(types.CodeStatusFailed, "batch %s failed", id)
		}
		return res, res.Err
	}
	return b.poller.Watch(context.WithoutCancel(ctx), id).Wait(ctx)
}

// Refresh checks the status of id once, outside the regular poll interval.
func (b *BatchPay) Refresh(ctx context.Context, id string) (polling.Result, bool, error) {
	return b.poller.Trigger(ctx, id)
}

// History returns every recorded batch, newest first.
func (b *BatchPay) History(ctx context.Context) ([]types.PaymentRecord, error) {
	return b.ledger.List(ctx)
}

// Lookup returns the record of one batch.
func (b *BatchPay) Lookup(ctx context.Context, id string) (types.PaymentRecord, error) {
	return b.ledger.Get(ctx, id)
}

// Resume watches every batch the ledger still holds as pending.
func (b *BatchPay) Resume(ctx context.Context) ([]*polling.Handle, error) {
	return b.poller.Resume(context.WithoutCancel(ctx))
}

// Codec returns the amount codec for the configured token.
func (b *BatchPay) Codec() utils.AmountCodec { return b.codec }

func (b *BatchPay) Config() types.Config { return *b.cfg }

// Account is the paying address.
func (b *BatchPay) Account() common.Address { return b.account }

// Balance returns the payer's token balance in base units; ok is false when
// no node is configured.
func (b *BatchPay) Balance(ctx context.Context) (units *big.Int, ok bool, err error) {
	tc, isToken := b.balance.(clients.ERC20)
	if !isToken {
		return nil, false, nil
	}
	units, err = tc.BalanceOf(ctx, b.account)
	return units, true, err
}

// Close stops all watches and closes every connection New opened.
func (b *BatchPay) Close() {
	if b.poller != nil {
		b.poller.Close()
	}
	if b.submitter != nil {
		b.submitter.Close()
	} else if b.provider != nil {
		b.provider.Close()
	}
	if b.ownsBalance {
		if c, ok := b.balance.(interface{ Close() }); ok {
			c.Close()
		}
	}
	if b.ownsLedger {
		if c, ok := b.ledger.(io.Closer); ok {
			if err := c.Close(); err != nil {
				b.logger.Warn("failed to close ledger", map[string]any{"error": err})
			}
		}
	}
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":       Version,
		"send_calls_version":    types.SendCallsVersion,
		"supported_networks":    []string{"base", "base-sepolia", "polygon", "polygon-amoy"},
		"supported_standards":   []string{"erc20"},
		"supported_wallet_apis": []string{"wallet_getCapabilities", "wallet_sendCalls", "wallet_getCallsStatus"},
	}
}
