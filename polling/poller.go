// Package polling tracks submitted batches until the wallet reports a
// terminal status.
package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/ledger"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/types"
)

// DefaultMaxBackOff caps the wait between polls after repeated transport errors.
const DefaultMaxBackOff = time.Minute

// Result is the outcome of watching one batch. Status is pending when the
// watch was cancelled before a terminal answer.
type Result struct {
	ID       string
	Status   types.Status
	Receipts []types.Receipt

	// StatusFailed for a failed batch, the context error for a cancelled
	// watch, nil otherwise.
	Err error

	// Status queries issued by the watch task.
	Polls int
}

// Handle is the future returned by Watch.
type Handle struct {
	id     string
	done   chan struct{}
	once   sync.Once
	res    Result
	cancel context.CancelFunc
}

func newHandle(id string, cancel context.CancelFunc) *Handle {
	return &Handle{id: id, done: make(chan struct{}), cancel: cancel}
}

func (h *Handle) ID() string { return h.id }

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the result without blocking; ok is false while the watch
// is still running.
func (h *Handle) Result() (res Result, ok bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the watch ends or ctx is done. Giving up on ctx does not
// stop the watch.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.res, h.res.Err
	case <-ctx.Done():
		return Result{ID: h.id, Status: types.StatusPending, Err: ctx.Err()}, ctx.Err()
	}
}

// Stop cancels the watch. The ledger record is left as it is.
func (h *Handle) Stop() { h.cancel() }

func (h *Handle) resolve(res Result) bool {
	resolved := false
	h.once.Do(func() {
		h.res = res
		close(h.done)
		resolved = true
	})
	return resolved
}

type task struct {
	handle *Handle
	polls  atomic.Int32
}

// Poller runs at most one watch task per submission id and at most one
// outstanding status query per id.
type Poller struct {
	provider clients.Provider
	ledger   ledger.Ledger

	interval     time.Duration
	queryTimeout time.Duration
	maxBackOff   time.Duration
	network      string
	logger       logger.Logger
	metrics      metrics.Recorder

	mu       sync.Mutex
	tasks    map[string]*task
	inflight map[string]struct{}

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

type Option func(*Poller)

// WithInterval sets the time between polls; default types.DefaultPollInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

func WithQueryTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.queryTimeout = d
	}
}

// WithMaxBackOff caps the delay after consecutive transport errors.
func WithMaxBackOff(d time.Duration) Option {
	return func(p *Poller) {
		p.maxBackOff = d
	}
}

// WithNetwork sets the network label on emitted metrics.
func WithNetwork(n types.Network) Option {
	return func(p *Poller) {
		p.network = n.String()
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Poller) {
		p.metrics = r
	}
}

func NewPoller(provider clients.Provider, l ledger.Ledger, opts ...Option) *Poller {
	p := &Poller{
		provider:     provider,
		ledger:       l,
		interval:     types.DefaultPollInterval,
		queryTimeout: types.DefaultQueryTimeout,
		maxBackOff:   DefaultMaxBackOff,
		tasks:        make(map[string]*task),
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		p.interval = types.DefaultPollInterval
	}
	if p.maxBackOff < p.interval {
		p.maxBackOff = p.interval
	}
	p.logger = logger.OrNoop(p.logger)
	p.metrics = metrics.OrNoop(p.metrics)
	p.base, p.shutdown = context.WithCancel(context.Background())
	return p
}

// Watch starts polling id every interval until a terminal status, until ctx
// is cancelled or until the poller is closed. Watching an id that is already
// watched returns the existing handle.
func (p *Poller) Watch(ctx context.Context, id string) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tasks[id]; ok {
		return t.handle
	}

	taskCtx, cancel := context.WithCancel(ctx)
	h := newHandle(id, cancel)
	if p.closed {
		cancel()
		h.resolve(Result{ID: id, Status: types.StatusPending, Err: context.Canceled})
		return h
	}
	stop := context.AfterFunc(p.base, cancel)

	t := &task{handle: h}
	p.tasks[id] = t
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		defer cancel()
		p.run(taskCtx, id, t)
	}()
	return h
}

// Resume watches every record still pending in the ledger, e.g. after a restart.
func (p *Poller) Resume(ctx context.Context) ([]*Handle, error) {
	pending, err := p.ledger.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	handles := make([]*Handle, 0, len(pending))
	for _, rec := range pending {
		handles = append(handles, p.Watch(ctx, rec.ID))
	}
	if len(handles) > 0 {
		p.logger.Info("resumed pending batches", map[string]any{"count": len(handles)})
	}
	return handles, nil
}

// Trigger issues one out-of-band status query for id. skipped is true, and
// nothing is queried, while another query for id is outstanding. A terminal
// answer is applied to the ledger and ends any watch on id. err reports a
// failed query only; a failed batch is reported in res.Err.
func (p *Poller) Trigger(ctx context.Context, id string) (res Result, skipped bool, err error) {
	res, terminal, skipped, err := p.step(ctx, id)
	if !terminal {
		return res, skipped, err
	}

	p.mu.Lock()
	t, watched := p.tasks[id]
	p.mu.Unlock()
	if watched {
		res.Polls = int(t.polls.Load())
		if t.handle.resolve(res) {
			t.handle.cancel()
		}
	}
	return res, false, nil
}

// Watching reports whether a watch task is running for id.
func (p *Poller) Watching(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[id]
	return ok
}

// Close stops every watch and waits for the tasks to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.shutdown()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, id string, t *task) {
	defer func() {
		p.mu.Lock()
		delete(p.tasks, id)
		p.mu.Unlock()
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval
	b.MaxInterval = p.maxBackOff
	b.Reset()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.handle.resolve(Result{ID: id, Status: types.StatusPending, Err: ctx.Err(), Polls: int(t.polls.Load())})
			return
		case <-timer.C:
		}

		res, terminal, skipped, err := p.step(ctx, id)
		if !skipped {
			t.polls.Add(1)
		}

		wait := p.interval
		switch {
		case terminal:
			res.Polls = int(t.polls.Load())
			t.handle.resolve(res)
			return
		case err != nil:
			// transient; keep the record pending and back off
			wait = max(p.interval, b.NextBackOff())
		default:
			b.Reset()
		}
		timer.Reset(wait)
	}
}

// step issues one status query for id and applies a terminal answer.
func (p *Poller) step(ctx context.Context, id string) (res Result, terminal, skipped bool, err error) {
	labels := map[string]string{"network": p.network}
	res = Result{ID: id, Status: types.StatusPending}

	if !p.acquire(id) {
		p.metrics.IncCounter(metrics.EventPollSkipped, labels)
		return res, false, true, nil
	}
	defer p.release(id)

	qctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	start := time.Now()
	st, err := p.provider.QueryStatus(qctx, id)
	cancel()
	p.metrics.ObserveLatency(metrics.OpStatusQuery, time.Since(start), labels)
	p.metrics.IncCounter(metrics.EventPollQuery, labels)

	if err != nil {
		if types.ErrorCode(err) == "" {
			err = clients.ClassifyStatusError(err)
		}
		p.metrics.IncCounter(metrics.EventPollTransportError, labels)
		p.logger.Debug("status query failed, will retry", map[string]any{"id": id, "error": err})
		return res, false, false, err
	}
	if !st.Status.IsTerminal() {
		return res, false, false, nil
	}

	res, err = p.settle(ctx, id, st)
	if err != nil {
		return res, false, false, err
	}
	return res, true, false, nil
}

// settle records a terminal status. Only the caller whose write changed the
// record reports the outcome.
func (p *Poller) settle(ctx context.Context, id string, st *types.CallsStatus) (Result, error) {
	labels := map[string]string{"network": p.network}
	res := Result{ID: id, Status: st.Status, Receipts: st.Receipts}

	changed, err := p.ledger.Transition(context.WithoutCancel(ctx), id, st.Status)
	switch {
	case errors.Is(err, types.ErrInvalidTransition):
		// the ledger already holds the other terminal status; it wins
		rec, gerr := p.ledger.Get(context.WithoutCancel(ctx), id)
		if gerr != nil {
			return res, gerr
		}
		p.logger.Warn("wallet status diverges from ledger", map[string]any{
			"id":     id,
			"wallet": st.Status.String(),
			"ledger": rec.Status.String(),
		})
		res.Status = rec.Status
	case errors.Is(err, types.ErrNotFound):
		res.Err = err
		return res, nil
	case err != nil:
		p.logger.Error("failed to record terminal status", map[string]any{"id": id, "error": err})
		return Result{ID: id, Status: types.StatusPending}, err
	}

	if res.Status == types.StatusFailed {
		res.Err = types.NewError(types.CodeStatusFailed, "batch %s failed (wallet status %d)", id, st.StatusCode)
	}

	if changed {
		event := metrics.EventBatchCompleted
		if res.Status == types.StatusFailed {
			event = metrics.EventBatchFailed
		}
		p.metrics.IncCounter(event, labels)
		if rec, gerr := p.ledger.Get(context.WithoutCancel(ctx), id); gerr == nil {
			p.metrics.ObserveLatency(metrics.OpSettlement, time.Since(rec.CreatedAt), labels)
		}
		p.logger.Info("batch settled", map[string]any{
			"id":       id,
			"status":   res.Status.String(),
			"receipts": len(st.Receipts),
		})
	}
	return res, nil
}

func (p *Poller) acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Poller) release(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}
