package polling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/ledger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/types"
)

const interval = 5 * time.Millisecond

// countingLedger counts transitions that actually changed a record.
type countingLedger struct {
	ledger.Ledger
	changes atomic.Int32
}

func (c *countingLedger) Transition(ctx context.Context, id string, status types.Status) (bool, error) {
	changed, err := c.Ledger.Transition(ctx, id, status)
	if changed {
		c.changes.Add(1)
	}
	return changed, err
}

func seed(t *testing.T, l ledger.Ledger, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := l.Create(context.Background(), ledger.Entry{
			ID:         id,
			Recipients: []types.Recipient{{Name: "Alice", Address: "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6", Amount: "10.00"}},
			Total:      decimal.RequireFromString("10"),
			Network:    types.NetworkBaseSepolia,
		})
		require.NoError(t, err)
	}
}

func newPoller(t *testing.T, wallet *clients.FakeWallet, l ledger.Ledger, opts ...Option) *Poller {
	t.Helper()
	p := NewPoller(wallet, l, append([]Option{WithInterval(interval)}, opts...)...)
	t.Cleanup(p.Close)
	return p
}

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-h.Done():
	case <-ctx.Done():
		t.Fatalf("watch on %s did not finish", h.ID())
	}
	res, ok := h.Result()
	require.True(t, ok)
	return res
}

func status(t *testing.T, l ledger.Ledger, id string) types.Status {
	t.Helper()
	rec, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func TestWatchCompletesAfterPendingPolls(t *testing.T) {
	wallet := clients.NewFakeWallet().Script("0x1",
		types.StatusPending, types.StatusPending, types.StatusPending, types.StatusCompleted)
	l := &countingLedger{Ledger: ledger.NewMemoryLedger(nil)}
	seed(t, l, "0x1")
	rec := metrics.NewCountingRecorder()
	p := newPoller(t, wallet, l, WithMetrics(rec))

	res := wait(t, p.Watch(context.Background(), "0x1"))

	require.NoError(t, res.Err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 4, res.Polls)
	assert.Equal(t, 4, wallet.StatusCalls("0x1"))
	assert.Equal(t, int32(1), l.changes.Load())
	assert.Equal(t, types.StatusCompleted, status(t, l, "0x1"))
	assert.Equal(t, 1, rec.Count(metrics.EventBatchCompleted))

	// no further queries once terminal
	time.Sleep(4 * interval)
	assert.Equal(t, 4, wallet.StatusCalls("0x1"))
	assert.False(t, p.Watching("0x1"))
}

func TestWatchFailedBatch(t *testing.T) {
	wallet := clients.NewFakeWallet().Script("0x1", types.StatusPending, types.StatusFailed)
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	rec := metrics.NewCountingRecorder()
	p := newPoller(t, wallet, l, WithMetrics(rec))

	h := p.Watch(context.Background(), "0x1")
	res, err := h.Wait(context.Background())

	assert.ErrorIs(t, err, types.ErrStatusFailed)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Equal(t, types.StatusFailed, status(t, l, "0x1"))
	assert.Equal(t, 1, rec.Count(metrics.EventBatchFailed))
}

func TestWatchRetriesTransportErrors(t *testing.T) {
	wallet := clients.NewFakeWallet().
		FailStatus("0x1", errors.New("connection reset"), errors.New("connection reset")).
		Script("0x1", types.StatusCompleted)
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	rec := metrics.NewCountingRecorder()
	p := newPoller(t, wallet, l, WithMetrics(rec), WithMaxBackOff(4*interval))

	res := wait(t, p.Watch(context.Background(), "0x1"))

	require.NoError(t, res.Err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 3, wallet.StatusCalls("0x1"))
	assert.Equal(t, 2, rec.Count(metrics.EventPollTransportError))
}

func TestWatchSameIDReturnsSameHandle(t *testing.T) {
	wallet := clients.NewFakeWallet()
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	p := newPoller(t, wallet, l)

	h1 := p.Watch(context.Background(), "0x1")
	h2 := p.Watch(context.Background(), "0x1")
	assert.Same(t, h1, h2)
	h1.Stop()
}

func TestCancelLeavesRecordPending(t *testing.T) {
	wallet := clients.NewFakeWallet()
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	p := newPoller(t, wallet, l)

	ctx, cancel := context.WithCancel(context.Background())
	h := p.Watch(ctx, "0x1")
	time.Sleep(3 * interval)
	cancel()

	res := wait(t, h)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, types.StatusPending, res.Status)
	assert.Equal(t, types.StatusPending, status(t, l, "0x1"))

	calls := wallet.StatusCalls("0x1")
	time.Sleep(3 * interval)
	assert.Equal(t, calls, wallet.StatusCalls("0x1"))
}

func TestWaitTimeoutDoesNotStopWatch(t *testing.T) {
	wallet := clients.NewFakeWallet()
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	p := newPoller(t, wallet, l)

	h := p.Watch(context.Background(), "0x1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*interval)
	defer cancel()

	res, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.StatusPending, res.Status)
	assert.True(t, p.Watching("0x1"))

	wallet.Script("0x1", types.StatusCompleted)
	assert.Equal(t, types.StatusCompleted, wait(t, h).Status)
}

func TestTriggerSkipsWhileQueryInFlight(t *testing.T) {
	wallet := clients.NewFakeWallet()
	release := wallet.HoldStatus()
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	rec := metrics.NewCountingRecorder()
	p := newPoller(t, wallet, l, WithMetrics(rec))

	h := p.Watch(context.Background(), "0x1")
	require.Eventually(t, func() bool { return wallet.StatusCalls("0x1") == 1 }, time.Second, time.Millisecond)

	_, skipped, err := p.Trigger(context.Background(), "0x1")
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, 1, wallet.StatusCalls("0x1"))
	assert.Equal(t, 1, rec.Count(metrics.EventPollSkipped))

	wallet.Script("0x1", types.StatusCompleted)
	release()

	assert.Equal(t, types.StatusCompleted, wait(t, h).Status)
	assert.Equal(t, 1, wallet.MaxInFlight())
}

func TestTriggerSettlesWatchedBatch(t *testing.T) {
	wallet := clients.NewFakeWallet()
	l := &countingLedger{Ledger: ledger.NewMemoryLedger(nil)}
	seed(t, l, "0x1")
	p := NewPoller(wallet, l, WithInterval(time.Hour))
	t.Cleanup(p.Close)

	h := p.Watch(context.Background(), "0x1")
	wallet.Script("0x1", types.StatusCompleted)

	res, skipped, err := p.Trigger(context.Background(), "0x1")
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, types.StatusCompleted, res.Status)

	assert.Equal(t, types.StatusCompleted, wait(t, h).Status)
	assert.Equal(t, int32(1), l.changes.Load())

	// a later trigger sees the same answer but changes nothing
	res, _, err = p.Trigger(context.Background(), "0x1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, int32(1), l.changes.Load())
}

func TestTriggerPendingAndTransportError(t *testing.T) {
	wallet := clients.NewFakeWallet().FailStatus("0x1", errors.New("dial tcp: refused"))
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	p := newPoller(t, wallet, l)

	_, _, err := p.Trigger(context.Background(), "0x1")
	assert.ErrorIs(t, err, types.ErrPollTransport)
	assert.True(t, types.IsRetryable(err))

	res, skipped, err := p.Trigger(context.Background(), "0x1")
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, types.StatusPending, res.Status)
	assert.Equal(t, types.StatusPending, status(t, l, "0x1"))
}

func TestTriggerUnknownBundle(t *testing.T) {
	wallet := clients.NewFakeWallet().
		FailStatus("0x1", clients.NewWalletError(clients.CodeUnknownBundleID, "unknown bundle id"))
	p := newPoller(t, wallet, ledger.NewMemoryLedger(nil))

	_, _, err := p.Trigger(context.Background(), "0x1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDivergentTerminalStatusKeepsLedger(t *testing.T) {
	wallet := clients.NewFakeWallet().Script("0x1", types.StatusFailed)
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	_, err := l.Transition(context.Background(), "0x1", types.StatusCompleted)
	require.NoError(t, err)
	p := newPoller(t, wallet, l)

	res, _, err := p.Trigger(context.Background(), "0x1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, types.StatusCompleted, status(t, l, "0x1"))
}

func TestResume(t *testing.T) {
	wallet := clients.NewFakeWallet().
		Script("0x1", types.StatusPending, types.StatusCompleted).
		Script("0x2", types.StatusFailed)
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1", "0x2", "0x3")
	_, err := l.Transition(context.Background(), "0x3", types.StatusCompleted)
	require.NoError(t, err)
	p := newPoller(t, wallet, l)

	handles, err := p.Resume(context.Background())
	require.NoError(t, err)
	require.Len(t, handles, 2)

	got := map[string]types.Status{}
	for _, h := range handles {
		got[h.ID()] = wait(t, h).Status
	}
	assert.Equal(t, map[string]types.Status{"0x1": types.StatusCompleted, "0x2": types.StatusFailed}, got)
	assert.Zero(t, wallet.StatusCalls("0x3"))

	pending, err := l.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCloseStopsWatches(t *testing.T) {
	wallet := clients.NewFakeWallet()
	l := ledger.NewMemoryLedger(nil)
	seed(t, l, "0x1")
	p := NewPoller(wallet, l, WithInterval(interval))

	h := p.Watch(context.Background(), "0x1")
	p.Close()

	res := wait(t, h)
	assert.Equal(t, types.StatusPending, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)

	late := p.Watch(context.Background(), "0x1")
	assert.ErrorIs(t, wait(t, late).Err, context.Canceled)
}
