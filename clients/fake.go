package clients

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/vitwit/batchpay/types"
)

// FakeWallet is an in-memory Provider with scripted answers. It records every
// request so tests can assert on exactly what was dispatched.
type FakeWallet struct {
	mu sync.Mutex

	atomic     map[string]bool
	capsErr    error
	submitErr  error
	statusErrs map[string][]error
	scripts    map[string][]types.Status
	next       []types.Status

	submitted   []*types.BatchRequest
	ids         []string
	statusCalls map[string]int
	capsCalls   int
	inFlight    map[string]int
	maxInFlight int
	statusGate  chan struct{}
	closed      bool
}

func NewFakeWallet() *FakeWallet {
	return &FakeWallet{
		atomic:      map[string]bool{},
		statusErrs:  map[string][]error{},
		scripts:     map[string][]types.Status{},
		statusCalls: map[string]int{},
		inFlight:    map[string]int{},
	}
}

// SetAtomic sets the atomic capability the wallet reports for chainID.
func (f *FakeWallet) SetAtomic(chainID *big.Int, supported bool) *FakeWallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.atomic[ChainKey(chainID)] = supported
	return f
}

// FailCapabilities makes every capability query return err.
func (f *FakeWallet) FailCapabilities(err error) *FakeWallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capsErr = err
	return f
}

// FailSubmit makes every submission return err.
func (f *FakeWallet) FailSubmit(err error) *FakeWallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
	return f
}

// Script queues the statuses returned by successive queries for id. The last
// status repeats once the queue is exhausted; an unscripted id stays pending.
func (f *FakeWallet) Script(id string, statuses ...types.Status) *FakeWallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[id] = append(f.scripts[id], statuses...)
	return f
}

// ScriptNext scripts the statuses of the next batch submitted to the wallet.
func (f *FakeWallet) ScriptNext(statuses ...types.Status) *FakeWallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = append([]types.Status(nil), statuses...)
	return f
}

// FailStatus queues errors returned by the next status queries for id, ahead
// of any scripted status.
func (f *FakeWallet) FailStatus(id string, errs ...error) *FakeWallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErrs[id] = append(f.statusErrs[id], errs...)
	return f
}

// HoldStatus blocks every status query until the returned release func is
// called. Used to observe in-flight de-duplication.
func (f *FakeWallet) HoldStatus() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.statusGate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.statusGate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *FakeWallet) QueryCapabilities(ctx context.Context, account common.Address, chainIDs ...*big.Int) (Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capsCalls++
	if f.capsErr != nil {
		return nil, f.capsErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := Capabilities{}
	for _, id := range chainIDs {
		key := ChainKey(id)
		status := "unsupported"
		if f.atomic[key] {
			status = "supported"
		}
		out[key] = CapabilitySet{Atomic: &AtomicCapability{Status: status}}
	}
	return out, nil
}

func (f *FakeWallet) SubmitBatch(ctx context.Context, req *types.BatchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := "0x" + uuid.NewString()
	f.submitted = append(f.submitted, req)
	f.ids = append(f.ids, id)
	if len(f.next) > 0 {
		f.scripts[id] = f.next
		f.next = nil
	}
	return id, nil
}

func (f *FakeWallet) QueryStatus(ctx context.Context, id string) (*types.CallsStatus, error) {
	f.mu.Lock()
	f.statusCalls[id]++
	f.inFlight[id]++
	if f.inFlight[id] > f.maxInFlight {
		f.maxInFlight = f.inFlight[id]
	}
	gate := f.statusGate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[id]--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, types.WrapError(types.CodePollTransport, ctx.Err(), "status query aborted")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.statusErrs[id]; len(errs) > 0 {
		f.statusErrs[id] = errs[1:]
		return nil, errs[0]
	}

	status := types.StatusPending
	if script := f.scripts[id]; len(script) > 0 {
		status = script[0]
		if len(script) > 1 {
			f.scripts[id] = script[1:]
		}
	}

	out := &types.CallsStatus{ID: id, Status: status, Atomic: true}
	switch status {
	case types.StatusPending:
		out.StatusCode = StatusCodePending
	case types.StatusCompleted:
		out.StatusCode = StatusCodeConfirmed
	case types.StatusFailed:
		out.StatusCode = StatusCodeReverted
	}
	return out, nil
}

func (f *FakeWallet) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Submitted returns the requests dispatched so far, in order.
func (f *FakeWallet) Submitted() []*types.BatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.BatchRequest(nil), f.submitted...)
}

// IDs returns the submission ids handed out so far, in order.
func (f *FakeWallet) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// StatusCalls returns how many status queries were issued for id.
func (f *FakeWallet) StatusCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[id]
}

// CapabilityCalls returns how many capability queries were issued.
func (f *FakeWallet) CapabilityCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capsCalls
}

// MaxInFlight is the highest number of concurrent status queries observed for
// any single id.
func (f *FakeWallet) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *FakeWallet) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
