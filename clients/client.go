package clients

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/batchpay/types"
)

// Provider is the wallet capability the engine talks to. WalletClient is the
// production implementation; FakeWallet satisfies the same contract in tests.
type Provider interface {
	// QueryCapabilities asks which capabilities account has on the given chains.
	QueryCapabilities(ctx context.Context, account common.Address, chainIDs ...*big.Int) (Capabilities, error)

	// SubmitBatch dispatches req and returns the wallet's submission id.
	SubmitBatch(ctx context.Context, req *types.BatchRequest) (string, error)

	// QueryStatus reports the current state of a submission.
	QueryStatus(ctx context.Context, id string) (*types.CallsStatus, error)

	Close()
}

// Capabilities maps a hex chain id ("0x2105") to its capability descriptor.
type Capabilities map[string]CapabilitySet

// CapabilitySet is the per-chain descriptor. Both the current EIP-5792
// "atomic" shape and the older "atomicBatch" shape are understood.
type CapabilitySet struct {
	Atomic      *AtomicCapability      `json:"atomic,omitempty"`
	AtomicBatch *AtomicBatchCapability `json:"atomicBatch,omitempty"`

	// Everything else the wallet advertised, kept verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

type AtomicCapability struct {
	// "supported", "ready" or "unsupported"
	Status string `json:"status"`
}

type AtomicBatchCapability struct {
	Supported bool `json:"supported"`
}

// SupportsAtomic reports whether the wallet will execute a batch atomically.
// "ready" means the account can be upgraded on first use, which the wallet
// does as part of the same request.
func (c CapabilitySet) SupportsAtomic() bool {
	if c.Atomic != nil {
		s := strings.ToLower(c.Atomic.Status)
		return s == "supported" || s == "ready"
	}
	if c.AtomicBatch != nil {
		return c.AtomicBatch.Supported
	}
	return false
}

// For looks up the descriptor for chainID. Wallets that answer with decimal
// keys are tolerated.
func (c Capabilities) For(chainID *big.Int) (CapabilitySet, bool) {
	if chainID == nil {
		return CapabilitySet{}, false
	}
	if set, ok := c[ChainKey(chainID)]; ok {
		return set, true
	}
	set, ok := c[chainID.String()]
	return set, ok
}

// ChainKey is the EIP-5792 map key for chainID.
func ChainKey(chainID *big.Int) string {
	return hexutil.EncodeBig(chainID)
}

func (c *CapabilitySet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := CapabilitySet{Extra: map[string]json.RawMessage{}}
	for k, v := range raw {
		switch k {
		case "atomic":
			var a AtomicCapability
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out.Atomic = &a
		case "atomicBatch":
			var a AtomicBatchCapability
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out.AtomicBatch = &a
		default:
			out.Extra[k] = v
		}
	}
	*c = out
	return nil
}
