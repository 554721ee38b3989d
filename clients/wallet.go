package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/types"
)

// EIP-5792 methods.
const (
	MethodGetCapabilities = "wallet_getCapabilities"
	MethodSendCalls       = "wallet_sendCalls"
	MethodGetCallsStatus  = "wallet_getCallsStatus"
)

// CallParams is one entry of the wallet_sendCalls "calls" array.
type CallParams struct {
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  hexutil.Bytes  `json:"data"`
}

// SendCallsParams is the single wallet_sendCalls parameter.
type SendCallsParams struct {
	Version        string         `json:"version"`
	ID             string         `json:"id,omitempty"`
	From           common.Address `json:"from"`
	ChainID        *hexutil.Big   `json:"chainId"`
	AtomicRequired bool           `json:"atomicRequired"`
	Calls          []CallParams   `json:"calls"`
}

// SendCallsResult is the wallet_sendCalls answer. Wallets on the first
// version of the draft return the id as a bare string.
type SendCallsResult struct {
	ID           string                     `json:"id"`
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

func (r *SendCallsResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = SendCallsResult{ID: id}
		return nil
	}
	type plain SendCallsResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = SendCallsResult(p)
	return nil
}

// StatusValue holds the status field of wallet_getCallsStatus, which is a
// numeric code in current wallets and a string in legacy ones.
type StatusValue struct {
	Code int
	Text string
}

func (s StatusValue) MarshalJSON() ([]byte, error) {
	if s.Text != "" {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Code)
}

func (s *StatusValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		// some wallets send the numeric code as a string
		if code, err := strconv.Atoi(text); err == nil {
			*s = StatusValue{Code: code}
			return nil
		}
		*s = StatusValue{Text: text}
		return nil
	}
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	*s = StatusValue{Code: code}
	return nil
}

// ReceiptResult is a transaction receipt inside a status answer.
type ReceiptResult struct {
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

// CallsStatusResult is the wallet_getCallsStatus answer.
type CallsStatusResult struct {
	Version  string          `json:"version,omitempty"`
	ID       string          `json:"id,omitempty"`
	ChainID  *hexutil.Big    `json:"chainId,omitempty"`
	Status   StatusValue     `json:"status"`
	Atomic   bool            `json:"atomic"`
	Receipts []ReceiptResult `json:"receipts,omitempty"`
}

// EIP-5792 status codes.
const (
	StatusCodePending           = 100
	StatusCodeConfirmed         = 200
	StatusCodeOffchainFailure   = 400
	StatusCodeReverted          = 500
	StatusCodePartiallyReverted = 600
)

// ToCallsStatus maps a wallet answer onto pending/completed/failed.
func (r *CallsStatusResult) ToCallsStatus(id string) (*types.CallsStatus, error) {
	out := &types.CallsStatus{
		ID:         id,
		StatusCode: r.Status.Code,
		Atomic:     r.Atomic,
	}

	reverted := false
	for _, rc := range r.Receipts {
		ok := rc.Status == 1
		if !ok {
			reverted = true
		}
		out.Receipts = append(out.Receipts, types.Receipt{
			TransactionHash: rc.TransactionHash,
			BlockNumber:     uint64(rc.BlockNumber),
			GasUsed:         uint64(rc.GasUsed),
			Success:         ok,
		})
	}

	switch {
	case r.Status.Text != "":
		switch strings.ToUpper(r.Status.Text) {
		case "PENDING":
			out.Status = types.StatusPending
		case "CONFIRMED":
			out.Status = types.StatusCompleted
		default:
			return nil, types.NewError(types.CodePollTransport, "unrecognised batch status %q", r.Status.Text)
		}
	case r.Status.Code >= 100 && r.Status.Code < 200:
		out.Status = types.StatusPending
	case r.Status.Code == StatusCodeConfirmed:
		out.Status = types.StatusCompleted
	case r.Status.Code >= 400 && r.Status.Code < 700:
		out.Status = types.StatusFailed
	default:
		return nil, types.NewError(types.CodePollTransport, "unrecognised batch status code %d", r.Status.Code)
	}

	if out.Status == types.StatusCompleted && reverted {
		out.Status = types.StatusFailed
	}
	return out, nil
}

// WalletClient talks EIP-5792 to a wallet over JSON-RPC.
type WalletClient struct {
	rpc    *rpc.Client
	url    string
	logger logger.Logger
}

// NewWalletClient dials the wallet endpoint. HTTP endpoints connect lazily, so
// an unreachable wallet surfaces on the first call.
func NewWalletClient(ctx context.Context, url string, log logger.Logger) (*WalletClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, types.WrapError(types.CodeProviderUnavailable, err, "failed to dial wallet %s", url)
	}
	w := NewWalletClientFromRPC(c, log)
	w.url = url
	return w, nil
}

// NewWalletClientFromRPC wraps an already connected rpc client.
func NewWalletClientFromRPC(c *rpc.Client, log logger.Logger) *WalletClient {
	return &WalletClient{rpc: c, logger: logger.OrNoop(log)}
}

func (w *WalletClient) QueryCapabilities(ctx context.Context, account common.Address, chainIDs ...*big.Int) (Capabilities, error) {
	keys := make([]string, 0, len(chainIDs))
	for _, id := range chainIDs {
		keys = append(keys, ChainKey(id))
	}

	var caps Capabilities
	if err := w.rpc.CallContext(ctx, &caps, MethodGetCapabilities, account, keys); err != nil {
		return nil, types.WrapError(types.CodeProviderUnavailable, err, "%s failed", MethodGetCapabilities)
	}
	w.logger.Debug("capabilities received", map[string]any{
		"account": account.Hex(),
		"chains":  len(caps),
	})
	return caps, nil
}

func (w *WalletClient) SubmitBatch(ctx context.Context, req *types.BatchRequest) (string, error) {
	if req == nil || req.ChainID == nil {
		return "", types.NewError(types.CodeSubmission, "batch request has no chain id")
	}

	params := SendCallsParams{
		Version:        req.Version,
		From:           req.From,
		ChainID:        (*hexutil.Big)(req.ChainID),
		AtomicRequired: req.AtomicRequired,
		Calls:          make([]CallParams, 0, len(req.Calls)),
	}
	if params.Version == "" {
		params.Version = types.SendCallsVersion
	}
	for _, c := range req.Calls {
		value := new(big.Int)
		if c.Value != nil {
			value.Set(c.Value)
		}
		params.Calls = append(params.Calls, CallParams{
			To:    c.To,
			Value: (*hexutil.Big)(value),
			Data:  c.Data,
		})
	}

	var res SendCallsResult
	if err := w.rpc.CallContext(ctx, &res, MethodSendCalls, params); err != nil {
		return "", ClassifySubmitError(err)
	}
	if res.ID == "" {
		return "", types.NewError(types.CodeSubmission, "wallet returned an empty submission id")
	}
	return res.ID, nil
}

func (w *WalletClient) QueryStatus(ctx context.Context, id string) (*types.CallsStatus, error) {
	var res CallsStatusResult
	if err := w.rpc.CallContext(ctx, &res, MethodGetCallsStatus, id); err != nil {
		return nil, ClassifyStatusError(err)
	}
	st, err := res.ToCallsStatus(id)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", id, err)
	}
	return st, nil
}

func (w *WalletClient) Close() {
	w.rpc.Close()
}
