package clients

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/batchpay/types"
)

const erc20ReadABI = `[
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var erc20Reader = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ReadABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// ContractCaller is the read-only slice of ethclient the token client needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC20 reads token state for the balance pre-check.
type ERC20 interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
}

// TokenClient reads an ERC-20 contract through a node.
type TokenClient struct {
	token  common.Address
	caller ContractCaller
	closer func()
}

// DialToken connects to the node at rpcURL and binds the token contract.
func DialToken(ctx context.Context, rpcURL string, token common.Address) (*TokenClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, types.WrapError(types.CodeProviderUnavailable, err, "failed to dial node %s", rpcURL)
	}
	t := NewTokenClient(token, c)
	t.closer = c.Close
	return t, nil
}

func NewTokenClient(token common.Address, caller ContractCaller) *TokenClient {
	return &TokenClient{token: token, caller: caller}
}

func (t *TokenClient) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, types.NewError(types.CodeProviderUnavailable, "balanceOf returned %T", out[0])
	}
	return balance, nil
}

func (t *TokenClient) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, types.NewError(types.CodeProviderUnavailable, "decimals returned %T", out[0])
	}
	return d, nil
}

// HasBalance reports whether owner holds at least amount base units.
// It satisfies submission.BalanceChecker.
func (t *TokenClient) HasBalance(ctx context.Context, owner common.Address, amount *big.Int) (bool, *big.Int, error) {
	balance, err := t.BalanceOf(ctx, owner)
	if err != nil {
		return false, nil, err
	}
	return balance.Cmp(amount) >= 0, balance, nil
}

func (t *TokenClient) Close() {
	if t.closer != nil {
		t.closer()
	}
}

func (t *TokenClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := erc20Reader.Pack(method, args...)
	if err != nil {
		return nil, types.WrapError(types.CodeEncoding, err, "failed to pack %s", method)
	}
	to := t.token
	raw, err := t.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, types.WrapError(types.CodeProviderUnavailable, err, "%s call failed", method)
	}
	out, err := erc20Reader.Unpack(method, raw)
	if err != nil {
		return nil, types.WrapError(types.CodeProviderUnavailable, err, "failed to unpack %s", method)
	}
	if len(out) == 0 {
		return nil, types.NewError(types.CodeProviderUnavailable, "%s returned nothing", method)
	}
	return out, nil
}
