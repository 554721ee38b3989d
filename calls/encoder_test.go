package calls

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
)

var (
	token = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	addrA = "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6"
	addrB = "0x1234567890123456789012345678901234567890"
)

const erc20TransferABI = `[{"name":"transfer","type":"function","stateMutability":"nonpayable",
"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
"outputs":[{"name":"","type":"bool"}]}]`

func codec(t *testing.T) utils.AmountCodec {
	t.Helper()
	c, err := utils.NewAmountCodec(6, types.DefaultMaxAmount)
	require.NoError(t, err)
	return c
}

func TestEncodeTransferLayout(t *testing.T) {
	call, err := EncodeTransfer(token, addrA, big.NewInt(1_500_000_000))
	require.NoError(t, err)

	assert.Equal(t, token, call.To)
	assert.Equal(t, 0, call.Value.Sign())
	require.Len(t, call.Data, TransferPayloadLength)

	want := "a9059cbb" +
		"000000000000000000000000742d35cc6634c0532925a3b8d4c9db96c4b4d8b6" +
		"0000000000000000000000000000000000000000000000000000000059682f00"
	assert.Equal(t, want, hex.EncodeToString(call.Data))
}

func TestSelectorMatchesInterface(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	require.NoError(t, err)

	assert.Equal(t, TransferSelector[:], parsed.Methods["transfer"].ID)

	// the packed call from a full ABI definition is byte-identical
	expected, err := parsed.Pack("transfer", common.HexToAddress(addrB), big.NewInt(42))
	require.NoError(t, err)

	call, err := EncodeTransfer(token, addrB, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, expected, call.Data)
}

func TestEncodeTransferDeterministic(t *testing.T) {
	a, err := EncodeTransfer(token, addrA, big.NewInt(7))
	require.NoError(t, err)
	b, err := EncodeTransfer(token, addrA, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := EncodeTransfer(token, addrB, big.NewInt(7))
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestEncodeTransferErrors(t *testing.T) {
	tests := []struct {
		name   string
		addr   string
		amount *big.Int
	}{
		{"short address", "0x1234", big.NewInt(1)},
		{"long address", addrA + "00", big.NewInt(1)},
		{"not hex", "0x8ba1f109551bD432803012645Hac136c772c3c7c", big.NewInt(1)},
		{"no prefix", strings.TrimPrefix(addrA, "0x"), big.NewInt(1)},
		{"nil amount", addrA, nil},
		{"negative amount", addrA, big.NewInt(-1)},
		{"overflow", addrA, new(big.Int).Lsh(big.NewInt(1), 256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeTransfer(token, tt.addr, tt.amount)
			assert.ErrorIs(t, err, types.ErrEncoding)
		})
	}
}

func TestEncodeBatch(t *testing.T) {
	recipients := []types.Recipient{
		{Name: "Alice", Address: addrA, Amount: "1500.00"},
		{Name: "Bob", Address: addrB, Amount: "2200.00"},
	}

	batch, err := EncodeBatch(token, recipients, codec(t))
	require.NoError(t, err)
	require.Len(t, batch, len(recipients))

	for i, call := range batch {
		require.Len(t, call.Data, TransferPayloadLength)
		assert.Equal(t, TransferSelector[:], call.Data[:4])

		to, amount, err := DecodeTransfer(call.Data)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(recipients[i].Address), to)
		if i == 0 {
			assert.Equal(t, "1500000000", amount.String())
		} else {
			assert.Equal(t, "2200000000", amount.String())
		}
	}

	total, err := VerifyBatch(token, batch)
	require.NoError(t, err)
	assert.Equal(t, "3700000000", total.String())
}

func TestEncodeBatchPreservesOrder(t *testing.T) {
	var recipients []types.Recipient
	for i := 1; i <= 20; i++ {
		addr := common.BigToAddress(big.NewInt(int64(1000 + i))).Hex()
		recipients = append(recipients, types.Recipient{Name: addr, Address: addr, Amount: "1"})
	}

	batch, err := EncodeBatch(token, recipients, codec(t))
	require.NoError(t, err)
	require.Len(t, batch, 20)
	for i, call := range batch {
		to, _, err := DecodeTransfer(call.Data)
		require.NoError(t, err)
		assert.Equal(t, recipients[i].Address, to.Hex())
	}
}

func TestEncodeBatchRejectsInvalidInput(t *testing.T) {
	_, err := EncodeBatch(token, []types.Recipient{
		{Name: "Alice", Address: addrA, Amount: "0"},
	}, codec(t))
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = EncodeBatch(token, nil, codec(t))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestVerifyBatchRejectsForeignCalls(t *testing.T) {
	call, err := EncodeTransfer(token, addrA, big.NewInt(1))
	require.NoError(t, err)

	other := call
	other.To = common.HexToAddress(addrB)
	_, err = VerifyBatch(token, []types.EncodedCall{other})
	assert.ErrorIs(t, err, types.ErrEncoding)

	valued := call
	valued.Value = big.NewInt(1)
	_, err = VerifyBatch(token, []types.EncodedCall{valued})
	assert.ErrorIs(t, err, types.ErrEncoding)

	bad := call
	bad.Data = append([]byte{0xde, 0xad, 0xbe, 0xef}, call.Data[4:]...)
	_, err = VerifyBatch(token, []types.EncodedCall{bad})
	assert.ErrorIs(t, err, types.ErrEncoding)
}
