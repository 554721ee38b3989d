// Package calls builds the ERC-20 transfer calls that make up a batch.
package calls

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
)

// TransferSelector is the 4-byte selector of transfer(address,uint256),
// taken from the ERC-20 interface definition. It is a fixed constant.
var TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// TransferPayloadLength is selector + padded address + uint256 amount.
const TransferPayloadLength = 4 + 32 + 32

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var transferArgs = abi.Arguments{
	{Name: "to", Type: mustABIType("address")},
	{Name: "value", Type: mustABIType("uint256")},
}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeTransfer builds the call that moves amount base units of token to recipient.
func EncodeTransfer(token common.Address, recipient string, amount *big.Int) (types.EncodedCall, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(recipient))
	if err != nil {
		return types.EncodedCall{}, types.WrapError(types.CodeEncoding, err, "invalid recipient address %q", recipient)
	}
	if len(raw) != common.AddressLength {
		return types.EncodedCall{}, types.NewError(types.CodeEncoding,
			"recipient address %q is %d bytes, want %d", recipient, len(raw), common.AddressLength)
	}
	if amount == nil || amount.Sign() < 0 || amount.Cmp(maxUint256) > 0 {
		return types.EncodedCall{}, types.NewError(types.CodeEncoding, "amount %v out of uint256 range", amount)
	}

	// abi.encode(address, uint256): both words left-padded to 32 bytes
	packed, err := transferArgs.Pack(common.BytesToAddress(raw), new(big.Int).Set(amount))
	if err != nil {
		return types.EncodedCall{}, types.WrapError(types.CodeEncoding, err, "failed to pack transfer")
	}

	data := make([]byte, 0, TransferPayloadLength)
	data = append(data, TransferSelector[:]...)
	data = append(data, packed...)

	return types.EncodedCall{
		To:    token,
		Value: new(big.Int),
		Data:  data,
	}, nil
}

// EncodeBatch validates every recipient, converts amounts with codec and
// encodes one transfer per recipient. Output order equals input order.
func EncodeBatch(token common.Address, recipients []types.Recipient, codec utils.AmountCodec) ([]types.EncodedCall, error) {
	if err := utils.ValidateRecipients(recipients, codec); err != nil {
		return nil, err
	}

	out := make([]types.EncodedCall, 0, len(recipients))
	for i, r := range recipients {
		units, err := codec.ToBaseUnits(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		call, err := EncodeTransfer(token, r.Address, units)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		out = append(out, call)
	}
	return out, nil
}

// DecodeTransfer parses a transfer payload back into recipient and amount.
func DecodeTransfer(data []byte) (common.Address, *big.Int, error) {
	if len(data) != TransferPayloadLength {
		return common.Address{}, nil, types.NewError(types.CodeEncoding,
			"transfer payload is %d bytes, want %d", len(data), TransferPayloadLength)
	}
	if !bytes.Equal(data[:4], TransferSelector[:]) {
		return common.Address{}, nil, types.NewError(types.CodeEncoding,
			"unexpected selector %s", hexutil.Encode(data[:4]))
	}

	values, err := transferArgs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, types.WrapError(types.CodeEncoding, err, "failed to unpack transfer")
	}
	to, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, types.NewError(types.CodeEncoding, "decoded recipient has type %T", values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, types.NewError(types.CodeEncoding, "decoded amount has type %T", values[1])
	}
	return to, amount, nil
}

// VerifyBatch checks that every call is a zero-value transfer on token and
// returns the sum of the transferred base units.
func VerifyBatch(token common.Address, batch []types.EncodedCall) (*big.Int, error) {
	total := new(big.Int)
	for i, c := range batch {
		if c.To != token {
			return nil, types.NewError(types.CodeEncoding, "call %d targets %s, want %s", i, c.To.Hex(), token.Hex())
		}
		if c.Value != nil && c.Value.Sign() != 0 {
			return nil, types.NewError(types.CodeEncoding, "call %d carries native value %s", i, c.Value)
		}
		_, amount, err := DecodeTransfer(c.Data)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		total.Add(total, amount)
	}
	return total, nil
}
