package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/batchpay/types"
)

func TestValidateAddress(t *testing.T) {
	addr, err := ValidateAddress(" 0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6 ")
	require.NoError(t, err)
	assert.Equal(t, "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6", addr.Hex())

	for _, bad := range []string{
		"",
		"742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6",
		"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b",
		"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6ff",
		// 'H' is not hex; this one comes from the original demo roster
		"0x8ba1f109551bD432803012645Hac136c772c3c7c",
	} {
		_, err := ValidateAddress(bad)
		assert.ErrorIs(t, err, types.ErrValidation, bad)
	}
}

func TestAddressRulesAgree(t *testing.T) {
	codec := usdc(t)
	for _, addr := range []string{
		"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6",
		"0X742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6",
		"0x8ba1f109551bD432803012645Hac136c772c3c7c",
		"0x742d35cc6634c0532925a3b8d4c9db96c4b4d8b6",
	} {
		_, addrErr := ValidateAddress(addr)
		recErr := ValidateRecipient(types.Recipient{Name: "Alice", Address: addr, Amount: "1"}, codec)
		assert.Equal(t, addrErr == nil, recErr == nil, addr)
	}
}

func TestValidateRecipients(t *testing.T) {
	codec := usdc(t)

	ok := []types.Recipient{
		{Name: "Alice", Address: "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6", Amount: "1500.00"},
		{Name: "Eva", Address: "0x9876543210987654321098765432109876543210", Amount: "1950.00"},
	}
	require.NoError(t, ValidateRecipients(ok, codec))

	bad := []types.Recipient{
		ok[0],
		{Name: "", Address: "0x9876543210987654321098765432109876543210", Amount: "1"},
		{Name: "Bob", Address: "0x8ba1f109551bD432803012645Hac136c772c3c7c", Amount: "1"},
		{Name: "Carol", Address: "0x1234567890123456789012345678901234567890", Amount: "1000001"},
	}
	err := ValidateRecipients(bad, codec)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Contains(t, err.Error(), "3 invalid recipient(s)")
	assert.Contains(t, err.Error(), "recipient 3")
	assert.NotContains(t, err.Error(), "recipient 0:")

	assert.ErrorIs(t, ValidateRecipients(nil, codec), types.ErrValidation)
}
