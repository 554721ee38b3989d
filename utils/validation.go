package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/vitwit/batchpay/types"
)

// ValidateAddress checks the canonical 0x + 40 hex digit account format and
// returns the parsed address.
func ValidateAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return common.Address{}, types.NewError(types.CodeValidation, "address cannot be empty")
	}
	if err := validate.Var(address, "required,eth_addr"); err != nil {
		return common.Address{}, types.NewError(types.CodeValidation,
			"invalid address %q: must be 0x followed by 40 hex digits", address)
	}
	return common.HexToAddress(address), nil
}

// ValidateRecipient checks struct tags and the amount rules of codec.
func ValidateRecipient(r types.Recipient, codec AmountCodec) error {
	if err := validate.Struct(&r); err != nil {
		return types.WrapError(types.CodeValidation, err, "invalid recipient %q", r.Name)
	}
	if _, err := codec.ParseAmount(r.Amount); err != nil {
		return fmt.Errorf("recipient %q: %w", r.Name, err)
	}
	return nil
}

// ValidateRecipients validates a whole roster. Every problem is reported,
// each prefixed with the recipient's position.
func ValidateRecipients(recipients []types.Recipient, codec AmountCodec) error {
	if len(recipients) == 0 {
		return types.NewError(types.CodeValidation, "at least one recipient is required")
	}

	var errs []error
	for i, r := range recipients {
		if err := ValidateRecipient(r, codec); err != nil {
			errs = append(errs, fmt.Errorf("recipient %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return types.WrapError(types.CodeValidation, errors.Join(errs...), "%d invalid recipient(s)", len(errs))
	}
	return nil
}

// ValidateConfig validates struct tags and cross-field rules.
func ValidateConfig(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return types.WrapError(types.CodeConfig, err, "invalid config field %s", verrs[0].Namespace())
		}
		return types.WrapError(types.CodeConfig, err, "validation failed")
	}
	if !cfg.Network.IsSupported() {
		return types.NewError(types.CodeUnsupportedNetwork, "unsupported network: %s", cfg.Network)
	}
	if cfg.Token.Address == "" {
		return types.NewError(types.CodeConfig, "token address is required for network %s", cfg.Network)
	}
	if cfg.Token.Decimals <= 0 {
		return types.NewError(types.CodeConfig, "token decimals must be positive")
	}
	if _, err := NewAmountCodec(cfg.Token.Decimals, cfg.MaxAmount); err != nil {
		return err
	}
	if cfg.Ledger.Driver != "" && cfg.Ledger.Driver != "memory" && cfg.Ledger.DSN == "" {
		return types.NewError(types.CodeConfig, "ledger driver %s requires a dsn", cfg.Ledger.Driver)
	}
	return nil
}
