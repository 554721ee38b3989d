package types

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// SendCallsVersion is the EIP-5792 request version sent with every batch.
const SendCallsVersion = "2.0.0"

// Status is the lifecycle state of a submitted batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is one of the known states.
func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

func (s Status) String() string {
	return string(s)
}

// Recipient is one payee of a batch as entered by the operator.
type Recipient struct {
	// Display name of the payee.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Hex account, 0x followed by 40 hex digits.
	Address string `json:"address" yaml:"address" validate:"required,eth_addr"`

	// Human decimal amount in token units (e.g. "1500.00").
	Amount string `json:"amount" yaml:"amount" validate:"required"`
}

// EncodedCall is a single wallet call derived from one recipient.
type EncodedCall struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`
}

// BatchRequest is everything the wallet needs to execute a batch.
// It is built once per submission attempt and never mutated.
type BatchRequest struct {
	Version        string         `json:"version"`
	From           common.Address `json:"from"`
	ChainID        *big.Int       `json:"chainId"`
	Network        Network        `json:"network"`
	AtomicRequired bool           `json:"atomicRequired"`
	Calls          []EncodedCall  `json:"calls"`
}

// Fingerprint returns a keccak256 digest over the chain, sender and ordered calls.
// Two requests with the same fingerprint would move exactly the same funds.
func (r *BatchRequest) Fingerprint() common.Hash {
	parts := make([][]byte, 0, 2+3*len(r.Calls))
	chain := new(big.Int)
	if r.ChainID != nil {
		chain.Set(r.ChainID)
	}
	parts = append(parts, common.LeftPadBytes(chain.Bytes(), 32), r.From.Bytes())
	for _, c := range r.Calls {
		value := new(big.Int)
		if c.Value != nil {
			value.Set(c.Value)
		}
		size := make([]byte, 8)
		binary.BigEndian.PutUint64(size, uint64(len(c.Data)))
		parts = append(parts, c.To.Bytes(), common.LeftPadBytes(value.Bytes(), 32), append(size, c.Data...))
	}
	return crypto.Keccak256Hash(parts...)
}

// PaymentRecord is the ledger entry for one submitted batch.
// Only Status changes after creation.
type PaymentRecord struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"createdAt"`
	Status         Status          `json:"status"`
	RecipientCount int             `json:"recipientCount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Recipients     []Recipient     `json:"recipients"`

	Network Network `json:"network,omitempty"`
	Payer   string  `json:"payer,omitempty"`
	Atomic  bool    `json:"atomic"`
}

// DisplayTotal renders the total with two fractional digits.
func (r PaymentRecord) DisplayTotal() string {
	return r.TotalAmount.StringFixed(2)
}

// Receipt is the per-transaction outcome reported by the wallet.
type Receipt struct {
	TransactionHash common.Hash `json:"transactionHash"`
	BlockNumber     uint64      `json:"blockNumber"`
	GasUsed         uint64      `json:"gasUsed"`
	Success         bool        `json:"success"`
}

// CallsStatus is the wallet's answer to a status query.
type CallsStatus struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	StatusCode int       `json:"statusCode,omitempty"`
	Atomic     bool      `json:"atomic"`
	Receipts   []Receipt `json:"receipts,omitempty"`
}

// TokenInfo describes the ERC-20 token being paid out
type TokenInfo struct {
	Address  string `json:"address" yaml:"address" validate:"omitempty,eth_addr"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int32  `json:"decimals" yaml:"decimals" validate:"gte=0,lte=36"`
}

// LedgerConfig selects the payment ledger backend.
type LedgerConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"omitempty,oneof=memory sqlite postgres"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// Config contains global configuration for batchpay
type Config struct {
	Network   Network `json:"network" yaml:"network" validate:"required"`
	WalletURL string  `json:"walletUrl" yaml:"wallet_url" validate:"required,url"`

	// Optional node endpoint used for the payer balance pre-check.
	RPCUrl string `json:"rpcUrl,omitempty" yaml:"rpc_url" validate:"omitempty,url"`

	// Account that signs the batch.
	Account string `json:"account" yaml:"account" validate:"required,eth_addr"`

	Token     TokenInfo `json:"token" yaml:"token"`
	MaxAmount string    `json:"maxAmount,omitempty" yaml:"max_amount"`

	PollInterval  time.Duration `json:"pollInterval,omitempty" yaml:"poll_interval" validate:"gte=0"`
	QueryTimeout  time.Duration `json:"queryTimeout,omitempty" yaml:"query_timeout" validate:"gte=0"`
	SubmitTimeout time.Duration `json:"submitTimeout,omitempty" yaml:"submit_timeout" validate:"gte=0"`

	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`

	LogLevel      string `json:"logLevel,omitempty" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool   `json:"enableMetrics,omitempty" yaml:"enable_metrics"`
	HTTPAddr      string `json:"httpAddr,omitempty" yaml:"http_addr"`
}

// Defaults used when a Config leaves the field empty.
const (
	DefaultMaxAmount     = "1000000"
	DefaultPollInterval  = 2 * time.Second
	DefaultQueryTimeout  = 10 * time.Second
	DefaultSubmitTimeout = 5 * time.Minute
	DefaultHTTPAddr      = ":8080"
)

// ApplyDefaults fills empty fields from the network registry and package defaults.
func (c *Config) ApplyDefaults() {
	if def, ok := DefaultToken(c.Network); ok {
		if c.Token.Address == "" {
			c.Token.Address = def.Address
		}
		if c.Token.Symbol == "" {
			c.Token.Symbol = def.Symbol
		}
		if c.Token.Decimals == 0 {
			c.Token.Decimals = def.Decimals
		}
	}
	if c.MaxAmount == "" {
		c.MaxAmount = DefaultMaxAmount
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
}
