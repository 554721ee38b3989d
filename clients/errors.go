package clients

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/batchpay/types"
)

const (
	// -----------------------------
	// EIP-1193 PROVIDER ERRORS
	// -----------------------------
	CodeUserRejectedRequest = 4001
	CodeUnauthorized        = 4100
	CodeUnsupportedMethod   = 4200
	CodeDisconnected        = 4900
	CodeChainDisconnected   = 4901

	// -----------------------------
	// EIP-5792 WALLET ERRORS
	// -----------------------------
	CodeUnsupportedNonOptionalCapability = 5700
	CodeUnsupportedChainID               = 5710
	CodeDuplicateBatchID                 = 5720
	CodeUnknownBundleID                  = 5730
	CodeBatchTooLarge                    = 5740
	CodeAtomicityNotSupported            = 5760

	// -----------------------------
	// JSON-RPC
	// -----------------------------
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
)

var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"cancelled by user",
}

// ClassifySubmitError maps a wallet_sendCalls failure onto the engine's taxonomy.
//
// Code 4001 or rejection wording is a user cancellation. Disconnected codes and
// failures to reach the wallet at all (dial errors, refused connections, a
// closed client) mean the provider is unavailable. A transport failure after
// the request went out (timeout, dropped connection) leaves the outcome
// unknown and must not be retried blindly. Every other wallet error is a
// rejection of the batch and keeps the wallet's message.
func ClassifySubmitError(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		if notDispatched(err) {
			return types.WrapError(types.CodeProviderUnavailable, err, "wallet unreachable")
		}
		return types.WrapError(types.CodeSubmission, err,
			"wallet did not answer, the batch may have been submitted; check history before paying again")
	}

	switch rpcErr.ErrorCode() {
	case CodeUserRejectedRequest:
		return types.WrapError(types.CodeUserRejected, err, "batch rejected by user")
	case CodeDisconnected, CodeChainDisconnected:
		return types.WrapError(types.CodeProviderUnavailable, err, "wallet disconnected")
	}
	if isRejectionMessage(rpcErr.Error()) {
		return types.WrapError(types.CodeUserRejected, err, "batch rejected by user")
	}
	// no message of our own, so Error() is the wallet's text verbatim
	return &types.BatchPayError{Code: types.CodeSubmission, Err: err}
}

// ClassifyStatusError maps a wallet_getCallsStatus failure. An unknown bundle
// is reported as not found; everything else is a transient poll failure.
func ClassifyStatusError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == CodeUnknownBundleID {
		return types.WrapError(types.CodeNotFound, err, "wallet does not know this batch")
	}
	return types.WrapError(types.CodePollTransport, err, "status query failed")
}

// notDispatched reports whether err happened before the request could reach
// the wallet.
func notDispatched(err error) bool {
	if errors.Is(err, rpc.ErrClientQuit) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// errors that crossed a process boundary only keep their text
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func isRejectionMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range rejectionPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// walletError is a JSON-RPC error with a code, returned by FakeWallet and
// usable by tests that script wallet failures.
type walletError struct {
	code int
	msg  string
}

// NewWalletError builds an error that reports code the way a JSON-RPC wallet does.
func NewWalletError(code int, msg string) error {
	return &walletError{code: code, msg: msg}
}

func (e *walletError) Error() string  { return e.msg }
func (e *walletError) ErrorCode() int { return e.code }
