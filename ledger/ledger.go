// Package ledger keeps the durable history of submitted batches.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
)

// Ledger is the single source of truth for submitted batches. A record is
// created once, in pending, and moves at most once to a terminal status.
type Ledger interface {
	// Create persists a pending record. An id that already exists fails with
	// DuplicateSubmission and leaves the ledger unchanged.
	Create(ctx context.Context, e Entry) (types.PaymentRecord, error)

	// Transition moves a pending record to completed or failed. Repeating the
	// current terminal status is a no-op (changed == false); any other move
	// out of a terminal status fails with InvalidTransition.
	Transition(ctx context.Context, id string, status types.Status) (changed bool, err error)

	Get(ctx context.Context, id string) (types.PaymentRecord, error)

	// List returns every record, newest first.
	List(ctx context.Context) ([]types.PaymentRecord, error)

	// ListPending returns records still awaiting a terminal status, newest first.
	ListPending(ctx context.Context) ([]types.PaymentRecord, error)

	Close() error
}

// Entry is what the submitter knows about a batch when it is accepted.
type Entry struct {
	ID         string
	Recipients []types.Recipient
	Total      decimal.Decimal

	Network types.Network
	Payer   string
	Atomic  bool

	// Zero means "now" by the ledger's clock.
	CreatedAt time.Time
}

// Clock returns the current time; swapped in tests.
type Clock func() time.Time

func newRecord(e Entry, now Clock) (types.PaymentRecord, error) {
	if err := validateEntry(e); err != nil {
		return types.PaymentRecord{}, err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = now()
	}
	return types.PaymentRecord{
		ID:             strings.TrimSpace(e.ID),
		CreatedAt:      created.UTC(),
		Status:         types.StatusPending,
		RecipientCount: len(e.Recipients),
		TotalAmount:    e.Total,
		Recipients:     append([]types.Recipient(nil), e.Recipients...),
		Network:        e.Network,
		Payer:          e.Payer,
		Atomic:         e.Atomic,
	}, nil
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return types.NewError(types.CodeValidation, "submission id is required")
	}
	if len(e.Recipients) == 0 {
		return types.NewError(types.CodeValidation, "record %s has no recipients", e.ID)
	}
	sum, err := utils.TotalOf(e.Recipients)
	if err != nil {
		return err
	}
	if !sum.Equal(e.Total) {
		return types.NewError(types.CodeValidation,
			"record %s total %s does not match recipient sum %s", e.ID, e.Total.String(), sum.String())
	}
	return nil
}

func validateTarget(id string, status types.Status) error {
	if !status.IsTerminal() {
		return types.NewError(types.CodeInvalidTransition, "record %s cannot move to %q", id, status)
	}
	return nil
}

// checkTransition decides a move from current to target.
func checkTransition(id string, current, target types.Status) (bool, error) {
	if current == types.StatusPending {
		return true, nil
	}
	if current == target {
		return false, nil
	}
	return false, types.NewError(types.CodeInvalidTransition,
		"record %s is already %s, cannot move to %s", id, current, target)
}

func notFound(id string) error {
	return types.NewError(types.CodeNotFound, "payment %s not found", id)
}
