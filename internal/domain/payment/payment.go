// Package payment defines the port to the payment processor.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrOutcomeUnknown marks a capture or lookup whose result could not be
// determined: transport failures, processor 5xx responses, timeouts. The
// charge may or may not have happened and must be reconciled.
var ErrOutcomeUnknown = errors.New("payment outcome unknown")

// ErrRejected marks a request the processor refused outright. No money moved
// and replaying the request gets the same answer.
var ErrRejected = errors.New("payment request rejected")

// Status is the processor-reported state of a payment.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action"
	// StatusProcessing means the processor accepted the payment but has not
	// settled it yet.
	StatusProcessing Status = "processing"
	// StatusFailed is a definitive decline: no money moved.
	StatusFailed Status = "failed"
)

// Request asks the processor to capture Amount minor units.
type Request struct {
	OrderID string
	// IdempotencyKey makes retries of the same attempt return the original
	// result instead of charging twice.
	IdempotencyKey string
	Amount         int64
	Currency       string
	Description    string
}

// Result is the processor response.
type Result struct {
	// Ref is the processor's handle for the payment.
	Ref    string
	Status Status
	// RedirectURL is set for StatusRequiresAction.
	RedirectURL string
	// DeclineReason is set for StatusFailed.
	DeclineReason string
}

// Processor captures payments. Implementations must honor ctx deadlines and
// report any failure that leaves the outcome open as ErrOutcomeUnknown and a
// definitive refusal as ErrRejected.
type Processor interface {
	Capture(ctx context.Context, req Request) (*Result, error)
	Lookup(ctx context.Context, ref string) (*Result, error)
}

// MinorUnits converts amount into an integer count of minor units for the
// given precision, e.g. 12.34 with places=2 is 1234.
func MinorUnits(amount decimal.Decimal, places int32) int64 {
	return amount.Shift(places).Round(0).IntPart()
}
