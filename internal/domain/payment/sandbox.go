package payment

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Sandbox is an in-process Processor for development and tests. It keeps
// every payment in memory and replays results for repeated idempotency keys.
type Sandbox struct {
	// Decide picks the outcome of a new capture. Nil approves everything.
	Decide func(Request) Status

	mu    sync.Mutex
	byKey map[string]*Result
	byRef map[string]*Result
	calls int
}

// NewSandbox creates a Sandbox that approves every capture.
func NewSandbox() *Sandbox {
	return &Sandbox{
		byKey: make(map[string]*Result),
		byRef: make(map[string]*Result),
	}
}

// Capture implements Processor.
func (s *Sandbox) Capture(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrOutcomeUnknown, err.Error())
	}
	if req.Amount < 0 {
		return nil, errors.Wrapf(ErrRejected, "negative amount %d", req.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if res, ok := s.byKey[req.IdempotencyKey]; ok {
		cp := *res
		return &cp, nil
	}

	status := StatusSucceeded
	if s.Decide != nil {
		status = s.Decide(req)
	}
	res := &Result{Ref: "pi_" + uuid.NewString(), Status: status}
	switch status {
	case StatusRequiresAction:
		res.RedirectURL = "https://sandbox.invalid/authorize/" + res.Ref
	case StatusFailed:
		res.DeclineReason = "card_declined"
	}
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = res
	}
	s.byRef[res.Ref] = res

	cp := *res
	return &cp, nil
}

// Lookup implements Processor.
func (s *Sandbox) Lookup(ctx context.Context, ref string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrOutcomeUnknown, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.byRef[ref]
	if !ok {
		return nil, errors.Errorf("payment %s not found", ref)
	}
	cp := *res
	return &cp, nil
}

// Settle forces the stored status of ref, simulating the customer finishing
// (or abandoning) a redirect flow.
func (s *Sandbox) Settle(ref string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.byRef[ref]; ok {
		res.Status = status
		res.RedirectURL = ""
	}
}

// Calls returns the number of Capture calls received.
func (s *Sandbox) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
