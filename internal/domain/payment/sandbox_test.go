package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_IdempotentCapture(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox()

	first, err := s.Capture(ctx, Request{OrderID: "o1", IdempotencyKey: "o1:1", Amount: 2550, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, first.Status)

	again, err := s.Capture(ctx, Request{OrderID: "o1", IdempotencyKey: "o1:1", Amount: 2550, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, first.Ref, again.Ref)

	other, err := s.Capture(ctx, Request{OrderID: "o1", IdempotencyKey: "o1:2", Amount: 2550, Currency: "USD"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Ref, other.Ref)
	assert.Equal(t, 3, s.Calls())
}

func TestSandbox_DecideAndSettle(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox()
	s.Decide = func(r Request) Status {
		if r.Amount > 1000 {
			return StatusRequiresAction
		}
		return StatusFailed
	}

	declined, err := s.Capture(ctx, Request{IdempotencyKey: "a", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, declined.Status)
	assert.NotEmpty(t, declined.DeclineReason)

	pending, err := s.Capture(ctx, Request{IdempotencyKey: "b", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresAction, pending.Status)
	assert.NotEmpty(t, pending.RedirectURL)

	s.Settle(pending.Ref, StatusSucceeded)
	got, err := s.Lookup(ctx, pending.Ref)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)

	_, err = s.Lookup(ctx, "pi_missing")
	require.Error(t, err)
}

func TestSandbox_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSandbox().Capture(ctx, Request{IdempotencyKey: "x", Amount: 1})
	require.ErrorIs(t, err, ErrOutcomeUnknown)
}

func TestSandbox_NegativeAmountRejected(t *testing.T) {
	_, err := NewSandbox().Capture(context.Background(), Request{IdempotencyKey: "neg", Amount: -1})
	require.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrOutcomeUnknown)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2550), MinorUnits(decimal.NewFromInt(2550), 0))
	assert.Equal(t, int64(1234), MinorUnits(decimal.RequireFromString("12.34"), 2))
	assert.Equal(t, int64(1235), MinorUnits(decimal.RequireFromString("12.345"), 2))
}
