package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		override bool
		ok       bool
	}{
		{StatusPending, StatusSubmitted, false, true},
		{StatusSubmitted, StatusPreparing, false, true},
		{StatusPreparing, StatusPackaged, false, true},
		{StatusPackaged, StatusShipped, false, true},
		{StatusShipped, StatusDelivered, false, true},

		{StatusPending, StatusPreparing, false, false},
		{StatusPending, StatusPreparing, true, true},
		{StatusSubmitted, StatusDelivered, true, true},
		{StatusShipped, StatusPreparing, false, false},
		{StatusShipped, StatusPreparing, true, false},
		{StatusPending, StatusPending, false, false},

		{StatusPending, StatusCanceled, false, true},
		{StatusShipped, StatusCanceled, false, true},
		{StatusDelivered, StatusCanceled, false, false},
		{StatusDelivered, StatusCanceled, true, false},
		{StatusCanceled, StatusPending, true, false},
		{StatusCanceled, StatusSubmitted, false, false},

		{Status("lost"), StatusPending, true, false},
		{StatusPending, Status("lost"), true, false},
	}

	for _, tt := range tests {
		name := string(tt.from) + "->" + string(tt.to)
		if tt.override {
			name += "/override"
		}
		t.Run(name, func(t *testing.T) {
			err := CanTransition(tt.from, tt.to, tt.override)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			var te *InvalidTransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.True(t, StatusCanceled.Valid())
	assert.False(t, Status("").Valid())
}
