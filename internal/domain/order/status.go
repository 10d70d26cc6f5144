package order

import "fmt"

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "order_submitted"
	StatusPreparing Status = "preparing"
	StatusPackaged  Status = "packaged"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCanceled  Status = "canceled"
)

// lifecycle is the forward path every order follows.
var lifecycle = []Status{
	StatusPending,
	StatusSubmitted,
	StatusPreparing,
	StatusPackaged,
	StatusShipped,
	StatusDelivered,
}

func (s Status) step() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCanceled || s.step() >= 0
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// InvalidTransitionError is returned for a transition the lifecycle forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// CanTransition checks a status change. Orders advance one step at a time;
// override lets an admin skip ahead but never move backwards. Any
// non-terminal order can be canceled.
func CanTransition(from, to Status, override bool) error {
	if !from.Valid() || !to.Valid() || from.Terminal() || from == to {
		return &InvalidTransitionError{From: from, To: to}
	}
	if to == StatusCanceled {
		return nil
	}

	cur, next := from.step(), to.step()
	switch {
	case next == cur+1:
		return nil
	case next > cur+1 && override:
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}
