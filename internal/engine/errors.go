package engine

import "fmt"

// CapacityError reports a removal request exceeding a service's removable
// instances. Not retryable without changing the request.
type CapacityError struct {
	ServiceID string
	Requested int
	Removable int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("cannot remove %d instance(s) of service %s: only %d removable", e.Requested, e.ServiceID, e.Removable)
}

// InvalidTransitionError reports an operation requested from an incompatible
// state. Not retryable without correcting state first.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// AlreadyCompletedError guards completion idempotency.
type AlreadyCompletedError struct {
	ID string
}

func (e AlreadyCompletedError) Error() string {
	return fmt.Sprintf("asking task %s is already completed", e.ID)
}

// LockedOrderError rejects modifications to completed or cancelled orders.
type LockedOrderError struct {
	OrderID string
	Status  string
}

func (e LockedOrderError) Error() string {
	return fmt.Sprintf("order %s is %s and cannot be modified", e.OrderID, e.Status)
}
