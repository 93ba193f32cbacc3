package billing

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusIncomplete Status = "INCOMPLETE"
	StatusActive     Status = "ACTIVE"
	StatusPastDue    Status = "PAST_DUE"
	StatusTrialing   Status = "TRIALING"
	StatusCanceled   Status = "CANCELED"
	StatusUnpaid     Status = "UNPAID"
)

// OpenStatuses are the non-terminal states. At most one subscription per
// (tenant, client, plan) may be in one of them.
var OpenStatuses = []Status{StatusIncomplete, StatusActive, StatusPastDue, StatusTrialing}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusUnpaid
}

// Name implements statemachine.State.
func (s Status) Name() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusTrialing, StatusCanceled, StatusUnpaid:
		return true
	}
	return false
}

// ParseStatus accepts a status in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
	return st, nil
}

// statusFromGateway maps a processor status onto the local lifecycle.
func statusFromGateway(s gateway.SubscriptionStatus) (Status, bool) {
	switch s {
	case gateway.StatusActive:
		return StatusActive, true
	case gateway.StatusPastDue:
		return StatusPastDue, true
	case gateway.StatusCanceled:
		return StatusCanceled, true
	case gateway.StatusUnpaid:
		return StatusUnpaid, true
	case gateway.StatusIncomplete:
		return StatusIncomplete, true
	case gateway.StatusTrialing:
		return StatusTrialing, true
	}
	return "", false
}
