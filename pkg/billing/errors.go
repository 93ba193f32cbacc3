package billing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
)

var (
	ErrNotFound                    = errors.New("not found")
	ErrPlanNotSynced               = errors.New("service plan is not synced with the payment gateway")
	ErrPlanInactive                = fmt.Errorf("%w: plan is inactive", ErrPlanNotSynced)
	ErrInvalidState                = errors.New("invalid subscription state for operation")
	ErrDuplicateActiveSubscription = errors.New("client already has an open subscription to this plan")
	ErrReasonTooLong               = errors.New("cancel reason exceeds 500 characters")
	ErrEventIgnored                = errors.New("gateway event ignored")
	ErrInvalidInput                = errors.New("invalid input")

	// ErrNotConfigured is returned when the tenant has no active gateway.
	ErrNotConfigured = gateway.ErrNotConfigured
)

// DuplicateActiveSubscriptionError carries the id of the open subscription
// that blocked a create.
type DuplicateActiveSubscriptionError struct {
	ExistingID uuid.UUID
}

func (e *DuplicateActiveSubscriptionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateActiveSubscription, e.ExistingID)
}

func (e *DuplicateActiveSubscriptionError) Is(target error) bool {
	return target == ErrDuplicateActiveSubscription
}

// InvalidStateError reports an operation attempted in a status that does not
// allow it.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s subscription in status %s", e.Op, e.Status)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
