package tenant

import "errors"

var (
	// ErrMissingTenant is returned when the request carries no tenant identifier.
	ErrMissingTenant = errors.New("tenant identifier is required")

	// ErrInvalidIdentifier is returned when the identifier is not a UUID.
	ErrInvalidIdentifier = errors.New("invalid tenant identifier")
)
