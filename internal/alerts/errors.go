package alerts

import "errors"

var (
	// ErrMissingParam is returned when a backend parameter required for delivery is absent
	ErrMissingParam = errors.New("missing backend parameter")

	// ErrInvalidParam is returned when a backend parameter cannot be used
	ErrInvalidParam = errors.New("invalid backend parameter")

	// ErrDeliveryRejected is returned when the remote end refuses a notification
	ErrDeliveryRejected = errors.New("delivery rejected")
)
