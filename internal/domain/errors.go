package domain

import "errors"

var (
	// ErrNotFound: a referenced order, runner, restaurant or customer row is
	// missing. Handlers treat this as a clean no-op, never a retry.
	ErrNotFound = errors.New("not found")

	// ErrNoRunnerAvailable is the normal "nobody free" outcome of selection,
	// not a failure.
	ErrNoRunnerAvailable = errors.New("no runner available")

	// ErrMalformedTime rejects delivery times that are not valid "HH:MM".
	ErrMalformedTime = errors.New("malformed delivery time")

	// ErrAlreadyAssigned: the order picked up a runner between selection and
	// commit. The assignment already happened, just not by us.
	ErrAlreadyAssigned = errors.New("order already assigned")

	// ErrRunnerUnavailable: the chosen runner went inactive or vanished
	// between selection and commit. Selection should be retried.
	ErrRunnerUnavailable = errors.New("runner no longer available")
)
