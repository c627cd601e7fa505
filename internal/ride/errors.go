package ride

import "errors"

var (
	// ErrValidation marks input rejected before any store access.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("ride not found")
	// ErrNotAvailable is the losing claim outcome. It covers both an already
	// assigned ride and a missing one.
	ErrNotAvailable = errors.New("ride not found or already assigned")
	// ErrInvalidPIN covers both a wrong PIN and a missing ride.
	ErrInvalidPIN = errors.New("invalid PIN or ride not found")
)
