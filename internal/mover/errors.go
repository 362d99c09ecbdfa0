package mover

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks commands rejected because of their input.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrEmptyPath is returned by HeadAlongPath for a path without waypoints.
var ErrEmptyPath = fmt.Errorf("%w: path must contain at least one waypoint", ErrInvalidArgument)
