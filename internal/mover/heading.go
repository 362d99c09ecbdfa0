package mover

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"
)

// Heading selects open-ended travel along one screen axis. Up decreases y.
type Heading int

const (
	HeadingNone Heading = iota
	HeadingUp
	HeadingDown
	HeadingLeft
	HeadingRight
)

func (h Heading) String() string {
	switch h {
	case HeadingNone:
		return "none"
	case HeadingUp:
		return "up"
	case HeadingDown:
		return "down"
	case HeadingLeft:
		return "left"
	case HeadingRight:
		return "right"
	default:
		return fmt.Sprintf("heading(%d)", int(h))
	}
}

// Valid reports whether h names one of the four travel directions.
func (h Heading) Valid() bool {
	return h >= HeadingUp && h <= HeadingRight
}

// ParseHeading accepts the names produced by String, case-insensitively.
func ParseHeading(raw string) (Heading, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return HeadingNone, nil
	case "up":
		return HeadingUp, nil
	case "down":
		return HeadingDown, nil
	case "left":
		return HeadingLeft, nil
	case "right":
		return HeadingRight, nil
	}
	return HeadingNone, fmt.Errorf("%w: unknown heading %q", ErrInvalidArgument, raw)
}

func (h Heading) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Heading) UnmarshalText(text []byte) error {
	parsed, err := ParseHeading(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// angle is the travel direction in radians for a valid heading.
func (h Heading) angle() float64 {
	switch h {
	case HeadingUp:
		return -math.Pi / 2
	case HeadingDown:
		return math.Pi / 2
	case HeadingLeft:
		return math.Pi
	default:
		return 0
	}
}

// edgeFrom is the unreachable target implied by travelling from anchor.
func (h Heading) edgeFrom(anchor r2.Point) r2.Point {
	switch h {
	case HeadingUp:
		return r2.Point{X: anchor.X, Y: math.Inf(-1)}
	case HeadingDown:
		return r2.Point{X: anchor.X, Y: math.Inf(1)}
	case HeadingLeft:
		return r2.Point{X: math.Inf(-1), Y: anchor.Y}
	case HeadingRight:
		return r2.Point{X: math.Inf(1), Y: anchor.Y}
	}
	return anchor
}
