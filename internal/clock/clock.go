package clock

import (
	"fmt"
	"time"
)

// Layout for a civil timestamp without offset, interpreted in the
// canonical zone.
const civilLayout = "2006-01-02T15:04:05"

// Clock resolves "now" and pins every instant to one canonical civil
// timezone so that reminder arithmetic is never mixed-zone.
type Clock struct {
	loc *time.Location
}

func New(timezone string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &Clock{loc: loc}, nil
}

func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Normalize converts an instant into the canonical zone. The instant
// itself is unchanged, only its civil representation.
func (c *Clock) Normalize(t time.Time) time.Time {
	return t.In(c.loc)
}

// ParseStart accepts either a full RFC3339 timestamp or a bare civil one.
// A bare value is treated as already being in the canonical zone.
func (c *Clock) ParseStart(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(c.loc), nil
	}
	t, err := time.ParseInLocation(civilLayout, s, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse start time %q: %w", s, err)
	}
	return t, nil
}

func (c *Clock) Location() *time.Location {
	return c.loc
}
