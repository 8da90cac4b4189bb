// Package clocktype names the time domains a value can be expressed in.
package clocktype

import (
	"strings"

	"github.com/roach88/ndicore/internal/ndierr"
)

// ClockType is a time domain.
type ClockType string

const (
	UTC                 ClockType = "utc"
	ApproxUTC           ClockType = "approx_utc"
	ExpGlobalTime       ClockType = "exp_global_time"
	ApproxExpGlobalTime ClockType = "approx_exp_global_time"
	DevGlobalTime       ClockType = "dev_global_time"
	ApproxDevGlobalTime ClockType = "approx_dev_global_time"
	DevLocalTime        ClockType = "dev_local_time"
	NoTime              ClockType = "no_time"
	Inherited           ClockType = "inherited"
)

// All lists every clock type in declaration order.
var All = []ClockType{
	UTC, ApproxUTC, ExpGlobalTime, ApproxExpGlobalTime,
	DevGlobalTime, ApproxDevGlobalTime, DevLocalTime, NoTime, Inherited,
}

// Parse converts a name, ignoring case and surrounding space.
func Parse(s string) (ClockType, error) {
	c := ClockType(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c, nil
	}
	return "", ndierr.Invalid("clocktype.parse", "unknown clock type %q", s)
}

// ParseList parses each name in order.
func ParseList(names []string) ([]ClockType, error) {
	out := make([]ClockType, len(names))
	for i, n := range names {
		c, err := Parse(n)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Valid reports whether c is a known clock type.
func (c ClockType) Valid() bool {
	for _, k := range All {
		if c == k {
			return true
		}
	}
	return false
}

// NeedsEpoch reports whether a time in c is only meaningful within one
// epoch. Only dev_local_time does.
func (c ClockType) NeedsEpoch() bool {
	return c == DevLocalTime
}

// IsGlobal reports whether times in c are comparable across epochs.
func (c ClockType) IsGlobal() bool {
	switch c {
	case UTC, ApproxUTC, ExpGlobalTime, ApproxExpGlobalTime, DevGlobalTime, ApproxDevGlobalTime:
		return true
	}
	return false
}

func (c ClockType) String() string { return string(c) }
