package audit

import (
	"github.com/rs/zerolog"
)

// OptionalEvent builds a zerolog sub-dictionary that is attached to its
// parent only when at least one field was actually set, keeping sparse audit
// entries free of empty dictionaries.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent() *OptionalEvent {
	return &OptionalEvent{ev: zerolog.Dict()}
}

// Set attaches the dictionary to parent under key when any field was set,
// reporting whether it did.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.ev)
		return true
	}
	return false
}

// Str records val unless it is empty.
func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.ev.Str(key, val)
	oe.modified = true
	return oe
}

// Strs records vals unless the slice is empty.
func (oe *OptionalEvent) Strs(key string, vals []string) *OptionalEvent {
	if len(vals) == 0 {
		return oe
	}
	oe.ev.Strs(key, vals)
	oe.modified = true
	return oe
}

// Int64 records val unless it is zero.
func (oe *OptionalEvent) Int64(key string, val int64) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.ev.Int64(key, val)
	oe.modified = true
	return oe
}

// Bool records val when include is true; a bool has no natural "unset"
// value, so inclusion is the caller's call.
func (oe *OptionalEvent) Bool(key string, val bool, include bool) *OptionalEvent {
	if !include {
		return oe
	}
	oe.ev.Bool(key, val)
	oe.modified = true
	return oe
}
