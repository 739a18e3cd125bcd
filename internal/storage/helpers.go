package storage

import (
	"time"

	"github.com/samber/mo"
)

// Millis converts t to Unix milliseconds, the on-disk time representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// WindowMillis maps the zero time to 0 so an unexpanded window round-trips.
func WindowMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func WindowFromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return FromMillis(ms)
}

func OptionFromPtr[T any](p *T) mo.Option[T] {
	if p == nil {
		return mo.None[T]()
	}
	return mo.Some(*p)
}

func OptionPtr[T any](o mo.Option[T]) *T {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return &v
}

func MillisPtr(o mo.Option[time.Time]) *int64 {
	t, ok := o.Get()
	if !ok {
		return nil
	}
	ms := Millis(t)
	return &ms
}

func TimeOptionFromMillis(p *int64) mo.Option[time.Time] {
	if p == nil {
		return mo.None[time.Time]()
	}
	return mo.Some(FromMillis(*p))
}

// StringOption treats the empty string as absent.
func StringOption(s string) mo.Option[string] {
	if s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}
