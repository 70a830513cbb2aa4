package broker

import "sync/atomic"

// Flag is the process-scoped, single-writer-many-reader termination
// signal described in spec §3, checked once per poll iteration by every
// plane (spec §5).
type Flag struct {
	set atomic.Bool
}

// Signal sets the flag. Safe to call more than once, and safe to call
// concurrently with IsSet.
func (f *Flag) Signal() { f.set.Store(true) }

// IsSet reports whether Signal has been called.
func (f *Flag) IsSet() bool { return f.set.Load() }
