package wire

import "errors"

// Kind classifies a broker-side or peer-side failure, per spec §7. It is
// a taxonomy of failure *kinds*, not a Go type per kind: everything that
// needs to carry one wraps a Fault.
type Kind int

const (
	// MessageFormat marks a malformed wire payload, missing required
	// field, or invalid router envelope.
	MessageFormat Kind = iota

	// UnknownDestination marks a dst not present in the peer registry
	// (service plane) or the pending table (request plane).
	UnknownDestination

	// Transport marks a socket-level failure.
	Transport

	// Database, UnsupportedOperation and ExclusiveBlock are reserved for
	// peers (the configuration store, hardware-control programs); the
	// broker only ever conveys them as opaque status integers on a Reply.
	Database
	UnsupportedOperation
	ExclusiveBlock
)

func (k Kind) String() string {
	switch k {
	case MessageFormat:
		return "MessageFormat"
	case UnknownDestination:
		return "UnknownDestination"
	case Transport:
		return "Transport"
	case Database:
		return "Database"
	case UnsupportedOperation:
		return "UnsupportedOperation"
	case ExclusiveBlock:
		return "ExclusiveBlock"
	default:
		return "Unknown"
	}
}

// Fault is the error type carried across the codec and transport
// boundaries. Status is the numeric code that would be placed on a Reply
// if this Fault is ever turned into one.
type Fault struct {
	Kind   Kind
	Status int
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return f.Kind.String() + ": " + f.Err.Error()
	}
	return f.Kind.String()
}

func (f *Fault) Unwrap() error { return f.Err }

// ErrNoEmptyFrame is returned by SplitRouterEnvelope when no empty
// delimiter frame is present in the router envelope.
var ErrNoEmptyFrame = errors.New("wire: router envelope has no empty delimiter frame")
