// Package wire implements the broker's codec: the JSON message shape and
// the router-envelope framing used on every ROUTER socket.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the tagged-variant discriminator carried by every Message.
type MessageType string

const (
	RequestValue MessageType = "RequestValue"
	WriteValue   MessageType = "WriteValue"
	Reply        MessageType = "Reply"
)

// Reserved status codes. Negative values are protocol signals; zero is
// success; positive values are opaque application errors passed through
// unchanged.
const (
	// HELLO is the registration ping a service sends until the broker's
	// service plane has learned its identity.
	HELLO = -1

	// ServiceUnknown is returned when the broker cannot locate the
	// addressed service.
	ServiceUnknown = -2

	// InvalidRequest is returned when a request fails basic shape
	// validation (see RequestPlane.isValidRequest). This resolves the
	// "reply_invalid_request" open question left unimplemented upstream.
	InvalidRequest = -3

	// OK marks success.
	OK = 0
)

// BrokerIdentity is the fixed identity the broker's ROUTER sockets are
// bound under. Peers reach the service router through a DEALER
// connection and do not put this identity on the wire themselves.
var BrokerIdentity = []byte("BROKER")

// BrokerName is the "from" value the broker itself uses when it
// synthesizes a Reply (HELLO ack, SERVICE_UNKNOWN, InvalidRequest).
const BrokerName = "BROKER"

// Message is the universal wire object described in spec §3. Status and
// Timestamp are pointers so an absent field round-trips as absent rather
// than as zero.
type Message struct {
	Type      MessageType `json:"type,omitempty"`
	From      string      `json:"from,omitempty"`
	Dst       string      `json:"dst,omitempty"`
	Status    *int        `json:"status,omitempty"`
	Timestamp *float64    `json:"timestamp,omitempty"`
	Payload   any         `json:"payload,omitempty"`
}

// StatusOr returns m.Status or def when Status is unset.
func (m Message) StatusOr(def int) int {
	if m.Status == nil {
		return def
	}
	return *m.Status
}

// IntPtr is a small helper for building Message literals inline.
func IntPtr(v int) *int { return &v }

// Float64Ptr is a small helper for building Message literals inline.
func Float64Ptr(v float64) *float64 { return &v }

// Encode serializes m as a UTF-8 JSON object.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, &Fault{Kind: MessageFormat, Status: InvalidRequest, Err: err}
	}
	return b, nil
}

// Decode parses a single byte sequence into a Message. Fails with a
// MessageFormat Fault when the bytes are not a valid JSON object.
func Decode(b []byte) (Message, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &Fault{Kind: MessageFormat, Status: InvalidRequest,
			Err: fmt.Errorf("decode message: not a JSON object")}
	}

	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, &Fault{Kind: MessageFormat, Status: InvalidRequest,
			Err: fmt.Errorf("decode message: %w", err)}
	}
	return m, nil
}

// DecodeFrames concatenates frames in order and decodes the result,
// mirroring the Python codec's join_frames-then-decode path.
func DecodeFrames(frames [][]byte) (Message, error) {
	return Decode(bytes.Join(frames, nil))
}
