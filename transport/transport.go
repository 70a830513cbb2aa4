// Package transport abstracts the socket primitives the broker planes
// and the peer context need (router, request/dealer, push/pull, pub/sub)
// behind an interface, so the routing logic in package broker and
// package peer never imports a concrete transport directly — matching
// the teacher's "plugins implement a common interface, registered by
// name" shape (github.com/miladsoleymani/eventmux/broker), adapted from
// pluggable message-broker backends to pluggable socket transports.
package transport

import "time"

// Socket is one endpoint of a transport connection. Every plane and
// peer owns its sockets exclusively: a Socket must never be used from
// more than one goroutine concurrently, mirroring the hard rule ZeroMQ
// itself imposes on its sockets.
type Socket interface {
	// SendMultipart sends a multi-frame message. Implementations should
	// not block indefinitely; a full outbound queue is reported as an
	// error so the caller can back off to its next poll iteration.
	SendMultipart(frames [][]byte) error

	// RecvMultipart blocks until a multi-frame message is available or
	// the socket is closed.
	RecvMultipart() ([][]byte, error)

	// Poll reports whether a message is available to receive within
	// timeout. A timeout of 0 polls without blocking.
	Poll(timeout time.Duration) (bool, error)

	// Close releases the socket. Safe to call more than once.
	Close() error
}

// Factory constructs every socket kind the broker and its peers need.
// Bind-side constructors are used by the broker planes; connect-side
// constructors are used by peer.Peer.
type Factory interface {
	// NewRouterBind binds a ROUTER socket at addr under the given
	// identity. Used by the request plane and the service plane (C3/C4).
	NewRouterBind(identity []byte, addr string) (Socket, error)

	// NewPullBind binds a PULL socket at addr. Used by the publish
	// fan-out ingress (C5).
	NewPullBind(addr string) (Socket, error)

	// NewPubBind binds a PUB socket at addr. Used by the publish
	// fan-out egress (C5).
	NewPubBind(addr string) (Socket, error)

	// NewReqConnect connects a REQ socket to addr. Used by peer.Peer for
	// RequestValue/WriteValue, which strictly alternate send and receive.
	NewReqConnect(addr string) (Socket, error)

	// NewDealerConnect connects a DEALER socket to addr, with the caller
	// responsible for the empty delimiter frame. Used by peer.Peer for
	// RecvRequest/SendReply, which are not send/receive-alternating.
	NewDealerConnect(addr string) (Socket, error)

	// NewPushConnect connects a PUSH socket to addr. Used by peer.Peer
	// for Publish.
	NewPushConnect(addr string) (Socket, error)

	// NewSubConnect connects a SUB socket to addr. Used by peer.Peer for
	// recv-updates plus topic-prefix (un)subscription.
	NewSubConnect(addr string) (Socket, error)

	// Close releases any resources shared across sockets created by this
	// factory (e.g. a zmq.Context).
	Close() error
}

// Subscriber is implemented by Sockets returned from NewSubConnect that
// support topic-prefix filtering at the transport layer (spec §9:
// "subscription filtering is delegated to the transport's topic-prefix
// mechanism").
type Subscriber interface {
	Subscribe(prefix string) error
	Unsubscribe(prefix string) error
}
