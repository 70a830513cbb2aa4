// Package zmqtransport implements transport.Factory on top of libzmq via
// github.com/pebbe/zmq4 — the real domain dependency this broker is
// built on, grounded in _examples/other_examples' goczmq-based
// Majordomo broker and in the original Python source's own "import zmq".
package zmqtransport

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/rpisps/broker/transport"
)

func init() {
	transport.Register("zmq", func() (transport.Factory, error) {
		return New()
	})
}

// Factory builds sockets backed by a single shared zmq.Context, per the
// "transport context is process-wide and reference-counted" rule in
// spec §5.
type Factory struct {
	ctx *zmq.Context
}

// New creates a Factory with its own zmq.Context.
func New() (*Factory, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, &transportFault{op: "new context", err: err}
	}
	return &Factory{ctx: ctx}, nil
}

func (f *Factory) Close() error {
	return f.ctx.Term()
}

type socket struct {
	sock *zmq.Socket
}

func (f *Factory) newSocket(t zmq.Type) (*zmq.Socket, error) {
	return f.ctx.NewSocket(t)
}

// --- ROUTER (bind side; request plane and service plane) --------------

func (f *Factory) NewRouterBind(identity []byte, addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.ROUTER)
	if err != nil {
		return nil, &transportFault{op: "new ROUTER", err: err}
	}
	if err := s.SetIdentity(string(identity)); err != nil {
		s.Close()
		return nil, &transportFault{op: "set ROUTER identity", err: err}
	}
	if err := s.Bind(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "bind ROUTER " + addr, err: err}
	}
	return &socket{sock: s}, nil
}

// --- PULL / PUB (bind side; publish fan-out) ---------------------------

func (f *Factory) NewPullBind(addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.PULL)
	if err != nil {
		return nil, &transportFault{op: "new PULL", err: err}
	}
	if err := s.Bind(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "bind PULL " + addr, err: err}
	}
	return &socket{sock: s}, nil
}

func (f *Factory) NewPubBind(addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.PUB)
	if err != nil {
		return nil, &transportFault{op: "new PUB", err: err}
	}
	if err := s.Bind(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "bind PUB " + addr, err: err}
	}
	return &socket{sock: s}, nil
}

// --- Connect side (peer context) ----------------------------------------

func (f *Factory) NewReqConnect(addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.REQ)
	if err != nil {
		return nil, &transportFault{op: "new REQ", err: err}
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "connect REQ " + addr, err: err}
	}
	return &socket{sock: s}, nil
}

func (f *Factory) NewDealerConnect(addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.DEALER)
	if err != nil {
		return nil, &transportFault{op: "new DEALER", err: err}
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "connect DEALER " + addr, err: err}
	}
	return &socket{sock: s}, nil
}

func (f *Factory) NewPushConnect(addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.PUSH)
	if err != nil {
		return nil, &transportFault{op: "new PUSH", err: err}
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "connect PUSH " + addr, err: err}
	}
	return &socket{sock: s}, nil
}

func (f *Factory) NewSubConnect(addr string) (transport.Socket, error) {
	s, err := f.newSocket(zmq.SUB)
	if err != nil {
		return nil, &transportFault{op: "new SUB", err: err}
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, &transportFault{op: "connect SUB " + addr, err: err}
	}
	return &subSocket{socket: socket{sock: s}}, nil
}

// --- Socket ---------------------------------------------------------------

func (s *socket) SendMultipart(frames [][]byte) error {
	parts := make([]interface{}, len(frames))
	for i, f := range frames {
		parts[i] = f
	}
	if _, err := s.sock.SendMessage(parts...); err != nil {
		return &transportFault{op: "send", err: err}
	}
	return nil
}

func (s *socket) RecvMultipart() ([][]byte, error) {
	frames, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return nil, &transportFault{op: "recv", err: err}
	}
	return frames, nil
}

func (s *socket) Poll(timeout time.Duration) (bool, error) {
	poller := zmq.NewPoller()
	poller.Add(s.sock, zmq.POLLIN)
	polled, err := poller.Poll(timeout)
	if err != nil {
		return false, &transportFault{op: "poll", err: err}
	}
	return len(polled) > 0, nil
}

func (s *socket) Close() error {
	return s.sock.Close()
}

// subSocket adds topic-prefix (un)subscription, delegated straight to
// libzmq's own filtering (spec §9: "subscription filtering is delegated
// to the transport's topic-prefix mechanism").
type subSocket struct {
	socket
}

func (s *subSocket) Subscribe(prefix string) error {
	return s.sock.SetSubscribe(prefix)
}

func (s *subSocket) Unsubscribe(prefix string) error {
	return s.sock.SetUnsubscribe(prefix)
}

type transportFault struct {
	op  string
	err error
}

func (f *transportFault) Error() string {
	return fmt.Sprintf("zmqtransport: %s: %v", f.op, f.err)
}

func (f *transportFault) Unwrap() error { return f.err }
