// Package inproc is an in-memory transport.Factory implementation. It
// gives package broker and package peer something to run their full
// routing logic against without linking libzmq, the same role the
// teacher's internal/mock.Broker plays for core.Router's tests — a
// same-process double standing in for a real wire protocol.
//
// A Network is the shared address space: every bound and connected
// socket that should be able to reach each other must be built from
// Factory values that wrap the same *Network.
package inproc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpisps/broker/transport"
)

func init() {
	transport.Register("inproc", func() (transport.Factory, error) {
		return NewFactory(NewNetwork()), nil
	})
}

const chanBuffer = 64

// Network is the shared rendezvous point for bind/connect pairs.
type Network struct {
	mu      sync.Mutex
	routers map[string]*routerBinding
	pulls   map[string]*pullBinding
	pubs    map[string]*pubBinding
	nextID  atomic.Uint64
}

// NewNetwork creates an empty address space.
func NewNetwork() *Network {
	return &Network{
		routers: make(map[string]*routerBinding),
		pulls:   make(map[string]*pullBinding),
		pubs:    make(map[string]*pubBinding),
	}
}

// Factory builds sockets that all rendezvous through the same Network.
type Factory struct {
	net *Network
}

// NewFactory wraps net in a transport.Factory.
func NewFactory(net *Network) *Factory {
	return &Factory{net: net}
}

func (f *Factory) Close() error { return nil }

// --- ROUTER --------------------------------------------------------------

type routedFrame struct {
	clientID string
	frames   [][]byte
}

type routerBinding struct {
	mu      sync.Mutex
	clients map[string]chan [][]byte
	inbox   chan routedFrame
	closed  bool
}

type routerSocket struct {
	addr    string
	binding *routerBinding
	net     *Network
}

func (f *Factory) NewRouterBind(identity []byte, addr string) (transport.Socket, error) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if _, exists := f.net.routers[addr]; exists {
		return nil, fmt.Errorf("inproc: address %q already bound", addr)
	}
	b := &routerBinding{
		clients: make(map[string]chan [][]byte),
		inbox:   make(chan routedFrame, chanBuffer),
	}
	f.net.routers[addr] = b
	return &routerSocket{addr: addr, binding: b, net: f.net}, nil
}

func (s *routerSocket) SendMultipart(frames [][]byte) error {
	if len(frames) == 0 {
		return fmt.Errorf("inproc: router send requires an identity frame")
	}
	id := string(frames[0])

	s.binding.mu.Lock()
	ch, ok := s.binding.clients[id]
	s.binding.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc: unknown identity %q", id)
	}

	select {
	case ch <- frames[1:]:
		return nil
	default:
		return fmt.Errorf("inproc: client %q inbound queue full", id)
	}
}

func (s *routerSocket) RecvMultipart() ([][]byte, error) {
	rf, ok := <-s.binding.inbox
	if !ok {
		return nil, fmt.Errorf("inproc: router socket closed")
	}
	out := make([][]byte, 0, len(rf.frames)+1)
	out = append(out, []byte(rf.clientID))
	out = append(out, rf.frames...)
	return out, nil
}

func (s *routerSocket) Poll(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		select {
		case rf, ok := <-s.binding.inbox:
			if !ok {
				return false, nil
			}
			s.requeue(rf)
			return true, nil
		default:
			return false, nil
		}
	}

	select {
	case rf, ok := <-s.binding.inbox:
		if !ok {
			return false, nil
		}
		s.requeue(rf)
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

// requeue puts a peeked message back at the front by way of a buffered
// re-send; channels have no peek, so Poll drains then restores.
func (s *routerSocket) requeue(rf routedFrame) {
	// Re-push must not block: the channel just yielded capacity.
	select {
	case s.binding.inbox <- rf:
	default:
		// Buffer momentarily full from concurrent producers; spin a
		// goroutine so Poll never blocks the caller.
		go func() { s.binding.inbox <- rf }()
	}
}

func (s *routerSocket) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.binding.mu.Lock()
	defer s.binding.mu.Unlock()
	if s.binding.closed {
		return nil
	}
	s.binding.closed = true
	delete(s.net.routers, s.addr)
	return nil
}

// --- REQ / DEALER (connect side of a ROUTER) ------------------------------

type clientSocket struct {
	id      string
	net     *Network
	addr    string
	binding *routerBinding
	recvCh  chan [][]byte
	isREQ   bool
}

func (f *Factory) NewReqConnect(addr string) (transport.Socket, error) {
	return f.connectClient(addr, true)
}

func (f *Factory) NewDealerConnect(addr string) (transport.Socket, error) {
	return f.connectClient(addr, false)
}

func (f *Factory) connectClient(addr string, isREQ bool) (transport.Socket, error) {
	f.net.mu.Lock()
	b, ok := f.net.routers[addr]
	f.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inproc: no router bound at %q", addr)
	}

	id := fmt.Sprintf("conn-%d", f.net.nextID.Add(1))
	recvCh := make(chan [][]byte, chanBuffer)

	b.mu.Lock()
	b.clients[id] = recvCh
	b.mu.Unlock()

	return &clientSocket{id: id, net: f.net, addr: addr, binding: b, recvCh: recvCh, isREQ: isREQ}, nil
}

func (s *clientSocket) SendMultipart(frames [][]byte) error {
	actual := frames
	if s.isREQ {
		actual = make([][]byte, 0, len(frames)+1)
		actual = append(actual, []byte{})
		actual = append(actual, frames...)
	}

	select {
	case s.binding.inbox <- routedFrame{clientID: s.id, frames: actual}:
		return nil
	default:
		return fmt.Errorf("inproc: router inbound queue full")
	}
}

func (s *clientSocket) RecvMultipart() ([][]byte, error) {
	frames, ok := <-s.recvCh
	if !ok {
		return nil, fmt.Errorf("inproc: client socket closed")
	}
	return frames, nil
}

func (s *clientSocket) Poll(timeout time.Duration) (bool, error) {
	return pollChan(s.recvCh, timeout)
}

func (s *clientSocket) Close() error {
	s.binding.mu.Lock()
	defer s.binding.mu.Unlock()
	delete(s.binding.clients, s.id)
	return nil
}

// --- PUSH / PULL -----------------------------------------------------------

type pullBinding struct {
	inbox  chan [][]byte
	mu     sync.Mutex
	closed bool
}

type pullSocket struct {
	addr    string
	binding *pullBinding
	net     *Network
}

func (f *Factory) NewPullBind(addr string) (transport.Socket, error) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if _, exists := f.net.pulls[addr]; exists {
		return nil, fmt.Errorf("inproc: address %q already bound", addr)
	}
	b := &pullBinding{inbox: make(chan [][]byte, chanBuffer)}
	f.net.pulls[addr] = b
	return &pullSocket{addr: addr, binding: b, net: f.net}, nil
}

func (s *pullSocket) SendMultipart([][]byte) error {
	return fmt.Errorf("inproc: PULL socket cannot send")
}

func (s *pullSocket) RecvMultipart() ([][]byte, error) {
	frames, ok := <-s.binding.inbox
	if !ok {
		return nil, fmt.Errorf("inproc: pull socket closed")
	}
	return frames, nil
}

func (s *pullSocket) Poll(timeout time.Duration) (bool, error) {
	return pollChan(s.binding.inbox, timeout)
}

func (s *pullSocket) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.binding.mu.Lock()
	defer s.binding.mu.Unlock()
	if s.binding.closed {
		return nil
	}
	s.binding.closed = true
	delete(s.net.pulls, s.addr)
	return nil
}

type pushSocket struct {
	binding *pullBinding
}

func (f *Factory) NewPushConnect(addr string) (transport.Socket, error) {
	f.net.mu.Lock()
	b, ok := f.net.pulls[addr]
	f.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inproc: no PULL bound at %q", addr)
	}
	return &pushSocket{binding: b}, nil
}

func (s *pushSocket) SendMultipart(frames [][]byte) error {
	select {
	case s.binding.inbox <- frames:
		return nil
	default:
		return fmt.Errorf("inproc: pull inbound queue full")
	}
}

func (s *pushSocket) RecvMultipart() ([][]byte, error) {
	return nil, fmt.Errorf("inproc: PUSH socket cannot receive")
}

func (s *pushSocket) Poll(time.Duration) (bool, error) { return false, nil }

func (s *pushSocket) Close() error { return nil }

// --- PUB / SUB ---------------------------------------------------------

type pubBinding struct {
	mu   sync.Mutex
	subs []*subSocket
}

type pubSocket struct {
	addr    string
	binding *pubBinding
	net     *Network
}

func (f *Factory) NewPubBind(addr string) (transport.Socket, error) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if _, exists := f.net.pubs[addr]; exists {
		return nil, fmt.Errorf("inproc: address %q already bound", addr)
	}
	b := &pubBinding{}
	f.net.pubs[addr] = b
	return &pubSocket{addr: addr, binding: b, net: f.net}, nil
}

func (s *pubSocket) SendMultipart(frames [][]byte) error {
	if len(frames) == 0 {
		return fmt.Errorf("inproc: publish requires a topic frame")
	}
	topic := string(frames[0])

	s.binding.mu.Lock()
	defer s.binding.mu.Unlock()
	for _, sub := range s.binding.subs {
		if sub.matches(topic) {
			cp := make([][]byte, len(frames))
			copy(cp, frames)
			select {
			case sub.inbox <- cp:
			default:
				// Slow subscriber backs off; publish never blocks, per
				// spec §5 ("non-blocking relative to peers").
			}
		}
	}
	return nil
}

func (s *pubSocket) RecvMultipart() ([][]byte, error) {
	return nil, fmt.Errorf("inproc: PUB socket cannot receive")
}

func (s *pubSocket) Poll(time.Duration) (bool, error) { return false, nil }

func (s *pubSocket) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	delete(s.net.pubs, s.addr)
	return nil
}

type subSocket struct {
	binding  *pubBinding
	mu       sync.Mutex
	prefixes []string
	inbox    chan [][]byte
}

func (f *Factory) NewSubConnect(addr string) (transport.Socket, error) {
	f.net.mu.Lock()
	b, ok := f.net.pubs[addr]
	f.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inproc: no PUB bound at %q", addr)
	}
	sub := &subSocket{binding: b, inbox: make(chan [][]byte, chanBuffer)}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

func (s *subSocket) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prefixes {
		if len(topic) >= len(p) && topic[:len(p)] == p {
			return true
		}
	}
	return false
}

func (s *subSocket) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

func (s *subSocket) Unsubscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.prefixes[:0]
	for _, p := range s.prefixes {
		if p != prefix {
			out = append(out, p)
		}
	}
	s.prefixes = out
	return nil
}

func (s *subSocket) SendMultipart([][]byte) error {
	return fmt.Errorf("inproc: SUB socket cannot send")
}

func (s *subSocket) RecvMultipart() ([][]byte, error) {
	frames, ok := <-s.inbox
	if !ok {
		return nil, fmt.Errorf("inproc: sub socket closed")
	}
	return frames, nil
}

func (s *subSocket) Poll(timeout time.Duration) (bool, error) {
	return pollChan(s.inbox, timeout)
}

func (s *subSocket) Close() error {
	s.binding.mu.Lock()
	defer s.binding.mu.Unlock()
	out := s.binding.subs[:0]
	for _, sub := range s.binding.subs {
		if sub != s {
			out = append(out, sub)
		}
	}
	s.binding.subs = out
	return nil
}

// pollChan peeks at ch without consuming by requeuing, same trick the
// router socket uses.
func pollChan[T any](ch chan T, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		select {
		case v, ok := <-ch:
			if !ok {
				return false, nil
			}
			requeueOne(ch, v)
			return true, nil
		default:
			return false, nil
		}
	}

	select {
	case v, ok := <-ch:
		if !ok {
			return false, nil
		}
		requeueOne(ch, v)
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func requeueOne[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		go func() { ch <- v }()
	}
}
