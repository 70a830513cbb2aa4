package broker

import (
	"log"
	"time"

	"github.com/rpisps/broker/transport"
	"github.com/rpisps/broker/wire"
)

// RequestPlane is C3: it accepts request messages from named requesters,
// forwards them to the service plane, and routes replies back to the
// originator by remembered identity. See spec §4.3.
type RequestPlane struct {
	router       transport.Socket
	toService    chan<- wire.Message
	fromService  <-chan wire.Message
	pollInterval time.Duration

	// pending maps requester name -> the transport identity the reply
	// must be routed back to. Single-threaded within this plane, so a
	// plain map is sufficient (spec §9).
	pending map[string][]byte
}

// NewRequestPlane binds the request-plane ROUTER socket and wires it to
// the inter-plane channel ends handed to it by Broker.
func NewRequestPlane(f transport.Factory, addr string, toService chan<- wire.Message, fromService <-chan wire.Message, pollInterval time.Duration) (*RequestPlane, error) {
	router, err := f.NewRouterBind(wire.BrokerIdentity, addr)
	if err != nil {
		return nil, err
	}
	return &RequestPlane{
		router:       router,
		toService:    toService,
		fromService:  fromService,
		pollInterval: pollInterval,
		pending:      make(map[string][]byte),
	}, nil
}

// Run loops until terminate is set, per the running/draining/stopped
// state machine in spec §4.6.
func (p *RequestPlane) Run(terminate *Flag) {
	for !terminate.IsSet() {
		p.tick()
	}
	p.drain()
	log.Printf("[request-plane] terminating")
}

// tick performs one poll-and-dispatch iteration, the dispatch order
// spec §4.3 mandates: inbound request first, then pending reply.
func (p *RequestPlane) tick() {
	ready, err := p.router.Poll(p.pollInterval)
	if err != nil {
		log.Printf("[request-plane] poll error: %v", err)
		return
	}
	// Only consume a request once the service plane has room for it, per
	// spec §4.3's "if a full envelope is available and the inter-plane
	// channel is writable" ordering — this keeps an unconsumed message
	// queued at the transport layer instead of dropping it on backpressure.
	if ready && len(p.toService) < cap(p.toService) {
		p.handleInboundRequest()
	}
	p.drainOneReply()
}

// drain performs a single extra pass to flush anything already queued
// on the inter-plane channel before the plane stops.
func (p *RequestPlane) drain() {
	p.drainOneReply()
}

func (p *RequestPlane) handleInboundRequest() {
	frames, err := p.router.RecvMultipart()
	if err != nil {
		log.Printf("[request-plane] recv error: %v", err)
		return
	}

	identity, body, err := wire.SplitRouterEnvelope(frames)
	if err != nil {
		log.Printf("[request-plane] dropping malformed request: %v", err)
		return
	}
	if len(identity) != 1 {
		log.Printf("[request-plane] dropping request with malformed identity prefix (%d frames)", len(identity))
		return
	}

	if !isValidRequest(body) {
		p.replyInvalidRequest(identity, body)
		return
	}

	p.pending[body.From] = identity[0]
	p.toService <- body
}

func (p *RequestPlane) drainOneReply() {
	select {
	case reply := <-p.fromService:
		p.routeReply(reply)
	default:
	}
}

func (p *RequestPlane) routeReply(reply wire.Message) {
	identity, ok := p.pending[reply.Dst]
	if !ok {
		// Late reply to an unknown requester: drop silently, per spec §3
		// ("a late reply whose dst is unknown is dropped").
		return
	}

	envelope, err := wire.BuildRouterEnvelope([][]byte{identity}, reply)
	if err != nil {
		log.Printf("[request-plane] encode reply: %v", err)
		return
	}
	if err := p.router.SendMultipart(envelope); err != nil {
		log.Printf("[request-plane] send reply: %v", err)
		return
	}
	delete(p.pending, reply.Dst)
}

func (p *RequestPlane) replyInvalidRequest(identity [][]byte, body wire.Message) {
	reply := wire.Message{
		Type:   wire.Reply,
		From:   wire.BrokerName,
		Dst:    body.From,
		Status: wire.IntPtr(wire.InvalidRequest),
	}
	envelope, err := wire.BuildRouterEnvelope(identity, reply)
	if err != nil {
		log.Printf("[request-plane] encode invalid-request reply: %v", err)
		return
	}
	if err := p.router.SendMultipart(envelope); err != nil {
		log.Printf("[request-plane] send invalid-request reply: %v", err)
	}
}

// isValidRequest resolves spec §9's "reply_invalid_request" open
// question: a request must carry its type, a non-empty From, and (for
// RequestValue/WriteValue) a non-empty Dst.
func isValidRequest(m wire.Message) bool {
	if m.From == "" {
		return false
	}
	switch m.Type {
	case wire.RequestValue, wire.WriteValue:
		return m.Dst != ""
	default:
		return false
	}
}

func (p *RequestPlane) Close() error {
	return p.router.Close()
}
