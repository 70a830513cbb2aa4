package broker

import (
	"log"
	"time"

	"github.com/rpisps/broker/transport"
	"github.com/rpisps/broker/wire"
)

// ServicePlane is C4: it accepts service-side connections, tracks which
// service name currently owns which transport identity, dispatches
// requests to the correct service, handles the registration handshake,
// and forwards replies back to the request plane. See spec §4.4.
type ServicePlane struct {
	router       transport.Socket
	fromRequest  <-chan wire.Message
	toRequest    chan<- wire.Message
	pollInterval time.Duration

	// registry maps service name -> the most recently observed
	// transport identity for that name (spec §3). Single-threaded
	// within this plane.
	registry map[string][]byte
}

// NewServicePlane binds the service-plane ROUTER socket and wires it to
// the inter-plane channel ends handed to it by Broker.
func NewServicePlane(f transport.Factory, addr string, fromRequest <-chan wire.Message, toRequest chan<- wire.Message, pollInterval time.Duration) (*ServicePlane, error) {
	router, err := f.NewRouterBind(wire.BrokerIdentity, addr)
	if err != nil {
		return nil, err
	}
	return &ServicePlane{
		router:       router,
		fromRequest:  fromRequest,
		toRequest:    toRequest,
		pollInterval: pollInterval,
		registry:     make(map[string][]byte),
	}, nil
}

func (p *ServicePlane) Run(terminate *Flag) {
	for !terminate.IsSet() {
		p.tick()
	}
	p.drain()
	log.Printf("[service-plane] terminating")
}

func (p *ServicePlane) tick() {
	ready, err := p.router.Poll(p.pollInterval)
	if err != nil {
		log.Printf("[service-plane] poll error: %v", err)
		return
	}
	// As in the request plane, only consume a service-side message once
	// the request plane has room for a forwarded reply (spec §4.4 step 1
	// pairs "inbound envelope available" with downstream writability).
	if ready && len(p.toRequest) < cap(p.toRequest) {
		p.handleInboundFromService()
	}
	if len(p.toRequest) < cap(p.toRequest) {
		p.handleInboundFromRequest()
	}
}

func (p *ServicePlane) drain() {
	p.handleInboundFromRequest()
}

// handleInboundFromService implements dispatch step 1 of spec §4.4: the
// registry is updated unconditionally on every inbound message (the
// "most recent identity wins" rule), then HELLO is answered in place or
// the message is forwarded to the request plane as a reply.
func (p *ServicePlane) handleInboundFromService() {
	frames, err := p.router.RecvMultipart()
	if err != nil {
		log.Printf("[service-plane] recv error: %v", err)
		return
	}

	identity, body, err := wire.SplitRouterEnvelope(frames)
	if err != nil {
		log.Printf("[service-plane] dropping malformed message: %v", err)
		return
	}
	if len(identity) != 1 || body.From == "" {
		log.Printf("[service-plane] dropping message with no usable identity/from")
		return
	}

	p.registry[body.From] = identity[0]

	if body.StatusOr(wire.OK) == wire.HELLO {
		p.replyHello(body.From)
		return
	}

	p.toRequest <- body
}

func (p *ServicePlane) replyHello(name string) {
	reply := wire.Message{
		Type:   wire.Reply,
		From:   wire.BrokerName,
		Dst:    name,
		Status: wire.IntPtr(wire.HELLO),
	}
	p.sendToService(name, reply)
}

// handleInboundFromRequest implements dispatch step 2 of spec §4.4:
// look up the destination service's identity, forward, or synthesize
// SERVICE_UNKNOWN back through the inter-plane channel.
func (p *ServicePlane) handleInboundFromRequest() {
	select {
	case body := <-p.fromRequest:
		p.dispatchRequest(body)
	default:
	}
}

func (p *ServicePlane) dispatchRequest(body wire.Message) {
	if _, ok := p.registry[body.Dst]; !ok {
		reply := wire.Message{
			Type:   wire.Reply,
			From:   wire.BrokerName,
			Dst:    body.From,
			Status: wire.IntPtr(wire.ServiceUnknown),
		}
		p.toRequest <- reply
		return
	}
	p.sendToService(body.Dst, body)
}

func (p *ServicePlane) sendToService(name string, body wire.Message) {
	identity, ok := p.registry[name]
	if !ok {
		log.Printf("[service-plane] identity for %q disappeared before send", name)
		return
	}
	envelope, err := wire.BuildRouterEnvelope([][]byte{identity}, body)
	if err != nil {
		log.Printf("[service-plane] encode message to %q: %v", name, err)
		return
	}
	if err := p.router.SendMultipart(envelope); err != nil {
		log.Printf("[service-plane] send to %q: %v", name, err)
	}
}

func (p *ServicePlane) Close() error {
	return p.router.Close()
}
