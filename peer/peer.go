// Package peer is the per-service facade every service process uses to
// speak to the broker: request-value, write-value, publish, subscribe,
// receive-request, send-reply, plus the registration handshake. See
// spec §4.2. It is the Go counterpart of the original Python
// rpisps.context.Context.
package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/rpisps/broker/transport"
	"github.com/rpisps/broker/wire"
)

// Config is the peer configuration surface from spec §6: a name plus
// the four broker addresses. Names must be unique and case-sensitive.
type Config struct {
	Name                string
	RequestAddress      string
	ServiceAddress      string
	SubmitValuesAddress string
	NewValuesAddress    string

	// HelloRetryInterval paces MakeSourceKnown's retry loop. Defaults to
	// 10ms, matching the original's fixed poll timeout.
	HelloRetryInterval time.Duration
}

// Peer is a connected service's facade over the broker's four
// endpoints: a request socket, a service socket, a publish-ingress
// socket, and a subscription socket.
type Peer struct {
	cfg Config

	request   transport.Socket // REQ, connected to RequestAddress
	service   transport.Socket // DEALER, connected to ServiceAddress
	submit    transport.Socket // PUSH, connected to SubmitValuesAddress
	updates   transport.Socket // SUB, connected to NewValuesAddress
	subscribe transport.Subscriber
}

// Connect builds every one of a Peer's four connections.
func Connect(f transport.Factory, cfg Config) (*Peer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("peer: name is required")
	}
	if cfg.HelloRetryInterval == 0 {
		cfg.HelloRetryInterval = 10 * time.Millisecond
	}

	request, err := f.NewReqConnect(cfg.RequestAddress)
	if err != nil {
		return nil, fmt.Errorf("peer: connect request socket: %w", err)
	}
	service, err := f.NewDealerConnect(cfg.ServiceAddress)
	if err != nil {
		request.Close()
		return nil, fmt.Errorf("peer: connect service socket: %w", err)
	}
	submit, err := f.NewPushConnect(cfg.SubmitValuesAddress)
	if err != nil {
		request.Close()
		service.Close()
		return nil, fmt.Errorf("peer: connect submit-values socket: %w", err)
	}
	updates, err := f.NewSubConnect(cfg.NewValuesAddress)
	if err != nil {
		request.Close()
		service.Close()
		submit.Close()
		return nil, fmt.Errorf("peer: connect new-values socket: %w", err)
	}

	sub, _ := updates.(transport.Subscriber)

	return &Peer{
		cfg:       cfg,
		request:   request,
		service:   service,
		submit:    submit,
		updates:   updates,
		subscribe: sub,
	}, nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Publish wraps payload as {from, timestamp, payload} and pushes a
// two-frame [topic=name, body] message onto the publish-ingress socket.
// Non-blocking; fire-and-forget.
func (p *Peer) Publish(payload any) error {
	msg := wire.Message{
		From:      p.cfg.Name,
		Timestamp: wire.Float64Ptr(now()),
		Payload:   payload,
	}
	body, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return p.submit.SendMultipart([][]byte{[]byte(p.cfg.Name), body})
}

// RequestValue sends a RequestValue on the request socket and blocks
// until a single reply arrives.
func (p *Peer) RequestValue(ctx context.Context, dst string, payload any) (wire.Message, error) {
	return p.requestReply(ctx, wire.RequestValue, dst, payload)
}

// WriteValue sends a WriteValue on the request socket and blocks until a
// single reply arrives.
func (p *Peer) WriteValue(ctx context.Context, dst string, payload any) (wire.Message, error) {
	return p.requestReply(ctx, wire.WriteValue, dst, payload)
}

func (p *Peer) requestReply(ctx context.Context, typ wire.MessageType, dst string, payload any) (wire.Message, error) {
	msg := wire.Message{
		Type: typ,
		From: p.cfg.Name,
		Dst:  dst,
	}
	if payload != nil {
		msg.Payload = payload
	}

	body, err := wire.Encode(msg)
	if err != nil {
		return wire.Message{}, err
	}

	// REQ enforces strict send/receive alternation itself; a single
	// outstanding request per Peer at a time, per spec §4.2.
	if err := p.request.SendMultipart([][]byte{body}); err != nil {
		return wire.Message{}, err
	}

	frames, err := recvWithContext(ctx, p.request)
	if err != nil {
		return wire.Message{}, err
	}
	return wire.DecodeFrames(frames)
}

// RecvRequest blocks for an inbound request addressed to this peer and
// returns the decoded body. The sender's transport identity is never
// exposed to service logic.
func (p *Peer) RecvRequest(ctx context.Context) (wire.Message, error) {
	frames, err := recvWithContext(ctx, p.service)
	if err != nil {
		return wire.Message{}, err
	}
	// DEALER framing: [empty, body] — see DESIGN.md for why this
	// replaces the original's ROUTER-to-ROUTER envelope.
	if len(frames) < 2 {
		return wire.Message{}, &wire.Fault{Kind: wire.MessageFormat, Status: wire.InvalidRequest,
			Err: fmt.Errorf("peer: malformed request, got %d frames", len(frames))}
	}
	return wire.DecodeFrames(frames[1:])
}

// SendReply builds a Reply and sends it on the service socket.
func (p *Peer) SendReply(dst string, payload any, status int) error {
	msg := wire.Message{
		Type:      wire.Reply,
		From:      p.cfg.Name,
		Dst:       dst,
		Status:    wire.IntPtr(status),
		Timestamp: wire.Float64Ptr(now()),
	}
	if payload != nil {
		msg.Payload = payload
	}

	body, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return p.service.SendMultipart([][]byte{{}, body})
}

// SetSubscriptions registers topic-prefix subscriptions on the
// subscription socket.
func (p *Peer) SetSubscriptions(names []string) error {
	if p.subscribe == nil {
		return fmt.Errorf("peer: transport does not support subscriptions")
	}
	for _, n := range names {
		if err := p.subscribe.Subscribe(n); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubscriptions unregisters topic-prefix subscriptions.
func (p *Peer) RemoveSubscriptions(names []string) error {
	if p.subscribe == nil {
		return fmt.Errorf("peer: transport does not support subscriptions")
	}
	for _, n := range names {
		if err := p.subscribe.Unsubscribe(n); err != nil {
			return err
		}
	}
	return nil
}

// RecvUpdate blocks for the next published value this peer is
// subscribed to and returns its decoded body.
func (p *Peer) RecvUpdate(ctx context.Context) (wire.Message, error) {
	frames, err := recvWithContext(ctx, p.updates)
	if err != nil {
		return wire.Message{}, err
	}
	if len(frames) < 2 {
		return wire.Message{}, &wire.Fault{Kind: wire.MessageFormat, Status: wire.InvalidRequest,
			Err: fmt.Errorf("peer: malformed publication, got %d frames", len(frames))}
	}
	return wire.DecodeFrames(frames[1:])
}

// MakeSourceKnown is the registration handshake: it repeatedly sends a
// Reply{status=HELLO} on the service socket and polls the same socket
// for any reply, exiting on the first one. This retry is mandatory: the
// broker's service router silently drops messages whose destination
// identity it has not yet learned, so the first registration message
// may be lost.
func (p *Peer) MakeSourceKnown(ctx context.Context) error {
	for {
		if err := p.SendReply("NONE", nil, wire.HELLO); err != nil {
			return err
		}

		ready, err := p.service.Poll(p.cfg.HelloRetryInterval)
		if err != nil {
			return err
		}
		if ready {
			if _, err := p.service.RecvMultipart(); err != nil {
				return err
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Close releases all four connections.
func (p *Peer) Close() error {
	var firstErr error
	for _, s := range []transport.Socket{p.request, p.service, p.submit, p.updates} {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func recvWithContext(ctx context.Context, s transport.Socket) ([][]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ready, err := s.Poll(50 * time.Millisecond)
		if err != nil {
			return nil, err
		}
		if ready {
			return s.RecvMultipart()
		}
	}
}
