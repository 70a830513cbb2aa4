// Package broker implements the three routing planes and the runtime
// that composes them: the request plane (C3), the service plane (C4),
// the publish fan-out (C5), and the supervisor (C6). See spec §4.
package broker

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rpisps/broker/transport"
	"github.com/rpisps/broker/wire"
)

const interPlaneBuffer = 256

// Broker composes RequestPlane, ServicePlane and Fanout behind one
// process: endpoint binding, the inter-plane channel, and lifecycle
// (startup, termination signal propagation, graceful join). See spec
// §4.6.
//
// The inter-plane link is a pair of typed Go channels, pre-created here
// and handed one direction each to RequestPlane and ServicePlane. Spec
// §9 calls this out as the cleaner alternative to the original's
// bind-then-fall-back-to-connect race on a zmq PAIR socket — in Go,
// there is no bind race to resolve in the first place.
type Broker struct {
	requestPlane *RequestPlane
	servicePlane *ServicePlane
	fanout       *Fanout

	terminate Flag
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// New constructs a Broker bound to the four endpoints in cfg using the
// sockets f provides.
func New(f transport.Factory, cfg Config) (*Broker, error) {
	pollInterval := time.Duration(cfg.PollIntervalMS) * time.Millisecond

	toService := make(chan wire.Message, interPlaneBuffer)
	toRequest := make(chan wire.Message, interPlaneBuffer)

	requestPlane, err := NewRequestPlane(f, cfg.RequestAddress, toService, toRequest, pollInterval)
	if err != nil {
		return nil, fmt.Errorf("broker: start request plane: %w", err)
	}

	servicePlane, err := NewServicePlane(f, cfg.ServiceAddress, toService, toRequest, pollInterval)
	if err != nil {
		requestPlane.Close()
		return nil, fmt.Errorf("broker: start service plane: %w", err)
	}

	fanout, err := NewFanout(f, cfg.SubmitValuesAddress, cfg.NewValuesAddress, pollInterval)
	if err != nil {
		requestPlane.Close()
		servicePlane.Close()
		return nil, fmt.Errorf("broker: start fan-out: %w", err)
	}

	return &Broker{
		requestPlane: requestPlane,
		servicePlane: servicePlane,
		fanout:       fanout,
	}, nil
}

// Start launches the three plane goroutines. It returns immediately;
// use Stop and then Join to shut the broker down.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}
	b.running = true

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		runWithRecovery("request-plane", func() { b.requestPlane.Run(&b.terminate) })
	}()
	go func() {
		defer b.wg.Done()
		runWithRecovery("service-plane", func() { b.servicePlane.Run(&b.terminate) })
	}()
	go func() {
		defer b.wg.Done()
		runWithRecovery("fanout", func() { b.fanout.Run(&b.terminate) })
	}()

	log.Printf("[broker] started")
	return nil
}

// Stop sets the termination flag, signalling every plane to exit at its
// next poll iteration (spec §5, §8 property "termination flag set
// during a blocking poll causes the plane to exit within one poll
// interval").
func (b *Broker) Stop() {
	b.terminate.Signal()
}

// Join blocks until every plane goroutine has exited, then closes the
// planes' sockets and returns true. It waits in attempts of
// attemptTimeout each, repeating until all have exited, with no limit
// on the number of attempts — the "join with a short per-attempt
// timeout, repeating until all have exited" behavior of spec §4.6 step
// 4. abort, if non-nil, is watched during every attempt; when it fires,
// Join returns false immediately even if planes are still running (a
// second interrupt during join aborts the wait).
func (b *Broker) Join(attemptTimeout time.Duration, abort <-chan struct{}) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			b.closeSockets()
			return true
		case <-time.After(attemptTimeout):
			// fall through and check abort/done again
		case <-abort:
			return false
		}
	}
}

func (b *Broker) closeSockets() {
	b.requestPlane.Close()
	b.servicePlane.Close()
	b.fanout.Close()
}
