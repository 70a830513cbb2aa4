package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/rpisps/broker/broker"
	"github.com/rpisps/broker/peer"
	"github.com/rpisps/broker/transport"
	"github.com/rpisps/broker/transport/inproc"
	"github.com/rpisps/broker/wire"
)

func newTestBroker(t *testing.T) (*broker.Broker, transport.Factory, func()) {
	t.Helper()
	net := inproc.NewNetwork()
	f := inproc.NewFactory(net)

	cfg := broker.Config{
		RequestAddress:      "test-request",
		ServiceAddress:      "test-service",
		SubmitValuesAddress: "test-submit",
		NewValuesAddress:    "test-newvalues",
		PollIntervalMS:      20,
	}

	b, err := broker.New(f, cfg)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("broker.Start: %v", err)
	}

	cleanup := func() {
		b.Stop()
		b.Join(200*time.Millisecond, nil)
	}
	return b, f, cleanup
}

func connectPeer(t *testing.T, f transport.Factory, name string) *peer.Peer {
	t.Helper()
	p, err := peer.Connect(f, peer.Config{
		Name:                name,
		RequestAddress:      "test-request",
		ServiceAddress:      "test-service",
		SubmitValuesAddress: "test-submit",
		NewValuesAddress:    "test-newvalues",
		HelloRetryInterval:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("peer.Connect(%s): %v", name, err)
	}
	return p
}

// TestHappyRequestReply is scenario S1.
func TestHappyRequestReply(t *testing.T) {
	_, f, cleanup := newTestBroker(t)
	defer cleanup()

	cfgService := connectPeer(t, f, "cfg")
	defer cfgService.Close()
	app := connectPeer(t, f, "app")
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := cfgService.MakeSourceKnown(ctx); err != nil {
		t.Fatalf("make source known: %v", err)
	}

	serviceDone := make(chan error, 1)
	go func() {
		req, err := cfgService.RecvRequest(ctx)
		if err != nil {
			serviceDone <- err
			return
		}
		if req.Type != wire.RequestValue || req.From != "app" || req.Dst != "cfg" {
			serviceDone <- errUnexpected(req)
			return
		}
		serviceDone <- cfgService.SendReply("app", map[string]any{"k": float64(1)}, wire.OK)
	}()

	reply, err := app.RequestValue(ctx, "cfg", map[string]any{"op": "read"})
	if err != nil {
		t.Fatalf("request_value: %v", err)
	}
	if err := <-serviceDone; err != nil {
		t.Fatalf("service side: %v", err)
	}

	if reply.From != "cfg" || reply.Dst != "app" || reply.StatusOr(-99) != wire.OK {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

// TestUnknownService is scenario S2.
func TestUnknownService(t *testing.T) {
	_, f, cleanup := newTestBroker(t)
	defer cleanup()

	app := connectPeer(t, f, "app")
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := app.RequestValue(ctx, "ghost", nil)
	if err != nil {
		t.Fatalf("request_value: %v", err)
	}
	if reply.From != wire.BrokerName || reply.Dst != "app" || reply.StatusOr(0) != wire.ServiceUnknown {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

// TestReRegistration is scenario S3: a service reconnecting with a new
// identity receives subsequent requests, not the old connection.
func TestReRegistration(t *testing.T) {
	_, f, cleanup := newTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg1 := connectPeer(t, f, "cfg")
	if err := cfg1.MakeSourceKnown(ctx); err != nil {
		t.Fatalf("make source known (1): %v", err)
	}
	cfg1.Close() // disconnect; this identity is now stale

	cfg2 := connectPeer(t, f, "cfg")
	defer cfg2.Close()
	if err := cfg2.MakeSourceKnown(ctx); err != nil {
		t.Fatalf("make source known (2): %v", err)
	}

	app := connectPeer(t, f, "app")
	defer app.Close()

	serviceDone := make(chan error, 1)
	go func() {
		req, err := cfg2.RecvRequest(ctx)
		if err != nil {
			serviceDone <- err
			return
		}
		serviceDone <- cfg2.SendReply(req.From, nil, wire.OK)
	}()

	reply, err := app.RequestValue(ctx, "cfg", nil)
	if err != nil {
		t.Fatalf("request_value: %v", err)
	}
	if err := <-serviceDone; err != nil {
		t.Fatalf("service side: %v", err)
	}
	if reply.StatusOr(-99) != wire.OK {
		t.Fatalf("expected reply delivered to the new registration, got %+v", reply)
	}
}

// TestPublishFanout is scenario S4.
func TestPublishFanout(t *testing.T) {
	_, f, cleanup := newTestBroker(t)
	defer cleanup()

	sensor := connectPeer(t, f, "sensor")
	defer sensor.Close()

	subscriberSensor := connectPeer(t, f, "sub-sensor")
	defer subscriberSensor.Close()
	if err := subscriberSensor.SetSubscriptions([]string{"sensor"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	subscriberWeather := connectPeer(t, f, "sub-weather")
	defer subscriberWeather.Close()
	if err := subscriberWeather.SetSubscriptions([]string{"weather"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// No wait is needed: the PULL ingress buffers the publication until
	// the fan-out plane polls, and inproc pub/sub only requires the SUB
	// connection to exist before the PUB send, which it already does here.
	if err := sensor.Publish(5); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := subscriberSensor.RecvUpdate(ctx)
	if err != nil {
		t.Fatalf("recv update: %v", err)
	}
	if got.From != "sensor" {
		t.Errorf("got From=%q, want %q", got.From, "sensor")
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer shortCancel()
	if _, err := subscriberWeather.RecvUpdate(shortCtx); err == nil {
		t.Error("weather subscriber should not have received the sensor publication")
	}
}

// TestGracefulShutdown is scenario S5.
func TestGracefulShutdown(t *testing.T) {
	b, _, _ := newTestBroker(t)

	b.Stop()
	if !b.Join(300*time.Millisecond, nil) {
		t.Fatal("expected Join to complete without a second abort signal")
	}
}

func errUnexpected(m wire.Message) error {
	return &unexpectedMessageError{m}
}

type unexpectedMessageError struct{ m wire.Message }

func (e *unexpectedMessageError) Error() string {
	return "unexpected message received by service"
}
