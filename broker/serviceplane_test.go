package broker_test

import (
	"testing"
	"time"

	"github.com/rpisps/broker/broker"
	"github.com/rpisps/broker/transport/inproc"
	"github.com/rpisps/broker/wire"
)

func newServicePlane(t *testing.T) (*broker.ServicePlane, chan wire.Message, chan wire.Message, *inproc.Factory) {
	t.Helper()
	net := inproc.NewNetwork()
	f := inproc.NewFactory(net)

	fromRequest := make(chan wire.Message, 8)
	toRequest := make(chan wire.Message, 8)

	sp, err := broker.NewServicePlane(f, "svc-addr", fromRequest, toRequest, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewServicePlane: %v", err)
	}
	return sp, fromRequest, toRequest, f
}

// TestHelloRegistersIdentity checks that a HELLO reply updates the
// registry and is answered with a HELLO reply in place, without touching
// the inter-plane channel.
func TestHelloRegistersIdentity(t *testing.T) {
	sp, _, toRequest, f := newServicePlane(t)
	defer sp.Close()

	terminate := &broker.Flag{}
	go sp.Run(terminate)
	defer terminate.Signal()

	dealer, err := f.NewDealerConnect("svc-addr")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dealer.Close()

	hello := wire.Message{Type: wire.Reply, From: "cfg", Dst: "NONE", Status: wire.IntPtr(wire.HELLO)}
	body, err := wire.Encode(hello)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := dealer.SendMultipart([][]byte{{}, body}); err != nil {
		t.Fatalf("send: %v", err)
	}

	frames, err := dealer.RecvMultipart()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(frames) < 2 {
		t.Fatalf("unexpected framing: %v", frames)
	}
	reply, err := wire.DecodeFrames(frames[1:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.StatusOr(-99) != wire.HELLO {
		t.Errorf("status = %v, want HELLO", reply.StatusOr(-99))
	}

	select {
	case got := <-toRequest:
		t.Fatalf("HELLO should not have been forwarded to the request plane, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestDispatchToUnknownServiceSynthesizesReply checks that a request
// whose destination never registered produces a SERVICE_UNKNOWN reply on
// the toRequest channel, not a hang or panic.
func TestDispatchToUnknownServiceSynthesizesReply(t *testing.T) {
	sp, fromRequest, toRequest, _ := newServicePlane(t)
	defer sp.Close()

	terminate := &broker.Flag{}
	go sp.Run(terminate)
	defer terminate.Signal()

	fromRequest <- wire.Message{Type: wire.RequestValue, From: "app", Dst: "ghost"}

	select {
	case reply := <-toRequest:
		if reply.StatusOr(0) != wire.ServiceUnknown || reply.Dst != "app" {
			t.Errorf("unexpected reply: %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SERVICE_UNKNOWN reply")
	}
}
