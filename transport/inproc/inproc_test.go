package inproc

import (
	"testing"
	"time"
)

func TestRouterReqRoundTrip(t *testing.T) {
	net := NewNetwork()
	f := NewFactory(net)

	router, err := f.NewRouterBind([]byte("BROKER"), "addr-1")
	if err != nil {
		t.Fatalf("bind router: %v", err)
	}
	defer router.Close()

	req, err := f.NewReqConnect("addr-1")
	if err != nil {
		t.Fatalf("connect req: %v", err)
	}
	defer req.Close()

	if err := req.SendMultipart([][]byte{[]byte("hello")}); err != nil {
		t.Fatalf("req send: %v", err)
	}

	ready, err := router.Poll(time.Second)
	if err != nil || !ready {
		t.Fatalf("router poll: ready=%v err=%v", ready, err)
	}

	frames, err := router.RecvMultipart()
	if err != nil {
		t.Fatalf("router recv: %v", err)
	}
	// [identity, empty, body]
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %v", len(frames), frames)
	}
	if len(frames[1]) != 0 {
		t.Errorf("expected empty delimiter, got %q", frames[1])
	}
	if string(frames[2]) != "hello" {
		t.Errorf("body = %q, want %q", frames[2], "hello")
	}

	// Reply back to the same identity.
	if err := router.SendMultipart([][]byte{frames[0], []byte("world")}); err != nil {
		t.Fatalf("router send: %v", err)
	}

	reqFrames, err := req.RecvMultipart()
	if err != nil {
		t.Fatalf("req recv: %v", err)
	}
	if len(reqFrames) != 1 || string(reqFrames[0]) != "world" {
		t.Errorf("req received %v, want [world]", reqFrames)
	}
}

func TestDealerManualFraming(t *testing.T) {
	net := NewNetwork()
	f := NewFactory(net)

	router, _ := f.NewRouterBind([]byte("BROKER"), "addr-2")
	defer router.Close()

	dealer, err := f.NewDealerConnect("addr-2")
	if err != nil {
		t.Fatalf("connect dealer: %v", err)
	}
	defer dealer.Close()

	if err := dealer.SendMultipart([][]byte{{}, []byte("body")}); err != nil {
		t.Fatalf("dealer send: %v", err)
	}

	frames, err := router.RecvMultipart()
	if err != nil {
		t.Fatalf("router recv: %v", err)
	}
	if len(frames) != 3 || len(frames[1]) != 0 || string(frames[2]) != "body" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestPushPull(t *testing.T) {
	net := NewNetwork()
	f := NewFactory(net)

	pull, err := f.NewPullBind("ingress")
	if err != nil {
		t.Fatalf("bind pull: %v", err)
	}
	defer pull.Close()

	push, err := f.NewPushConnect("ingress")
	if err != nil {
		t.Fatalf("connect push: %v", err)
	}
	defer push.Close()

	if err := push.SendMultipart([][]byte{[]byte("topic"), []byte("body")}); err != nil {
		t.Fatalf("push send: %v", err)
	}

	frames, err := pull.RecvMultipart()
	if err != nil {
		t.Fatalf("pull recv: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "topic" || string(frames[1]) != "body" {
		t.Errorf("got %v", frames)
	}
}

func TestPubSubPrefixFiltering(t *testing.T) {
	net := NewNetwork()
	f := NewFactory(net)

	pub, err := f.NewPubBind("egress")
	if err != nil {
		t.Fatalf("bind pub: %v", err)
	}
	defer pub.Close()

	sensorSub, err := f.NewSubConnect("egress")
	if err != nil {
		t.Fatalf("connect sub: %v", err)
	}
	defer sensorSub.Close()
	sensorSub.(interface{ Subscribe(string) error }).Subscribe("sensor")

	weatherSub, err := f.NewSubConnect("egress")
	if err != nil {
		t.Fatalf("connect sub: %v", err)
	}
	defer weatherSub.Close()
	weatherSub.(interface{ Subscribe(string) error }).Subscribe("weather")

	if err := pub.SendMultipart([][]byte{[]byte("sensor"), []byte(`{"payload":5}`)}); err != nil {
		t.Fatalf("pub send: %v", err)
	}

	ready, err := sensorSub.Poll(200 * time.Millisecond)
	if err != nil || !ready {
		t.Fatalf("sensor sub poll: ready=%v err=%v", ready, err)
	}
	frames, err := sensorSub.RecvMultipart()
	if err != nil {
		t.Fatalf("sensor recv: %v", err)
	}
	if string(frames[0]) != "sensor" {
		t.Errorf("got topic %q", frames[0])
	}

	ready, err = weatherSub.Poll(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("weather poll: %v", err)
	}
	if ready {
		t.Error("weather subscriber should not have received the sensor publication")
	}
}
