// Command brokerd is the broker process: it loads a YAML config, binds
// the four endpoints over the selected transport, and runs until an
// interrupt or term signal asks it to shut down.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpisps/broker/broker"
	"github.com/rpisps/broker/transport"

	// Import transports to trigger self-registration via init().
	_ "github.com/rpisps/broker/transport/inproc"
	_ "github.com/rpisps/broker/transport/zmqtransport"
)

func main() {
	configPath := flag.String("config", "broker.yaml", "path to the broker's YAML configuration file")
	transportName := flag.String("transport", "zmq", `transport to bind: "zmq" or "inproc"`)
	joinTimeout := flag.Duration("join-timeout", 2*time.Second, "per-attempt timeout while waiting for planes to stop")
	flag.Parse()

	cfg, err := broker.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("brokerd: %v", err)
	}

	f, err := transport.Create(*transportName)
	if err != nil {
		log.Fatalf("brokerd: create transport: %v", err)
	}
	defer f.Close()

	b, err := broker.New(f, cfg)
	if err != nil {
		log.Fatalf("brokerd: %v", err)
	}

	if err := b.Start(); err != nil {
		log.Fatalf("brokerd: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	first := <-sigCh
	log.Printf("brokerd: received %s, stopping...", first)
	b.Stop()

	abort := make(chan struct{})
	go func() {
		<-sigCh
		log.Printf("brokerd: second signal received, aborting graceful wait")
		close(abort)
	}()

	if !b.Join(*joinTimeout, abort) {
		log.Printf("brokerd: shutdown aborted before all planes stopped")
		os.Exit(1)
	}

	log.Printf("brokerd: stopped")
}
