package broker

import (
	"log"
	"time"

	"github.com/rpisps/broker/transport"
)

// Fanout is C5: it accepts value-update messages from any peer on its
// PULL ingress and re-broadcasts them as-is on its PUB egress, preserving
// the two-frame [topic, body] structure byte-for-byte (spec §4.5, §8
// property 5). No state is retained between messages.
type Fanout struct {
	pull         transport.Socket
	pub          transport.Socket
	pollInterval time.Duration
}

// NewFanout binds the ingress PULL and egress PUB sockets.
func NewFanout(f transport.Factory, ingressAddr, egressAddr string, pollInterval time.Duration) (*Fanout, error) {
	pull, err := f.NewPullBind(ingressAddr)
	if err != nil {
		return nil, err
	}
	pub, err := f.NewPubBind(egressAddr)
	if err != nil {
		pull.Close()
		return nil, err
	}
	return &Fanout{pull: pull, pub: pub, pollInterval: pollInterval}, nil
}

func (fo *Fanout) Run(terminate *Flag) {
	for !terminate.IsSet() {
		fo.tick()
	}
	log.Printf("[fanout] terminating")
}

func (fo *Fanout) tick() {
	ready, err := fo.pull.Poll(fo.pollInterval)
	if err != nil {
		log.Printf("[fanout] poll error: %v", err)
		return
	}
	if !ready {
		return
	}

	frames, err := fo.pull.RecvMultipart()
	if err != nil {
		log.Printf("[fanout] recv error: %v", err)
		return
	}
	if !isValidPublication(frames) {
		log.Printf("[fanout] dropping malformed publication (%d frames)", len(frames))
		return
	}
	if err := fo.pub.SendMultipart(frames); err != nil {
		log.Printf("[fanout] send error: %v", err)
	}
}

// isValidPublication requires the [topic, body] shape spec §6 mandates.
func isValidPublication(frames [][]byte) bool {
	return len(frames) == 2 && len(frames[0]) > 0
}

func (fo *Fanout) Close() error {
	err1 := fo.pull.Close()
	err2 := fo.pub.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
