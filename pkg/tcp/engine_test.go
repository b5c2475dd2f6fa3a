package tcp

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawstack/rawget/pkg/common"
	"github.com/rawstack/rawget/pkg/ip"
	"github.com/rawstack/rawget/pkg/metrics"
)

func testEngine() *Engine {
	local := Endpoint{IP: common.IPv4Address{192, 168, 1, 100}, Port: 40000}
	peer := Endpoint{IP: common.IPv4Address{93, 184, 216, 34}, Port: 80}

	return &Engine{
		local:   local,
		peer:    peer,
		reorder: make(map[uint32]*Segment),
		sm:      NewStateMachine(),
		metrics: metrics.NewCollector(prometheus.NewRegistry()),
	}
}

func TestEngine_IPExpected(t *testing.T) {
	e := testEngine()

	good := &ip.Packet{Version: ip.IPv4Version, Source: e.peer.IP, Protocol: common.ProtocolTCP}
	if !e.ipExpected(good) {
		t.Error("ipExpected() = false for a matching datagram, want true")
	}

	wrongSrc := &ip.Packet{Version: ip.IPv4Version, Source: common.IPv4Address{1, 2, 3, 4}, Protocol: common.ProtocolTCP}
	if e.ipExpected(wrongSrc) {
		t.Error("ipExpected() = true for a datagram from the wrong source, want false")
	}

	wrongProto := &ip.Packet{Version: ip.IPv4Version, Source: e.peer.IP, Protocol: common.ProtocolUDP}
	if e.ipExpected(wrongProto) {
		t.Error("ipExpected() = true for a non-TCP datagram, want false")
	}
}

func TestEngine_TCPExpected(t *testing.T) {
	e := testEngine()

	good := &Segment{SourcePort: e.peer.Port, DestinationPort: e.local.Port}
	if !e.tcpExpected(good) {
		t.Error("tcpExpected() = false for a matching segment, want true")
	}

	wrongPort := &Segment{SourcePort: 1234, DestinationPort: e.local.Port}
	if e.tcpExpected(wrongPort) {
		t.Error("tcpExpected() = true for a segment from the wrong port, want false")
	}
}

func TestEngine_DeliverAdvancesRcvNext(t *testing.T) {
	e := testEngine()
	e.rcvNext = 100

	seg := &Segment{SequenceNumber: 100, Data: []byte("hello")}
	payload := e.deliver(seg)

	if !bytes.Equal(payload, []byte("hello")) {
		t.Errorf("deliver() payload = %q, want %q", payload, "hello")
	}
	if e.rcvNext != 105 {
		t.Errorf("rcvNext = %d, want 105", e.rcvNext)
	}
}

func TestEngine_DeliverFinAdvancesOneExtra(t *testing.T) {
	e := testEngine()
	e.rcvNext = 100

	seg := &Segment{SequenceNumber: 100, Data: []byte("hi"), Flags: FlagFIN | FlagACK}
	e.deliver(seg)

	if e.rcvNext != 103 {
		t.Errorf("rcvNext after FIN segment = %d, want 103 (2 payload bytes + FIN)", e.rcvNext)
	}
}

func TestEngine_ReorderBufferDrainsInOrder(t *testing.T) {
	e := testEngine()
	e.rcvNext = 0

	// Segment 2 arrives before segment 1: buffer it.
	seg2 := &Segment{SequenceNumber: 5, Data: []byte("world"), Flags: FlagACK}
	if seg2.SequenceNumber > e.rcvNext {
		e.reorder[seg2.SequenceNumber] = seg2
	}

	// Segment 1 arrives in order: deliver it, then the buffer should drain.
	seg1 := &Segment{SequenceNumber: 0, Data: []byte("hello"), Flags: FlagACK}
	out := e.deliver(seg1)

	done := false
	for {
		buffered, ok := e.reorder[e.rcvNext]
		if !ok {
			break
		}
		delete(e.reorder, e.rcvNext)
		out = append(out, e.deliver(buffered)...)
		if buffered.Flags.FIN() {
			done = true
		}
	}

	if !bytes.Equal(out, []byte("helloworld")) {
		t.Errorf("drained output = %q, want %q", out, "helloworld")
	}
	if len(e.reorder) != 0 {
		t.Errorf("reorder buffer not empty after drain: %v", e.reorder)
	}
	if done {
		t.Error("done = true, want false: neither drained segment carried FIN")
	}
	if e.rcvNext != 10 {
		t.Errorf("rcvNext after drain = %d, want 10", e.rcvNext)
	}
}

// TestEngine_ReorderBufferDrainHonorsBufferedFin replays Recv's drain
// loop by hand: a FIN carried on a segment that arrived out of order and
// is only delivered once the reorder buffer drains must still be
// observed, and sndNext must follow that drained segment's ack.
func TestEngine_ReorderBufferDrainHonorsBufferedFin(t *testing.T) {
	e := testEngine()
	e.rcvNext = 0

	finSeg := &Segment{SequenceNumber: 5, AckNumber: 1000, Data: []byte("bye"), Flags: FlagACK | FlagFIN}
	e.reorder[finSeg.SequenceNumber] = finSeg

	seg1 := &Segment{SequenceNumber: 0, AckNumber: 999, Data: []byte("hello"), Flags: FlagACK}
	out := e.deliver(seg1)
	e.sndNext = seg1.AckNumber

	done := false
	for {
		buffered, ok := e.reorder[e.rcvNext]
		if !ok {
			break
		}
		delete(e.reorder, e.rcvNext)
		out = append(out, e.deliver(buffered)...)
		e.sndNext = buffered.AckNumber
		if buffered.Flags.FIN() {
			done = true
		}
	}

	if !bytes.Equal(out, []byte("hellobye")) {
		t.Errorf("drained output = %q, want %q", out, "hellobye")
	}
	if !done {
		t.Error("done = false, want true: drained segment carried FIN")
	}
	if e.sndNext != finSeg.AckNumber {
		t.Errorf("sndNext = %d, want %d (ack of the FIN-carrying drained segment)", e.sndNext, finSeg.AckNumber)
	}
	// 5 (seq of finSeg) + 3 (len("bye")) + 1 (FIN)
	if e.rcvNext != 9 {
		t.Errorf("rcvNext after FIN drain = %d, want 9", e.rcvNext)
	}
}

func TestErrUnexpectedFlags(t *testing.T) {
	err := errUnexpectedFlags(FlagRST)
	if err.Error() == "" {
		t.Error("errUnexpectedFlags.Error() returned empty string")
	}
}
