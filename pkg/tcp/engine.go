package tcp

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rawstack/rawget/pkg/common"
	"github.com/rawstack/rawget/pkg/ethernet"
	"github.com/rawstack/rawget/pkg/ip"
	"github.com/rawstack/rawget/pkg/metrics"
)

// SendWindow is the fixed number of payload bytes carried by one
// outbound segment. There is no congestion control and no negotiated
// MSS: every chunk but the last is exactly this size.
const SendWindow = 64

// RecvWindow is the window size this stack advertises in every segment
// it sends.
const RecvWindow = 65535

// Endpoint identifies one side of the connection this Engine drives.
type Endpoint struct {
	IP   common.IPv4Address
	MAC  common.MACAddress
	Port uint16
}

// Engine is a single-threaded TCP control block: it owns the send and
// receive sequence state, the one-frame retransmission buffer, and the
// out-of-order reassembly map for exactly one client-initiated
// connection. It is not safe for concurrent use — every operation is
// expected to run on the caller's own goroutine, matching the blocking,
// cooperative model the rest of this stack uses.
type Engine struct {
	iface *ethernet.Interface
	local Endpoint
	peer  Endpoint

	tick       time.Duration
	maxRetries int

	sndNext uint32
	rcvNext uint32

	lastSentFrame []byte
	reorder       map[uint32]*Segment

	sm *StateMachine

	metrics *metrics.Collector
	log     *slog.Logger
}

// NewEngine builds an Engine bound to iface, addressing traffic between
// local and peer. tick bounds every blocking wait; maxRetries bounds the
// number of retries any one blocking phase (handshake, receive,
// teardown) will attempt before failing with a TimeoutError.
func NewEngine(iface *ethernet.Interface, local, peer Endpoint, tick time.Duration, maxRetries int, mc *metrics.Collector, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		iface:      iface,
		local:      local,
		peer:       peer,
		tick:       tick,
		maxRetries: maxRetries,
		sndNext:    uint32(rand.IntN(0xFFFF) + 1),
		reorder:    make(map[uint32]*Segment),
		sm:         NewStateMachine(),
		metrics:    mc,
		log:        log,
	}
}

// State returns the engine's current connection state.
func (e *Engine) State() State {
	return e.sm.GetState()
}

// Handshake runs the client-side three-way handshake: send SYN, await
// SYN+ACK, send ACK.
func (e *Engine) Handshake() error {
	if err := e.sm.Transition(EventActiveOpen); err != nil {
		return common.NewProtocolError("handshake", err)
	}

	if err := e.sendSegment(FlagSYN, nil); err != nil {
		return err
	}

	seg, err := e.recvSegmentRaw()
	if err != nil {
		return err
	}
	if !seg.Flags.Has(FlagSYN | FlagACK) {
		return common.NewProtocolError("handshake", errUnexpectedFlags(seg.Flags))
	}

	e.sndNext = seg.AckNumber
	e.rcvNext = seg.SequenceNumber + 1

	if err := e.sm.Transition(EventReceiveSynAck); err != nil {
		return common.NewProtocolError("handshake", err)
	}

	return e.sendSegment(FlagACK, nil)
}

// Send hands data to the connection, splitting it into SendWindow-sized
// chunks. It returns once every byte has been handed to the raw socket;
// no per-chunk acknowledgement is awaited here — acknowledgements are
// processed only as part of Recv.
func (e *Engine) Send(data []byte) (int, error) {
	total := len(data)
	sent := 0

	for sent < total {
		end := sent + SendWindow
		if end > total {
			end = total
		}
		chunk := data[sent:end]

		if err := e.sendSegment(FlagACK, chunk); err != nil {
			return sent, err
		}
		sent += len(chunk)
	}

	return total, nil
}

// Recv reads bufsize bytes' worth of in-order payload, sized to ingest
// one HTTP response: it runs ceil(bufsize/RecvWindow)+1 receive rounds,
// each accumulating up to RecvWindow bytes into in_order_buf before
// being flushed to the result. It returns as soon as the peer's FIN is
// observed rather than waiting out every round, reporting that back to
// the caller via its second return value so a caller driving repeated
// Recv calls (e.g. to cover a response bigger than one call's round
// budget) knows not to call again once the stream is actually done.
func (e *Engine) Recv(bufsize int) ([]byte, bool, error) {
	rounds := (bufsize+RecvWindow-1)/RecvWindow + 1

	var out []byte

	for round := 0; round < rounds; round++ {
		var inOrderBuf []byte
		done := false

		for len(inOrderBuf) < RecvWindow {
			seg, err := e.recvSegmentRaw()
			if err != nil {
				return append(out, inOrderBuf...), false, err
			}

			switch {
			case seg.SequenceNumber == e.rcvNext && seg.Flags.ACK():
				inOrderBuf = append(inOrderBuf, e.deliver(seg)...)
				e.sndNext = seg.AckNumber
				if seg.Flags.FIN() {
					done = true
				}

				for {
					buffered, ok := e.reorder[e.rcvNext]
					if !ok {
						break
					}
					delete(e.reorder, e.rcvNext)
					inOrderBuf = append(inOrderBuf, e.deliver(buffered)...)
					e.sndNext = buffered.AckNumber
					if buffered.Flags.FIN() {
						done = true
					}
				}

				if err := e.sendSegment(FlagACK, nil); err != nil {
					return append(out, inOrderBuf...), false, err
				}
				if done {
					return append(out, inOrderBuf...), true, nil
				}

			case seg.SequenceNumber > e.rcvNext && seg.Flags.ACK():
				if _, exists := e.reorder[seg.SequenceNumber]; !exists {
					e.reorder[seg.SequenceNumber] = seg
				}

			default:
				// Drop silently and loop: stale retransmission, a
				// duplicate already buffered, or a segment with no ACK.
			}
		}

		out = append(out, inOrderBuf...)
		e.reorder = make(map[uint32]*Segment)
	}

	return out, false, nil
}

// deliver advances rcvNext past seg's payload (and its FIN, if any) and
// returns the payload bytes. rcvNext only ever advances this way: by the
// length of a segment whose sequence number was exactly the prior
// rcvNext.
func (e *Engine) deliver(seg *Segment) []byte {
	e.rcvNext = seg.SequenceNumber + uint32(len(seg.Data))
	if seg.Flags.FIN() {
		e.rcvNext++
	}
	return seg.Data
}

// Close runs the client-side FIN teardown: send FIN+ACK, expect the
// peer's ACK, expect the peer's FIN, send the final ACK.
func (e *Engine) Close() error {
	if err := e.sm.Transition(EventClose); err != nil {
		return common.NewProtocolError("close", err)
	}

	if err := e.sendSegment(FlagFIN|FlagACK, nil); err != nil {
		return err
	}

	ackSeg, err := e.recvSegmentRaw()
	if err != nil {
		return err
	}
	if !ackSeg.Flags.ACK() {
		return common.NewProtocolError("close", errUnexpectedFlags(ackSeg.Flags))
	}
	if err := e.sm.Transition(EventReceiveAck); err != nil {
		return common.NewProtocolError("close", err)
	}

	finSeg, err := e.recvSegmentRaw()
	if err != nil {
		return err
	}
	if !finSeg.Flags.FIN() {
		return common.NewProtocolError("close", errUnexpectedFlags(finSeg.Flags))
	}

	e.sndNext = finSeg.AckNumber
	e.rcvNext = finSeg.SequenceNumber + 1

	if err := e.sm.Transition(EventReceiveFin); err != nil {
		return common.NewProtocolError("close", err)
	}

	return e.sendSegment(FlagACK, nil)
}

// sendSegment builds, checksums, and transmits a new (non-retry)
// segment, remembering it as lastSentFrame for any subsequent retry.
func (e *Engine) sendSegment(flags Flags, payload []byte) error {
	seg := NewSegment(e.local.Port, e.peer.Port, e.sndNext, e.rcvNext, flags, RecvWindow, payload)

	checksum, err := seg.CalculateChecksum(e.local.IP, e.peer.IP)
	if err != nil {
		return common.NewProtocolError("serialize segment", err)
	}
	seg.Checksum = checksum

	tcpBytes, err := seg.Serialize()
	if err != nil {
		return common.NewProtocolError("serialize segment", err)
	}

	pkt := ip.NewPacket(e.local.IP, e.peer.IP, common.ProtocolTCP, tcpBytes)
	ipBytes, err := pkt.Serialize()
	if err != nil {
		return common.NewProtocolError("serialize datagram", err)
	}

	frame := ethernet.NewFrame(e.peer.MAC, e.local.MAC, common.EtherTypeIPv4, ipBytes)
	frameBytes := frame.Serialize()

	if err := e.iface.WriteFrame(frame); err != nil {
		return common.NewLinkError("send frame", err)
	}

	e.lastSentFrame = frameBytes
	e.sndNext += uint32(len(payload))
	if flags.SYN() || flags.FIN() {
		e.sndNext++
	}

	e.metrics.Send.Inc()
	e.log.Debug("tcp send", "flags", flags, "seq", seg.SequenceNumber, "ack", seg.AckNumber, "len", len(payload))

	return nil
}

// recvSegmentRaw drives the ingress loop: read a frame, decode and
// filter it down to a TCP segment belonging to this flow, and retry
// (re-emitting lastSentFrame verbatim) on idle timeout or a checksum
// failure at either layer. It gives up after maxRetries retries.
func (e *Engine) recvSegmentRaw() (*Segment, error) {
	retries := e.maxRetries

	for {
		e.metrics.Recv.Inc()

		frame, err := e.iface.ReadFrame(e.tick)
		if err != nil {
			if ethernet.IsTimeout(err) {
				if retries <= 0 {
					return nil, common.NewTimeoutError("recv")
				}
				retries--
				if err := e.retry(); err != nil {
					return nil, err
				}
				continue
			}
			return nil, common.NewLinkError("read frame", err)
		}

		if frame.EtherType != common.EtherTypeIPv4 {
			continue
		}

		pkt, err := ip.Parse(frame.Payload)
		if err != nil {
			continue
		}
		if !e.ipExpected(pkt) {
			continue
		}
		if !pkt.VerifyChecksum() {
			if retries <= 0 {
				return nil, common.NewTimeoutError("recv")
			}
			retries--
			if err := e.retry(); err != nil {
				return nil, err
			}
			continue
		}

		seg, err := Parse(pkt.Payload)
		if err != nil {
			continue
		}
		if !e.tcpExpected(seg) {
			continue
		}
		if seg.Flags.RST() {
			e.log.Error("connection reset by peer")
			return nil, common.NewConnectionResetError()
		}
		if !seg.VerifyChecksum(e.local.IP, e.peer.IP) {
			e.metrics.CksumFail.Inc()
			if retries <= 0 {
				return nil, common.NewTimeoutError("recv")
			}
			retries--
			if err := e.retry(); err != nil {
				return nil, err
			}
			continue
		}

		e.metrics.ERecv.Inc()
		e.log.Debug("tcp recv", "flags", seg.Flags, "seq", seg.SequenceNumber, "ack", seg.AckNumber, "len", len(seg.Data))
		return seg, nil
	}
}

// retry re-emits lastSentFrame verbatim — it must not re-serialize, so
// the peer sees exactly the bytes it has (or hasn't) already received.
func (e *Engine) retry() error {
	e.metrics.Retry.Inc()

	frame, err := ethernet.Parse(e.lastSentFrame)
	if err != nil {
		return common.NewLinkError("retry", err)
	}
	if err := e.iface.WriteFrame(frame); err != nil {
		return common.NewLinkError("retry", err)
	}
	return nil
}

// ipExpected reports whether pkt could plausibly belong to this flow:
// IPv4, from the peer, carrying TCP.
func (e *Engine) ipExpected(pkt *ip.Packet) bool {
	return pkt.Version == ip.IPv4Version &&
		pkt.Source == e.peer.IP &&
		pkt.Protocol == common.ProtocolTCP
}

// tcpExpected reports whether seg belongs to this flow's port pair.
func (e *Engine) tcpExpected(seg *Segment) bool {
	return seg.SourcePort == e.peer.Port && seg.DestinationPort == e.local.Port
}

type errUnexpectedFlags Flags

func (e errUnexpectedFlags) Error() string {
	return "unexpected flags: " + Flags(e).String()
}
