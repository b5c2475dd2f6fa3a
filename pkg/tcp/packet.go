// Package tcp implements the slice of RFC 793 this stack needs: a
// fixed 20-byte segment header (no options), a 6-bit flag set, and the
// client-only handshake/teardown state machine that drives it.
package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/rawstack/rawget/pkg/common"
)

// HeaderLength is the TCP header length this stack emits: 20 bytes, no
// options. Parse also accepts longer headers and skips their options.
// MSS negotiation, window scaling, timestamps, SACK, and TCP Fast Open
// are out of scope.
const HeaderLength = 20

// Segment represents a TCP segment.
type Segment struct {
	SourcePort      uint16
	DestinationPort uint16
	SequenceNumber  uint32
	AckNumber       uint32
	Flags           Flags
	WindowSize      uint16
	Checksum        uint16
	UrgentPointer   uint16

	Data []byte
}

// Parse parses a TCP segment from raw bytes. A data offset greater than
// 5 (i.e. a header carrying options) is tolerated: the extra bytes are
// skipped and never interpreted, since no peer behavior this stack
// relies on is conveyed by an option.
func Parse(data []byte) (*Segment, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("TCP segment too short: %d bytes (minimum %d)", len(data), HeaderLength)
	}

	seg := &Segment{
		SourcePort:      binary.BigEndian.Uint16(data[0:2]),
		DestinationPort: binary.BigEndian.Uint16(data[2:4]),
		SequenceNumber:  binary.BigEndian.Uint32(data[4:8]),
		AckNumber:       binary.BigEndian.Uint32(data[8:12]),
	}

	dataOffset := data[12] >> 4
	seg.Flags = Flags(data[13])

	if dataOffset < 5 {
		return nil, fmt.Errorf("invalid data offset: %d (minimum 5)", dataOffset)
	}

	headerLength := int(dataOffset) * 4
	if len(data) < headerLength {
		return nil, fmt.Errorf("segment too short for header: %d bytes (expected %d)", len(data), headerLength)
	}

	seg.WindowSize = binary.BigEndian.Uint16(data[14:16])
	seg.Checksum = binary.BigEndian.Uint16(data[16:18])
	seg.UrgentPointer = binary.BigEndian.Uint16(data[18:20])

	if len(data) > headerLength {
		seg.Data = make([]byte, len(data)-headerLength)
		copy(seg.Data, data[headerLength:])
	}

	return seg, nil
}

// Serialize converts the TCP segment to bytes. It never emits options;
// the data offset is always 5. The checksum field is serialized as-is —
// use CalculateChecksum to compute it first.
func (s *Segment) Serialize() ([]byte, error) {
	buf := make([]byte, HeaderLength+len(s.Data))

	binary.BigEndian.PutUint16(buf[0:2], s.SourcePort)
	binary.BigEndian.PutUint16(buf[2:4], s.DestinationPort)
	binary.BigEndian.PutUint32(buf[4:8], s.SequenceNumber)
	binary.BigEndian.PutUint32(buf[8:12], s.AckNumber)

	buf[12] = 5 << 4 // data offset = 5 words, reserved bits = 0
	buf[13] = byte(s.Flags)

	binary.BigEndian.PutUint16(buf[14:16], s.WindowSize)
	binary.BigEndian.PutUint16(buf[16:18], s.Checksum)
	binary.BigEndian.PutUint16(buf[18:20], s.UrgentPointer)

	if len(s.Data) > 0 {
		copy(buf[HeaderLength:], s.Data)
	}

	return buf, nil
}

// pseudoHeaderChecksum serializes the segment and computes its checksum
// over the IPv4 TCP pseudo-header plus the segment bytes, exactly as
// RFC 793 §3.1 defines it.
func (s *Segment) pseudoHeaderChecksum(srcIP, dstIP common.IPv4Address) (uint16, error) {
	tcpData, err := s.Serialize()
	if err != nil {
		return 0, err
	}

	ph := common.PseudoHeader{
		SourceAddr:      srcIP,
		DestinationAddr: dstIP,
		Protocol:        common.ProtocolTCP,
		Length:          uint16(len(tcpData)),
	}

	return common.CalculateChecksumWithPseudoHeader(ph, tcpData), nil
}

// CalculateChecksum calculates the TCP checksum over the given
// pseudo-header and this segment's current contents.
func (s *Segment) CalculateChecksum(srcIP, dstIP common.IPv4Address) (uint16, error) {
	return s.pseudoHeaderChecksum(srcIP, dstIP)
}

// VerifyChecksum reports whether the segment's Checksum field is
// correct for the given pseudo-header.
func (s *Segment) VerifyChecksum(srcIP, dstIP common.IPv4Address) bool {
	sum, err := s.pseudoHeaderChecksum(srcIP, dstIP)
	if err != nil {
		return false
	}
	return sum == 0
}

// String returns a human-readable representation of the TCP segment.
func (s *Segment) String() string {
	return fmt.Sprintf("TCP{SrcPort=%d, DstPort=%d, Seq=%d, Ack=%d, Flags=%s, Win=%d, DataLen=%d}",
		s.SourcePort, s.DestinationPort, s.SequenceNumber, s.AckNumber, s.Flags, s.WindowSize, len(s.Data))
}

// NewSegment creates a new TCP segment with the given parameters.
func NewSegment(srcPort, dstPort uint16, seqNum, ackNum uint32, flags Flags, window uint16, data []byte) *Segment {
	return &Segment{
		SourcePort:      srcPort,
		DestinationPort: dstPort,
		SequenceNumber:  seqNum,
		AckNumber:       ackNum,
		Flags:           flags,
		WindowSize:      window,
		Data:            data,
	}
}
