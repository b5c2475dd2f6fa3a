// Package ethernet implements Ethernet II frame encoding and decoding for
// Layer 2 communication over a raw AF_PACKET socket.
package ethernet

import (
	"encoding/binary"
	"fmt"

	"github.com/rawstack/rawget/pkg/common"
)

// Ethernet II frame format:
// +-------------------+-------------------+----------+---------+
// | Destination (6B)  | Source (6B)       | Type (2B)| Payload |
// +-------------------+-------------------+----------+---------+
//
// This codec never pads the payload and never emits or expects a trailing
// FCS: both are the kernel's job on a raw socket, not ours.

const (
	// HeaderSize is the size of an Ethernet header (14 bytes).
	HeaderSize = 14

	// MaxPayloadSize is the maximum payload size (1500 bytes, MTU).
	MaxPayloadSize = 1500
)

// Frame represents an Ethernet II frame.
type Frame struct {
	Destination common.MACAddress
	Source      common.MACAddress
	EtherType   common.EtherType
	Payload     []byte
}

// Parse decodes an Ethernet frame from raw bytes captured off a raw socket.
func Parse(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("ethernet frame too short: %d bytes", len(data))
	}

	frame := &Frame{}
	copy(frame.Destination[:], data[0:6])
	copy(frame.Source[:], data[6:12])
	frame.EtherType = common.EtherType(binary.BigEndian.Uint16(data[12:14]))
	frame.Payload = data[HeaderSize:]

	return frame, nil
}

// Serialize converts the frame to bytes for transmission. No padding is
// added: a raw AF_PACKET socket transmits exactly what it is given, and the
// spec this stack implements forbids padding the payload to a minimum
// frame size.
func (f *Frame) Serialize() []byte {
	frame := make([]byte, HeaderSize+len(f.Payload))

	copy(frame[0:6], f.Destination[:])
	copy(frame[6:12], f.Source[:])
	binary.BigEndian.PutUint16(frame[12:14], uint16(f.EtherType))
	copy(frame[HeaderSize:], f.Payload)

	return frame
}

// Size returns the total size of the frame in bytes.
func (f *Frame) Size() int {
	return HeaderSize + len(f.Payload)
}

// String returns a human-readable representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Ethernet{Dst=%s, Src=%s, Type=%s, PayloadLen=%d}",
		f.Destination, f.Source, f.EtherType, len(f.Payload))
}

// IsBroadcast returns true if this is a broadcast frame.
func (f *Frame) IsBroadcast() bool {
	return f.Destination.IsBroadcast()
}

// IsMulticast returns true if this is a multicast frame.
func (f *Frame) IsMulticast() bool {
	return f.Destination.IsMulticast()
}

// IsUnicast returns true if this is a unicast frame.
func (f *Frame) IsUnicast() bool {
	return !f.IsBroadcast() && !f.IsMulticast()
}

// NewFrame creates a new Ethernet frame.
func NewFrame(dst, src common.MACAddress, etherType common.EtherType, payload []byte) *Frame {
	return &Frame{
		Destination: dst,
		Source:      src,
		EtherType:   etherType,
		Payload:     payload,
	}
}
