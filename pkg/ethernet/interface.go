package ethernet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rawstack/rawget/pkg/common"
)

// Interface is a raw AF_PACKET socket bound to a single network interface,
// used for both transmitting and receiving Ethernet frames. Opening one
// requires CAP_NET_RAW (root, in practice).
type Interface struct {
	name       string
	fd         int
	macAddress common.MACAddress
	index      int
}

// htons converts a 16-bit value from host to network byte order.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// OpenInterface opens ifname for raw packet capture and transmission.
func OpenInterface(ifname string) (*Interface, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", ifname, err)
	}

	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("invalid MAC address length: %d", len(iface.HardwareAddr))
	}
	var mac common.MACAddress
	copy(mac[:], iface.HardwareAddr)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create raw socket: %w (you may need root/sudo)", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}

	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind socket to interface: %w", err)
	}

	return &Interface{
		name:       ifname,
		fd:         fd,
		macAddress: mac,
		index:      iface.Index,
	}, nil
}

// Close releases the underlying socket.
func (i *Interface) Close() error {
	if i.fd >= 0 {
		return unix.Close(i.fd)
	}
	return nil
}

// Name returns the interface name.
func (i *Interface) Name() string {
	return i.name
}

// MACAddress returns the hardware address of this interface.
func (i *Interface) MACAddress() common.MACAddress {
	return i.macAddress
}

// Index returns the interface index.
func (i *Interface) Index() int {
	return i.index
}

// ReadFrame blocks until an Ethernet frame arrives or timeout elapses,
// whichever comes first. A timeout of 0 blocks indefinitely.
func (i *Interface) ReadFrame(timeout time.Duration) (*Frame, error) {
	if timeout > 0 {
		ready, err := i.poll(timeout)
		if err != nil {
			return nil, fmt.Errorf("poll raw socket: %w", err)
		}
		if !ready {
			return nil, errTimeout{}
		}
	}

	buf := make([]byte, HeaderSize+MaxPayloadSize)
	n, _, err := unix.Recvfrom(i.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to receive packet: %w", err)
	}

	frame, err := Parse(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}

	return frame, nil
}

// poll waits up to timeout for the socket to become readable.
func (i *Interface) poll(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(i.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

// WriteFrame sends an Ethernet frame out of the interface.
func (i *Interface) WriteFrame(frame *Frame) error {
	data := frame.Serialize()

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(uint16(frame.EtherType)),
		Ifindex:  i.index,
		Halen:    6,
	}
	copy(addr.Addr[:], frame.Destination[:])

	if err := unix.Sendto(i.fd, data, 0, addr); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}

	return nil
}

// errTimeout signals that ReadFrame's deadline elapsed with no frame ready.
// pkg/tcp retries on it and reports common.TimeoutError once its retry
// budget is spent.
type errTimeout struct{}

func (errTimeout) Error() string { return "ethernet: read timeout" }

// IsTimeout reports whether err was returned because a ReadFrame deadline
// elapsed rather than because of a socket failure.
func IsTimeout(err error) bool {
	_, ok := err.(errTimeout)
	return ok
}

// ListInterfaces returns the names of all up, non-loopback interfaces.
func ListInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		names = append(names, iface.Name)
	}

	return names, nil
}
