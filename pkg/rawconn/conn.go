// Package rawconn is the byte-stream facade callers drive: Dial,
// Send, Recv, Close, and DumpMetrics. It owns the raw Ethernet
// interface, resolves the gateway's MAC address over ARP, and builds
// the pkg/tcp Engine that does the actual protocol work. This is the
// only package an HTTP-layer caller (internal/httpclient) needs to
// import.
package rawconn

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawstack/rawget/pkg/arp"
	"github.com/rawstack/rawget/pkg/common"
	"github.com/rawstack/rawget/pkg/ethernet"
	"github.com/rawstack/rawget/pkg/linkinfo"
	"github.com/rawstack/rawget/pkg/metrics"
	"github.com/rawstack/rawget/pkg/tcp"
)

// DefaultRecvBufSize is the bufsize Recv uses when the caller doesn't
// need a different size, matching the original tool's recv(bufsize=8192).
const DefaultRecvBufSize = 8192

// minSourcePort and maxSourcePort bound the randomized source port
// range from spec.md §3/§6: [0x7530, 0xFFFF].
const (
	minSourcePort = 0x7530
	maxSourcePort = 0xFFFF
)

// Options configures the Conn that Dial builds.
type Options struct {
	// Interface is the network interface to bind the raw socket to.
	Interface string

	// Timeout bounds the cumulative retry budget of any one blocking
	// phase (handshake, receive, teardown). Default 180s.
	Timeout time.Duration

	// Tick bounds every individual blocking wait. Default 2s.
	Tick time.Duration

	// Logger receives an Info event when the connection is dialed and
	// when it is closed, a Debug event for every TCP segment sent or
	// accepted, and an Error event when the peer resets the connection.
	// Retransmissions, checksum failures, and state transitions are not
	// logged. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Registerer receives the Prometheus counters backing DumpMetrics.
	// If nil, prometheus.DefaultRegisterer is used.
	Registerer prometheus.Registerer
}

// Conn is a single client-side TCP flow over a raw Ethernet socket. Its
// operations MUST be called in order Dial -> (Send|Recv)* -> Close;
// it is not safe for concurrent use.
type Conn struct {
	iface   *ethernet.Interface
	engine  *tcp.Engine
	metrics *metrics.Collector
	log     *slog.Logger
}

// Dial opens a raw Ethernet socket on opts.Interface, discovers local
// link facts, resolves the gateway's MAC over ARP, and performs the
// TCP three-way handshake against host:port. host is resolved via the
// OS resolver if it isn't already a dotted-quad literal.
func Dial(host string, port uint16, opts Options) (*Conn, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.Tick == 0 {
		opts.Tick = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	facts, err := linkinfo.Discover(opts.Interface)
	if err != nil {
		return nil, err
	}

	destIP, err := resolveHost(host)
	if err != nil {
		return nil, common.NewConfigError("resolve host", err)
	}

	iface, err := ethernet.OpenInterface(opts.Interface)
	if err != nil {
		return nil, common.NewLinkError("open interface", err)
	}

	maxRetries := int(opts.Timeout / opts.Tick)
	if maxRetries < 1 {
		maxRetries = 1
	}

	resolver := arp.NewResolver(iface, facts.LocalIP, opts.Tick, maxRetries)
	gatewayMAC, err := resolver.Resolve(facts.GatewayIP)
	if err != nil {
		iface.Close()
		return nil, common.NewLinkError("resolve gateway MAC", err)
	}

	mc := metrics.NewCollector(opts.Registerer)

	local := tcp.Endpoint{
		IP:   facts.LocalIP,
		MAC:  facts.LocalMAC,
		Port: randomSourcePort(),
	}
	peer := tcp.Endpoint{
		IP:   destIP,
		MAC:  gatewayMAC,
		Port: port,
	}

	engine := tcp.NewEngine(iface, local, peer, opts.Tick, maxRetries, mc, log)

	log.Info("rawconn dial",
		"interface", opts.Interface,
		"local_ip", local.IP.String(),
		"local_port", local.Port,
		"dest_ip", peer.IP.String(),
		"dest_port", peer.Port,
		"gateway_mac", gatewayMAC.String(),
	)

	if err := engine.Handshake(); err != nil {
		iface.Close()
		return nil, err
	}

	return &Conn{iface: iface, engine: engine, metrics: mc, log: log}, nil
}

// Send writes data to the connection, returning the number of bytes
// handed to the raw socket.
func (c *Conn) Send(data []byte) (int, error) {
	return c.engine.Send(data)
}

// Recv reads up to bufsize bytes' worth of in-order payload. bufsize <=
// 0 uses DefaultRecvBufSize. The second return value reports whether
// the peer's FIN was observed during this call — once true, the stream
// is complete and there is nothing left for a further Recv to read.
func (c *Conn) Recv(bufsize int) ([]byte, bool, error) {
	if bufsize <= 0 {
		bufsize = DefaultRecvBufSize
	}
	return c.engine.Recv(bufsize)
}

// Close runs the client-side FIN teardown and releases the raw socket.
func (c *Conn) Close() error {
	closeErr := c.engine.Close()
	if err := c.iface.Close(); err != nil && closeErr == nil {
		closeErr = common.NewLinkError("close interface", err)
	}
	c.log.Info("rawconn closed")
	return closeErr
}

// DumpMetrics renders the engine's send/recv/retry/checksum-failure
// counters as a human-readable summary alongside the raw snapshot, for
// callers that want to log or print it (mirroring the original tool's
// dump_metrics() -> (string, counters) shape).
func (c *Conn) DumpMetrics() (string, metrics.Snapshot) {
	snap := c.metrics.Snapshot()
	summary := fmt.Sprintf(
		"send: %.0f\nrecv: %.0f\nerecv: %.0f\nretry: %.0f\ncksumfail: %.0f",
		snap.Send, snap.Recv, snap.ERecv, snap.Retry, snap.CksumFail,
	)
	return summary, snap
}

// resolveHost converts host to an IPv4 address in network order, using
// the OS resolver unless host is already a dotted-quad literal.
func resolveHost(host string) (common.IPv4Address, error) {
	if addr, err := common.ParseIPv4(host); err == nil {
		return addr, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return common.IPv4Address{}, fmt.Errorf("lookup host %q: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			var addr common.IPv4Address
			copy(addr[:], v4)
			return addr, nil
		}
	}
	return common.IPv4Address{}, fmt.Errorf("host %q has no IPv4 address", host)
}

// randomSourcePort returns a random ephemeral port in
// [minSourcePort, maxSourcePort], matching spec.md's range.
func randomSourcePort() uint16 {
	return uint16(minSourcePort + rand.IntN(maxSourcePort-minSourcePort+1))
}
