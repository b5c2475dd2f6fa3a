package arp

import (
	"fmt"
	"sync"
	"time"

	"github.com/rawstack/rawget/pkg/common"
	"github.com/rawstack/rawget/pkg/ethernet"
)

// Cache is a tiny, non-expiring map of IPv4 address to MAC address. Unlike a
// long-running stack, a single TCP flow only ever resolves the default
// gateway, so there is nothing to age out: a repeated Resolve on the same
// Resolver reuses the answer rather than re-ARP. Each Resolver starts with
// an empty cache, and rawconn.Dial builds a new Resolver on every call.
type Cache struct {
	mu      sync.Mutex
	entries map[common.IPv4Address]common.MACAddress
}

// NewCache creates an empty resolver cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[common.IPv4Address]common.MACAddress)}
}

// Get retrieves the MAC address cached for ip, if any.
func (c *Cache) Get(ip common.IPv4Address) (common.MACAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mac, ok := c.entries[ip]
	return mac, ok
}

// Add records ip -> mac.
func (c *Cache) Add(ip common.IPv4Address, mac common.MACAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = mac
}

// Resolver performs one-shot, blocking ARP resolution of a single IPv4
// address to a MAC address over a raw Ethernet interface. There is no
// background goroutine: resolution happens entirely inside Resolve, on the
// caller's goroutine, matching the single-threaded cooperative model the
// rest of this stack uses.
type Resolver struct {
	iface      *ethernet.Interface
	localIP    common.IPv4Address
	cache      *Cache
	tick       time.Duration
	maxRetries int
}

// NewResolver creates a Resolver bound to iface, announcing localIP as the
// sender address on outgoing requests. The one broadcast request is given
// up to maxRetries waits of tick each to draw a reply.
func NewResolver(iface *ethernet.Interface, localIP common.IPv4Address, tick time.Duration, maxRetries int) *Resolver {
	return &Resolver{
		iface:      iface,
		localIP:    localIP,
		cache:      NewCache(),
		tick:       tick,
		maxRetries: maxRetries,
	}
}

// Resolve maps targetIP to a MAC address, consulting the cache first and
// falling back to a single broadcast ARP request otherwise. It blocks until
// a matching reply arrives, maxRetries ticks pass without one, or an I/O
// error occurs on the interface.
func (r *Resolver) Resolve(targetIP common.IPv4Address) (common.MACAddress, error) {
	if mac, ok := r.cache.Get(targetIP); ok {
		return mac, nil
	}

	if err := r.sendRequest(targetIP); err != nil {
		return common.MACAddress{}, fmt.Errorf("arp: send request for %s: %w", targetIP, err)
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		mac, ok, err := r.awaitReply(targetIP)
		if err != nil {
			return common.MACAddress{}, err
		}
		if ok {
			r.cache.Add(targetIP, mac)
			return mac, nil
		}
	}

	return common.MACAddress{}, fmt.Errorf("arp: no reply for %s after %d ticks", targetIP, r.maxRetries)
}

// sendRequest broadcasts a "who has targetIP" ARP request.
func (r *Resolver) sendRequest(targetIP common.IPv4Address) error {
	packet := NewRequest(r.iface.MACAddress(), r.localIP, targetIP)
	frame := ethernet.NewFrame(
		common.BroadcastMAC,
		r.iface.MACAddress(),
		common.EtherTypeARP,
		packet.Serialize(),
	)
	return r.iface.WriteFrame(frame)
}

// awaitReply drains frames off the interface for up to one tick, looking
// for an ARP reply naming targetIP as the sender. Every other frame
// (non-ARP traffic, ARP requests, replies from any other sender) is
// discarded.
func (r *Resolver) awaitReply(targetIP common.IPv4Address) (common.MACAddress, bool, error) {
	deadline := time.Now().Add(r.tick)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return common.MACAddress{}, false, nil
		}

		frame, err := r.iface.ReadFrame(remaining)
		if err != nil {
			if ethernet.IsTimeout(err) {
				return common.MACAddress{}, false, nil
			}
			return common.MACAddress{}, false, err
		}

		if frame.EtherType != common.EtherTypeARP {
			continue
		}
		packet, err := Parse(frame.Payload)
		if err != nil {
			continue
		}
		if !packet.IsReply() {
			continue
		}
		if packet.SenderIP != targetIP {
			continue
		}

		return packet.SenderMAC, true, nil
	}
}
