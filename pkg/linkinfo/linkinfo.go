// Package linkinfo discovers the ambient facts a raw-socket TCP flow needs
// before it can send a single packet: the chosen interface's own IPv4
// address and MAC address, and the IPv4 address of the default gateway it
// must ARP for.
package linkinfo

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rawstack/rawget/pkg/common"
)

// Facts bundles the link-layer and network-layer facts about one
// interface that the engine needs to address its own packets.
type Facts struct {
	Interface string
	LocalIP   common.IPv4Address
	LocalMAC  common.MACAddress
	GatewayIP common.IPv4Address
}

// Discover gathers Facts for ifname: its IPv4 address, its MAC address,
// and the IPv4 address of its default gateway (read from the kernel's
// routing table). Any missing piece is a ConfigError — there is no
// sensible default for any of them.
func Discover(ifname string) (Facts, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return Facts{}, common.NewConfigError("discover interface", err)
	}

	localIP, err := localIPv4(iface)
	if err != nil {
		return Facts{}, common.NewConfigError("discover local IPv4", err)
	}

	if len(iface.HardwareAddr) != 6 {
		return Facts{}, common.NewConfigError("discover local MAC",
			fmt.Errorf("interface %s has no Ethernet hardware address", ifname))
	}
	var localMAC common.MACAddress
	copy(localMAC[:], iface.HardwareAddr)

	gatewayIP, err := defaultGatewayIPv4(ifname)
	if err != nil {
		return Facts{}, common.NewConfigError("discover default gateway", err)
	}

	return Facts{
		Interface: ifname,
		LocalIP:   localIP,
		LocalMAC:  localMAC,
		GatewayIP: gatewayIP,
	}, nil
}

// localIPv4 finds the first IPv4 address bound to iface.
func localIPv4(iface *net.Interface) (common.IPv4Address, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return common.IPv4Address{}, err
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		var ip common.IPv4Address
		copy(ip[:], v4)
		return ip, nil
	}

	return common.IPv4Address{}, fmt.Errorf("interface %s has no IPv4 address", iface.Name)
}

// defaultGatewayIPv4 scans /proc/net/route for iface's default route (the
// entry whose destination is 0.0.0.0), the same source the original
// raw_sockets tool reads, and returns its gateway address.
//
// /proc/net/route fields are whitespace-separated; the ones used here are:
//
//	Iface  Destination  Gateway  Flags  ...
//
// Destination and Gateway are little-endian hex uint32s.
func defaultGatewayIPv4(ifname string) (common.IPv4Address, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return common.IPv4Address{}, fmt.Errorf("open /proc/net/route: %w", err)
	}
	defer f.Close()

	return parseDefaultGateway(f, ifname)
}

// parseDefaultGateway scans /proc/net/route-formatted text for ifname's
// default route (the entry whose destination is 0.0.0.0) and returns its
// gateway address. Split out from defaultGatewayIPv4 so the parsing logic
// can be exercised without a real /proc filesystem.
func parseDefaultGateway(r io.Reader, ifname string) (common.IPv4Address, error) {
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header line

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[0] != ifname || fields[1] != "00000000" {
			continue
		}

		gw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return common.IPv4Address{}, fmt.Errorf("parse gateway field %q: %w", fields[2], err)
		}

		// Stored little-endian in /proc/net/route, unlike wire-format
		// IPv4 addresses.
		return common.IPv4Address{
			byte(gw),
			byte(gw >> 8),
			byte(gw >> 16),
			byte(gw >> 24),
		}, nil
	}
	if err := scanner.Err(); err != nil {
		return common.IPv4Address{}, fmt.Errorf("read /proc/net/route: %w", err)
	}

	return common.IPv4Address{}, fmt.Errorf("no default route found for interface %s in /proc/net/route", ifname)
}
