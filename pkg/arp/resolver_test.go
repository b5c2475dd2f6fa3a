package arp

import (
	"testing"

	"github.com/rawstack/rawget/pkg/common"
)

func TestCacheGetAdd(t *testing.T) {
	c := NewCache()

	if _, ok := c.Get(common.IPv4Address{192, 168, 1, 1}); ok {
		t.Fatal("Get() on empty cache returned ok = true")
	}

	mac := common.MACAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	ip := common.IPv4Address{192, 168, 1, 1}
	c.Add(ip, mac)

	got, ok := c.Get(ip)
	if !ok {
		t.Fatal("Get() after Add() returned ok = false")
	}
	if got != mac {
		t.Errorf("Get() = %v, want %v", got, mac)
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := NewCache()
	ip := common.IPv4Address{10, 0, 0, 1}

	c.Add(ip, common.MACAddress{0x01})
	c.Add(ip, common.MACAddress{0x02})

	got, ok := c.Get(ip)
	if !ok || got != (common.MACAddress{0x02}) {
		t.Errorf("Get() = %v, %v, want {0x02}, true", got, ok)
	}
}
