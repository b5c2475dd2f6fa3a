package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawstack/rawget/pkg/metrics"
)

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.Send == nil || c.Recv == nil || c.ERecv == nil || c.Retry == nil || c.CksumFail == nil {
		t.Fatal("NewCollector() left a nil counter")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestCollector_Snapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.Send.Add(3)
	c.Recv.Add(2)
	c.Retry.Inc()
	c.CksumFail.Inc()

	snap := c.Snapshot()

	if snap.Send != 3 {
		t.Errorf("Snapshot().Send = %v, want 3", snap.Send)
	}
	if snap.Recv != 2 {
		t.Errorf("Snapshot().Recv = %v, want 2", snap.Recv)
	}
	if snap.ERecv != 0 {
		t.Errorf("Snapshot().ERecv = %v, want 0", snap.ERecv)
	}
	if snap.Retry != 1 {
		t.Errorf("Snapshot().Retry = %v, want 1", snap.Retry)
	}
	if snap.CksumFail != 1 {
		t.Errorf("Snapshot().CksumFail = %v, want 1", snap.CksumFail)
	}
}
