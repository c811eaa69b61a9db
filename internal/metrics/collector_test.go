package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveUpcall("read", time.Now(), nil)
	c.AddBytesRead(10)
	c.AddBytesWritten(10)
	c.RegisterLockGauges(func() int { return 0 }, func() int { return 0 })
	if err := c.Start(); err != nil {
		t.Fatalf("Start on nil collector: %v", err)
	}
}

func TestDisabledConfigYieldsNil(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	if c != nil {
		t.Fatal("disabled config should yield a nil collector")
	}
}

func TestObserveUpcall(t *testing.T) {
	c, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveUpcall("read", time.Now(), nil)
	c.ObserveUpcall("read", time.Now(), fmt.Errorf("boom"))
	c.ObserveUpcall("write", time.Now(), nil)

	if got := testutil.ToFloat64(c.upcallCounter.WithLabelValues("read")); got != 2 {
		t.Errorf("read upcalls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.errorCounter.WithLabelValues("read")); got != 1 {
		t.Errorf("read errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.upcallCounter.WithLabelValues("write")); got != 1 {
		t.Errorf("write upcalls = %v, want 1", got)
	}
}

func TestByteCounters(t *testing.T) {
	c, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.AddBytesRead(100)
	c.AddBytesRead(50)
	c.AddBytesWritten(7)

	if got := testutil.ToFloat64(c.bytesRead); got != 150 {
		t.Errorf("bytes read = %v, want 150", got)
	}
	if got := testutil.ToFloat64(c.bytesWritten); got != 7 {
		t.Errorf("bytes written = %v, want 7", got)
	}
}

func TestRegisterLockGauges(t *testing.T) {
	c, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	pathCount := 3
	c.RegisterLockGauges(func() int { return pathCount }, func() int { return 1 })

	families, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "bridgefs_path_lock_entries" {
			found = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
				t.Errorf("path lock gauge = %v, want 3", got)
			}
		}
	}
	if !found {
		t.Error("path lock gauge not registered")
	}
}
