package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("browserd_test", prometheus.NewRegistry())
}

func TestCollectorPool(t *testing.T) {
	c := newTestCollector(t)

	c.SetProcesses("pool-owned", 2)
	c.SetProcesses("externally-attached", 1)
	c.SetContexts(5)
	c.IncCapacityRejection()
	c.IncCapacityRejection()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.processes.WithLabelValues("pool-owned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processes.WithLabelValues("externally-attached")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.contexts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.capacityRejections))
}

func TestCollectorSessions(t *testing.T) {
	c := newTestCollector(t)

	c.SetSessions(3)
	c.IncSessionCreated("pool-owned")
	c.IncSessionClosed("idle")
	c.IncSessionClosed("explicit")
	c.IncSessionClosed("idle")
	c.IncReaperSweep()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsCreated.WithLabelValues("pool-owned")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsClosed.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reaperSweeps))
}

func TestCollectorCacheAndOperations(t *testing.T) {
	c := newTestCollector(t)

	c.CacheLookup("hit")
	c.CacheLookup("stale")
	c.ObserveOperation("navigate", "ok", 120*time.Millisecond)
	c.ObserveOperation("navigate", "invalid_url", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.operationDuration))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetProcesses("pool-owned", 1)
		c.SetContexts(1)
		c.IncCapacityRejection()
		c.SetSessions(1)
		c.IncSessionCreated("pool-owned")
		c.IncSessionClosed("idle")
		c.IncReaperSweep()
		c.CacheLookup("hit")
		c.ObserveOperation("click", "ok", time.Second)
	})
}
