package metrics

import (
	"time"

	"github.com/cuemby/landscape/pkg/landscape"
)

// Collector periodically recounts a run's audit records from the
// landscape store and refreshes the point-in-time gauges. Unlike the
// event-driven counters (which the orchestrator does not update), a
// Collector's numbers are always a full, consistent snapshot — useful
// for a dashboard polling a long-running pipeline rather than for
// alerting on individual transitions.
type Collector struct {
	store  landscape.Store
	runID  string
	stopCh chan struct{}
}

// NewCollector creates a metrics collector bound to one run.
func NewCollector(store landscape.Store, runID string) *Collector {
	return &Collector{
		store:  store,
		runID:  runID,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	dump, err := c.store.Dump(c.runID)
	if err != nil {
		return
	}

	RunRowsTotal.WithLabelValues(c.runID).Set(float64(len(dump.Rows)))

	outcomeCounts := make(map[string]int)
	for _, o := range dump.TokenOutcomes {
		outcomeCounts[string(o.Outcome)]++
	}
	for outcome, count := range outcomeCounts {
		RunTokenOutcomes.WithLabelValues(c.runID, outcome).Set(float64(count))
	}

	batchCounts := make(map[string]int)
	for _, b := range dump.Batches {
		batchCounts[string(b.Status)]++
	}
	for status, count := range batchCounts {
		RunBatchesByStatus.WithLabelValues(c.runID, status).Set(float64(count))
	}
}
