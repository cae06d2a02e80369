package metrics

import (
	"time"

	"github.com/cuemby/cocoasync/pkg/degraded"
	"github.com/cuemby/cocoasync/pkg/queue"
	"github.com/cuemby/cocoasync/pkg/quota"
	"github.com/cuemby/cocoasync/pkg/types"
)

var allStatuses = []types.OperationStatus{
	types.StatusPending,
	types.StatusSyncing,
	types.StatusFailed,
	types.StatusNeedsReview,
	types.StatusPendingAuth,
}

var allPriorities = []types.Priority{
	types.PriorityCritical,
	types.PriorityHigh,
	types.PriorityNormal,
	types.PriorityLow,
}

var allBands = []string{"normal", "warning", "purging_tier3", "purging_tier2", "emergency"}

var allModes = []degraded.Mode{
	degraded.ModeNormal,
	degraded.ModeQueuePressure,
	degraded.ModeReadOnlyAuth,
	degraded.ModeReadOnlyStorage,
}

// Collector periodically samples the queue, the quota manager, and the
// degraded-mode manager into gauges, for state that has no natural
// "on change" hook to push from directly.
type Collector struct {
	queue    *queue.Manager
	quota    *quota.Manager
	degraded *degraded.Manager
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over the given managers.
// quotaMgr and degradedMgr may be nil in a host that doesn't wire them.
func NewCollector(queueMgr *queue.Manager, quotaMgr *quota.Manager, degradedMgr *degraded.Manager) *Collector {
	return &Collector{
		queue:    queueMgr,
		quota:    quotaMgr,
		degraded: degradedMgr,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection on a 15-second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	c.collectQueueDepth()
	c.collectStorageQuota()
	c.collectDegradedMode()
}

func (c *Collector) collectQueueDepth() {
	if c.queue == nil {
		return
	}
	for _, status := range allStatuses {
		ops, err := c.queue.ListByStatus(status)
		if err != nil {
			continue
		}
		counts := make(map[types.Priority]int, len(allPriorities))
		for _, op := range ops {
			counts[op.Priority]++
		}
		for _, priority := range allPriorities {
			QueueDepth.WithLabelValues(string(status), string(priority)).Set(float64(counts[priority]))
		}
	}

	pending, err := c.queue.ListByStatus(types.StatusPending)
	if err != nil || len(pending) == 0 {
		QueueOldestAgeSeconds.Set(0)
		return
	}
	now := time.Now()
	var oldest time.Duration
	for _, op := range pending {
		if age := now.Sub(op.CreatedAt); age > oldest {
			oldest = age
		}
	}
	QueueOldestAgeSeconds.Set(oldest.Seconds())
}

func (c *Collector) collectStorageQuota() {
	if c.quota == nil {
		return
	}
	band, err := c.quota.CurrentBand(time.Now())
	if err != nil {
		return
	}
	StorageQuotaPercent.Set(float64(band.StoragePercent))

	active := bandLabel(band)
	for _, label := range allBands {
		v := 0.0
		if label == active {
			v = 1
		}
		StorageBand.WithLabelValues(label).Set(v)
	}
}

func bandLabel(b quota.Band) string {
	switch {
	case b.PurgeTier3:
		return "purging_tier3"
	case b.PurgeTier2:
		return "purging_tier2"
	default:
		return string(b.State)
	}
}

func (c *Collector) collectDegradedMode() {
	if c.degraded == nil {
		return
	}
	mode, err := c.degraded.Current(time.Now())
	if err != nil {
		return
	}
	for _, m := range allModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		DegradedMode.WithLabelValues(string(m)).Set(v)
	}
}
