package metrics

import (
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// pvnLister is the subset of pvnmodel.Model the collector polls. Kept as an
// interface so tests can supply a fake registry without wiring bbolt/bus.
type pvnLister interface {
	List() []*types.PVN
}

// portTracker is the subset of agent.Manager the collector polls when run
// on a host with an agent attached.
type portTracker interface {
	TrackedPortCount() int
}

// Collector periodically derives gauge values from PVNModel (and, on an
// agent host, AgentFlowManager) snapshots. Grounded on the teacher's
// Collector (pkg/metrics/collector.go): a ticker-driven background loop
// polling a central registry, generalized from cluster/raft state to PVN
// state.
type Collector struct {
	model  pvnLister
	agent  portTracker // nil on a control-plane-only host
	stopCh chan struct{}
}

// NewCollector creates a Collector over model. agent may be nil if this
// process does not run an AgentFlowManager.
func NewCollector(model pvnLister, agent portTracker) *Collector {
	return &Collector{
		model:  model,
		agent:  agent,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, matching the teacher's
// collection interval.
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
	c.collectPVNMetrics()
	if c.agent != nil {
		TrackedPortsTotal.Set(float64(c.agent.TrackedPortCount()))
	}
}

func (c *Collector) collectPVNMetrics() {
	pvns := c.model.List()

	statusCounts := make(map[types.PVNStatus]int)
	var ports, containers, rules int

	for _, pvn := range pvns {
		statusCounts[pvn.Status]++
		if pvn.Status == types.StatusDeleted {
			continue
		}
		ports += len(pvn.Ports)
		containers += len(pvn.Apps)
		rules += len(pvn.Steering)
	}

	for _, status := range []types.PVNStatus{
		types.StatusInitPorts,
		types.StatusInitApps,
		types.StatusInitSteering,
		types.StatusActive,
		types.StatusTearingDown,
		types.StatusDeleted,
	} {
		PVNsTotal.WithLabelValues(string(status)).Set(float64(statusCounts[status]))
	}

	PortsTotal.Set(float64(ports))
	ContainersTotal.Set(float64(containers))
	SteeringRulesTotal.Set(float64(rules))
}
