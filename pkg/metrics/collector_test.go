package metrics

import (
	"testing"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	pvns []*types.PVN
}

func (f *fakeLister) List() []*types.PVN {
	return f.pvns
}

type fakeTracker struct {
	count int
}

func (f *fakeTracker) TrackedPortCount() int {
	return f.count
}

func TestCollector_CollectsPVNAndAgentGauges(t *testing.T) {
	lister := &fakeLister{pvns: []*types.PVN{
		{ID: 1, Status: types.StatusActive, Ports: []string{"p1"}, Apps: []string{"c1"}, Steering: []string{"r1", "r2"}},
		{ID: 2, Status: types.StatusDeleted, Ports: []string{"p2"}},
		{ID: 3, Status: types.StatusInitPorts},
	}}
	tracker := &fakeTracker{count: 4}

	c := NewCollector(lister, tracker)
	c.collect()

	assert.Equal(t, float64(1), testutil.ToFloat64(PVNsTotal.WithLabelValues(string(types.StatusActive))))
	assert.Equal(t, float64(1), testutil.ToFloat64(PVNsTotal.WithLabelValues(string(types.StatusDeleted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(PVNsTotal.WithLabelValues(string(types.StatusInitPorts))))
	assert.Equal(t, float64(1), testutil.ToFloat64(PortsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(ContainersTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(SteeringRulesTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(TrackedPortsTotal))
}

func TestCollector_NoAgentSkipsTrackedPorts(t *testing.T) {
	lister := &fakeLister{}
	c := NewCollector(lister, nil)
	c.collect() // must not panic with a nil agent
}

func TestCollector_StartStop(t *testing.T) {
	c := NewCollector(&fakeLister{}, nil)
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}
