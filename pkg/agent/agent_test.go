package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/flowmatch"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringbus"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringplugin"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringstore"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steeringstoreRuleSrc(srcPort string) types.SteeringRule {
	return types.SteeringRule{SrcNeutronPort: srcPort}
}

type installCall struct {
	kind     string // "setfield", "drop", "uninstall"
	priority int
	match    flowmatch.Match
	mac      string
}

type fakeBridge struct {
	mu      sync.Mutex
	calls   []installCall
	ofports map[string]int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{ofports: make(map[string]int)}
}

func (f *fakeBridge) InstallSetFieldNormal(ctx context.Context, match flowmatch.Match, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, installCall{kind: "setfield", match: match, mac: mac})
	return nil
}

func (f *fakeBridge) InstallDrop(ctx context.Context, match flowmatch.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, installCall{kind: "drop", match: match})
	return nil
}

func (f *fakeBridge) Uninstall(ctx context.Context, priority int, match flowmatch.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, installCall{kind: "uninstall", priority: priority, match: match})
	return nil
}

func (f *fakeBridge) GetOfport(ctx context.Context, vifID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ofport, ok := f.ofports[vifID]; ok {
		return ofport, nil
	}
	return 42, nil
}

func (f *fakeBridge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestSetup(t *testing.T) (*Manager, *steeringplugin.Plugin, *steeringbus.Bus, *fakeBridge) {
	t.Helper()
	store, err := steeringstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := steeringbus.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	plugin := steeringplugin.New(store, bus)
	bridge := newFakeBridge()
	mgr := New(plugin, bridge)
	mgr.Start(bus)
	t.Cleanup(func() { mgr.Stop(bus) })

	return mgr, plugin, bus, bridge
}

func TestHandlePort_InstallsExistingRules(t *testing.T) {
	mgr, plugin, _, bridge := newTestSetup(t)

	require.NoError(t, plugin.RegisterPort(steeringstore.Port{ID: "port-a"}))
	_, err := plugin.Create(steeringstoreRuleSrc("port-a"))
	require.NoError(t, err)

	require.NoError(t, mgr.HandlePort(context.Background(), "port-a", "vif-a"))
	assert.GreaterOrEqual(t, bridge.callCount(), 1)
}

func TestHandlePort_NoOpOnRetrack(t *testing.T) {
	mgr, plugin, _, bridge := newTestSetup(t)
	require.NoError(t, plugin.RegisterPort(steeringstore.Port{ID: "port-a"}))

	require.NoError(t, mgr.HandlePort(context.Background(), "port-a", "vif-a"))
	firstCount := bridge.callCount()

	require.NoError(t, mgr.HandlePort(context.Background(), "port-a", "vif-a"))
	assert.Equal(t, firstCount, bridge.callCount())
}

func TestUpdatePortSteering_OnlyAffectsTrackedPorts(t *testing.T) {
	mgr, plugin, _, bridge := newTestSetup(t)
	require.NoError(t, plugin.RegisterPort(steeringstore.Port{ID: "port-a"}))
	require.NoError(t, plugin.RegisterPort(steeringstore.Port{ID: "port-b"}))

	require.NoError(t, mgr.HandlePort(context.Background(), "port-a", "vif-a"))
	before := bridge.callCount()

	_, err := plugin.Create(steeringstoreRuleSrc("port-b"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, bridge.callCount())
}

func TestDeletePort_UninstallsTrackedRules(t *testing.T) {
	mgr, plugin, _, bridge := newTestSetup(t)
	require.NoError(t, plugin.RegisterPort(steeringstore.Port{ID: "port-a"}))
	_, err := plugin.Create(steeringstoreRuleSrc("port-a"))
	require.NoError(t, err)

	require.NoError(t, mgr.HandlePort(context.Background(), "port-a", "vif-a"))
	before := bridge.callCount()
	require.Greater(t, before, 0)

	mgr.DeletePort(context.Background(), "port-a")
	assert.Greater(t, bridge.callCount(), before)
}
