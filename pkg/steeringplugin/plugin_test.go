package steeringplugin

import (
	"testing"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringbus"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringstore"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlugin(t *testing.T) (*Plugin, steeringbus.Subscriber) {
	t.Helper()
	store, err := steeringstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := steeringbus.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	sub := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(sub) })

	return New(store, bus), sub
}

func TestCreate_EnrichesWithDestinationMACAndNotifies(t *testing.T) {
	p, sub := newTestPlugin(t)

	require.NoError(t, p.RegisterPort(steeringstore.Port{ID: "src"}))
	require.NoError(t, p.RegisterPort(steeringstore.Port{ID: "dst", MAC: "aa:bb:cc:dd:ee:ff"}))

	dst := "dst"
	notified, err := p.Create(types.SteeringRule{SrcNeutronPort: "src", DestNeutronPort: &dst})
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", notified.OverwriteMAC)

	select {
	case n := <-sub:
		assert.Equal(t, steeringbus.KindUpdate, n.Kind)
		assert.Equal(t, notified.ID, n.Rule.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for create notification")
	}
}

func TestCreate_BareRuleHasNoOverwriteMAC(t *testing.T) {
	p, _ := newTestPlugin(t)
	require.NoError(t, p.RegisterPort(steeringstore.Port{ID: "src"}))

	notified, err := p.Create(types.SteeringRule{SrcNeutronPort: "src"})
	require.NoError(t, err)
	assert.Empty(t, notified.OverwriteMAC)
}

func TestDelete_Notifies(t *testing.T) {
	p, sub := newTestPlugin(t)
	require.NoError(t, p.RegisterPort(steeringstore.Port{ID: "src"}))

	notified, err := p.Create(types.SteeringRule{SrcNeutronPort: "src"})
	require.NoError(t, err)
	<-sub // drain the create notification

	require.NoError(t, p.Delete(notified.ID))

	select {
	case n := <-sub:
		assert.Equal(t, steeringbus.KindDelete, n.Kind)
		assert.Equal(t, notified.ID, n.Rule.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete notification")
	}
}

func TestGetPortSteering_ReturnsRulesForPort(t *testing.T) {
	p, sub := newTestPlugin(t)
	require.NoError(t, p.RegisterPort(steeringstore.Port{ID: "src"}))
	_, err := p.Create(types.SteeringRule{SrcNeutronPort: "src"})
	require.NoError(t, err)
	<-sub

	rules, err := p.GetPortSteering([]string{"src"})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "src", rules[0].SrcNeutronPort)
}

func TestDeregisterPort_NotifiesCascadedDeletes(t *testing.T) {
	p, sub := newTestPlugin(t)
	require.NoError(t, p.RegisterPort(steeringstore.Port{ID: "src"}))
	_, err := p.Create(types.SteeringRule{SrcNeutronPort: "src"})
	require.NoError(t, err)
	<-sub

	require.NoError(t, p.DeregisterPort("src"))

	select {
	case n := <-sub:
		assert.Equal(t, steeringbus.KindDelete, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cascade delete notification")
	}
}
