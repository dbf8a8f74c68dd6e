package steeringbus

import (
	"testing"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FansOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	b.Publish(Notification{Kind: KindUpdate, Rule: types.NotifiedRule{SteeringRule: types.SteeringRule{ID: "r1"}}})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case n := <-sub:
			assert.Equal(t, KindUpdate, n.Kind)
			assert.Equal(t, "r1", n.Rule.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, ok := <-sub
	require.False(t, ok)
}
