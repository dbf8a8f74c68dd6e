// Package agent implements AgentFlowManager: the host-local reconciler
// that maintains OpenFlow rules in the integration bridge's
// egress-accepted-normal table from steering-rule notifications (spec
// §4.7), following the teacher's mutex-guarded reconciler shape
// (pkg/reconciler/reconciler.go) generalized from a ticker-driven full
// resync to an event-driven one (notifications arrive over SteeringBus
// rather than being polled).
package agent

import (
	"context"
	"sync"

	"github.com/ethan-vanderheijden/pvn-project/pkg/flowmatch"
	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/metrics"
	"github.com/ethan-vanderheijden/pvn-project/pkg/ovsbridge"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringbus"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringplugin"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"github.com/rs/zerolog"
)

// portState is the per-port entry of steering_data (spec §4.7): the rules
// currently installed for the port, keyed by rule id, and its lazily
// resolved ofport.
type portState struct {
	rules       map[string]types.NotifiedRule
	targetOfport int
	ofportKnown bool
}

// Manager is the AgentFlowManager.
type Manager struct {
	plugin *steeringplugin.Plugin
	bridge ovsbridge.Bridge
	logger zerolog.Logger

	mu    sync.Mutex
	ports map[string]*portState

	sub    steeringbus.Subscriber
	stopCh chan struct{}
}

// New wires a Manager over the plugin (for the initial handle_port fetch)
// and the bridge (for flow install/uninstall).
func New(plugin *steeringplugin.Plugin, bridge ovsbridge.Bridge) *Manager {
	return &Manager{
		plugin: plugin,
		bridge: bridge,
		logger: log.WithComponent("agent"),
		ports:  make(map[string]*portState),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the bus and begins dispatching notifications in the
// background. bus.Subscribe happens here so Start/Stop bracket the
// subscription's lifetime.
func (m *Manager) Start(bus *steeringbus.Bus) {
	m.sub = bus.Subscribe()
	go m.run(bus)
}

// Stop ends the dispatch loop and unsubscribes.
func (m *Manager) Stop(bus *steeringbus.Bus) {
	close(m.stopCh)
	bus.Unsubscribe(m.sub)
}

func (m *Manager) run(bus *steeringbus.Bus) {
	for {
		select {
		case n, ok := <-m.sub:
			if !ok {
				return
			}
			m.dispatch(n)
		case <-m.stopCh:
			return
		}
	}
}

// dispatch is the single switch spec §9 calls for over the tagged
// notification sum, rather than reflection-keyed method lookup.
func (m *Manager) dispatch(n steeringbus.Notification) {
	switch n.Kind {
	case steeringbus.KindUpdate:
		m.UpdatePortSteering(n.Rule)
	case steeringbus.KindDelete:
		m.DeletePortSteering(n.Rule)
	default:
		m.logger.Warn().Int("kind", int(n.Kind)).Msg("malformed notification kind, ignoring")
	}
}

// HandlePort is the first-touch handler for a newly-seen port: it fetches
// the port's current rules via the plugin and installs each. Per spec §9's
// Open Question resolution, a repeat call for an already-tracked port is a
// no-op — no re-fetch/diff on retrack.
func (m *Manager) HandlePort(ctx context.Context, portID string, vifID string) error {
	m.mu.Lock()
	if _, tracked := m.ports[portID]; tracked {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ofport, err := m.bridge.GetOfport(ctx, vifID)
	if err != nil {
		m.logger.Warn().Err(err).Str("port_id", portID).Msg("failed to resolve ofport, deferring")
		ofport = 0
	}

	rules, err := m.plugin.GetPortSteering([]string{portID})
	if err != nil {
		return err
	}

	m.mu.Lock()
	state := &portState{rules: make(map[string]types.NotifiedRule), targetOfport: ofport, ofportKnown: ofport != 0}
	m.ports[portID] = state
	m.mu.Unlock()

	for _, rule := range rules {
		m.installForPort(ctx, portID, rule)
	}
	return nil
}

// DeletePort uninstalls every rule tracked for portID and drops the entry.
func (m *Manager) DeletePort(ctx context.Context, portID string) {
	m.mu.Lock()
	state, ok := m.ports[portID]
	if ok {
		delete(m.ports, portID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	for _, rule := range state.rules {
		m.uninstall(ctx, state.targetOfport, rule)
	}
}

// UpdatePortSteering handles a create/update notification: if the port is
// tracked, uninstalls any prior rule sharing the id, stores the new one,
// and installs it.
func (m *Manager) UpdatePortSteering(rule types.NotifiedRule) {
	ctx := context.Background()

	m.mu.Lock()
	state, ok := m.ports[rule.SrcNeutronPort]
	m.mu.Unlock()
	if !ok {
		return
	}

	if prior, had := state.rules[rule.ID]; had {
		m.uninstall(ctx, state.targetOfport, prior)
	}

	m.mu.Lock()
	state.rules[rule.ID] = rule
	m.mu.Unlock()

	m.install(ctx, state.targetOfport, rule)
}

// DeletePortSteering handles a delete notification: if the port is tracked
// and the rule id present, removes it and uninstalls.
func (m *Manager) DeletePortSteering(rule types.NotifiedRule) {
	m.mu.Lock()
	state, ok := m.ports[rule.SrcNeutronPort]
	if !ok {
		m.mu.Unlock()
		return
	}
	prior, had := state.rules[rule.ID]
	if had {
		delete(state.rules, rule.ID)
	}
	m.mu.Unlock()

	if had {
		m.uninstall(context.Background(), state.targetOfport, prior)
	}
}

// TrackedPortCount returns the number of ports currently tracked, for the
// metrics collector's gauge.
func (m *Manager) TrackedPortCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ports)
}

func (m *Manager) installForPort(ctx context.Context, portID string, rule types.NotifiedRule) {
	m.mu.Lock()
	state := m.ports[portID]
	state.rules[rule.ID] = rule
	ofport := state.targetOfport
	m.mu.Unlock()

	m.install(ctx, ofport, rule)
}

func (m *Manager) install(ctx context.Context, ofport int, rule types.NotifiedRule) {
	for _, match := range flowmatch.Prepare(rule, ofport) {
		var err error
		action := "drop"
		if rule.OverwriteMAC != "" {
			action = "set_field_normal"
			err = m.bridge.InstallSetFieldNormal(ctx, match, rule.OverwriteMAC)
		} else {
			err = m.bridge.InstallDrop(ctx, match)
		}
		if err != nil {
			m.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to install flow")
			metrics.FlowInstallsTotal.WithLabelValues(action, "error").Inc()
			continue
		}
		metrics.FlowInstallsTotal.WithLabelValues(action, "ok").Inc()
	}
}

func (m *Manager) uninstall(ctx context.Context, ofport int, rule types.NotifiedRule) {
	priority := ovsbridge.DropPriority
	if rule.OverwriteMAC != "" {
		priority = ovsbridge.SteeringPriority
	}
	for _, match := range flowmatch.Prepare(rule, ofport) {
		if err := m.bridge.Uninstall(ctx, priority, match); err != nil {
			m.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to uninstall flow")
			metrics.FlowUninstallsTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.FlowUninstallsTotal.WithLabelValues("ok").Inc()
	}
}
