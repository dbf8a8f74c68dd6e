// Package steeringplugin implements SteeringPlugin: the service facade
// over SteeringStore that enriches steering rules with the destination
// port's MAC address and publishes fanout notifications via SteeringBus
// (spec §4.5). Grounded on the teacher's pattern of a thin service layer
// wrapping a Store (pkg/manager's command handlers called into Store
// directly; this package generalizes that facade shape to PVN's
// store+bus pair).
package steeringplugin

import (
	"fmt"

	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringbus"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringstore"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// Plugin is the SteeringPlugin facade.
type Plugin struct {
	store *steeringstore.Store
	bus   *steeringbus.Bus
}

// New wires a Plugin over an already-open store and bus.
func New(store *steeringstore.Store, bus *steeringbus.Bus) *Plugin {
	return &Plugin{store: store, bus: bus}
}

// Create persists rule, enriches it with the destination port's MAC
// address (overwrite_mac, empty if dest_neutron_port is nil), and publishes
// the enriched record as a create/update notification.
func (p *Plugin) Create(rule types.SteeringRule) (*types.NotifiedRule, error) {
	created, err := p.store.Create(rule)
	if err != nil {
		return nil, err
	}
	return p.notifyUpdate(created)
}

// CreateMany creates every rule independently, in order, failing on the
// first error (PVNOrchestrator's bulk assembly call, spec §4.3).
func (p *Plugin) CreateMany(rules []types.SteeringRule) ([]*types.NotifiedRule, error) {
	out := make([]*types.NotifiedRule, 0, len(rules))
	for i, rule := range rules {
		notified, err := p.Create(rule)
		if err != nil {
			return nil, fmt.Errorf("steeringplugin: create_many failed at index %d: %w", i, err)
		}
		out = append(out, notified)
	}
	return out, nil
}

// Delete removes rule id and publishes a delete notification. Idempotent:
// missing rules are treated as already deleted.
func (p *Plugin) Delete(id string) error {
	rule, err := p.store.Get(id)
	if err != nil {
		log.Logger.Warn().Str("rule_id", id).Msg("steering rule already absent on delete")
		return nil
	}
	if err := p.store.Delete(id); err != nil {
		return fmt.Errorf("steeringplugin: delete %s: %w", id, err)
	}

	notified := types.NotifiedRule{SteeringRule: *rule}
	p.bus.Publish(steeringbus.Notification{Kind: steeringbus.KindDelete, Rule: notified})
	return nil
}

// Get is a pass-through read; reads never notify (spec §4.5).
func (p *Plugin) Get(id string) (*types.SteeringRule, error) {
	return p.store.Get(id)
}

// GetPortSteering implements the get_port_steering RPC (spec §4.5): the
// direct-call request/response an agent uses to fetch every rule whose
// src_neutron_port is one of ports.
func (p *Plugin) GetPortSteering(ports []string) ([]types.NotifiedRule, error) {
	var out []types.NotifiedRule
	for _, port := range ports {
		rules, err := p.store.List(steeringstore.ListOptions{
			Filters: []steeringstore.Filter{{Field: "src_neutron_port", Values: []string{port}}},
		})
		if err != nil {
			return nil, fmt.Errorf("steeringplugin: get_port_steering for %s: %w", port, err)
		}
		for _, rule := range rules {
			notified, err := p.enrich(rule)
			if err != nil {
				return nil, err
			}
			out = append(out, *notified)
		}
	}
	return out, nil
}

// DeregisterPort forwards to the store's cascading port removal and
// publishes a delete notification for every rule the cascade removed.
func (p *Plugin) DeregisterPort(portID string) error {
	deleted, err := p.store.DeregisterPort(portID)
	if err != nil {
		return fmt.Errorf("steeringplugin: deregister port %s: %w", portID, err)
	}
	for _, rule := range deleted {
		p.bus.Publish(steeringbus.Notification{
			Kind: steeringbus.KindDelete,
			Rule: types.NotifiedRule{SteeringRule: *rule},
		})
	}
	return nil
}

// RegisterPort forwards to the store so Create's referential-integrity
// check and MAC enrichment can see this port.
func (p *Plugin) RegisterPort(port steeringstore.Port) error {
	return p.store.RegisterPort(port)
}

// EnsureBareDrop implements the startup side effect spec §6 describes:
// present-check via an exact-match list query, then create the bare
// DROP-marker rule ({src_neutron_port: portID, dest_neutron_port: null})
// if it does not already exist.
func (p *Plugin) EnsureBareDrop(portID string) error {
	existing, err := p.store.List(steeringstore.ListOptions{
		Filters: []steeringstore.Filter{
			{Field: "src_neutron_port", Values: []string{portID}},
			{Field: "dest_neutron_port", Values: []string{"null"}},
		},
	})
	if err != nil {
		return fmt.Errorf("steeringplugin: ensure_bare_drop list for %s: %w", portID, err)
	}
	if len(existing) > 0 {
		return nil
	}

	_, err = p.Create(types.SteeringRule{SrcNeutronPort: portID})
	if err != nil {
		return fmt.Errorf("steeringplugin: ensure_bare_drop create for %s: %w", portID, err)
	}
	return nil
}

func (p *Plugin) notifyUpdate(rule *types.SteeringRule) (*types.NotifiedRule, error) {
	notified, err := p.enrich(rule)
	if err != nil {
		return nil, err
	}
	p.bus.Publish(steeringbus.Notification{Kind: steeringbus.KindUpdate, Rule: *notified})
	return notified, nil
}

func (p *Plugin) enrich(rule *types.SteeringRule) (*types.NotifiedRule, error) {
	notified := types.NotifiedRule{SteeringRule: *rule}
	if rule.DestNeutronPort == nil {
		return &notified, nil
	}
	port, err := p.store.GetPort(*rule.DestNeutronPort)
	if err != nil {
		return nil, fmt.Errorf("steeringplugin: resolve dest port %s: %w", *rule.DestNeutronPort, err)
	}
	notified.OverwriteMAC = port.MAC
	return &notified, nil
}
