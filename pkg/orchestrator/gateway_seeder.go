package orchestrator

import (
	"fmt"

	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringplugin"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringstore"
)

// GatewaySeeder ensures the two gateway bare-DROP markers exist on
// startup (spec §2, §6's "Startup side effect").
type GatewaySeeder struct {
	plugin *steeringplugin.Plugin
}

// NewGatewaySeeder wires a GatewaySeeder over the plugin.
func NewGatewaySeeder(plugin *steeringplugin.Plugin) *GatewaySeeder {
	return &GatewaySeeder{plugin: plugin}
}

// Seed ensures {src_neutron_port: ingressPort, dest_neutron_port: null}
// and the egress analogue exist, using an exact-match list query before
// each POST for idempotence.
func (s *GatewaySeeder) Seed(ingressPort, egressPort string) error {
	// The gateway ports are well-known infra ports, not PVN-created ones;
	// register them so the store's referential-integrity check on Create
	// finds them.
	if err := s.plugin.RegisterPort(steeringstore.Port{ID: ingressPort}); err != nil {
		return fmt.Errorf("gateway_seeder: register ingress: %w", err)
	}
	if err := s.plugin.RegisterPort(steeringstore.Port{ID: egressPort}); err != nil {
		return fmt.Errorf("gateway_seeder: register egress: %w", err)
	}

	if err := s.plugin.EnsureBareDrop(ingressPort); err != nil {
		return fmt.Errorf("gateway_seeder: ingress: %w", err)
	}
	if err := s.plugin.EnsureBareDrop(egressPort); err != nil {
		return fmt.Errorf("gateway_seeder: egress: %w", err)
	}
	log.Logger.Info().Str("ingress_port", ingressPort).Str("egress_port", egressPort).Msg("gateway steering markers seeded")
	return nil
}
