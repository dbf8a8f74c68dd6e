// Package ovsbridge defines Bridge: the integration-bridge collaborator
// AgentFlowManager drives to install and remove OpenFlow rules in the
// egress-accepted-normal table (spec §4.7). The OpenFlow rule installer on
// the switch is out of scope (spec §1); this package names the interface
// and a thin ovs-ofctl/ovs-vsctl-backed implementation, following the
// teacher's exec.Command-backed HostPortPublisher (pkg/network/hostports.go).
package ovsbridge

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/ethan-vanderheijden/pvn-project/pkg/flowmatch"
)

// Table is the OpenFlow table AgentFlowManager installs rules into: the
// bridge's egress-accepted-normal table.
const Table = 40

// Priority values flows are installed at (spec §4.7).
const (
	SteeringPriority = 100
	DropPriority     = 99
)

// Bridge is the integration-bridge collaborator.
type Bridge interface {
	// InstallSetFieldNormal installs a flow at SteeringPriority that
	// rewrites eth_dst to overwriteMAC and resubmits to NORMAL.
	InstallSetFieldNormal(ctx context.Context, match flowmatch.Match, overwriteMAC string) error
	// InstallDrop installs a flow at DropPriority that drops the packet.
	InstallDrop(ctx context.Context, match flowmatch.Match) error
	// Uninstall strictly removes the flow at priority matching match
	// exactly (both priority and match fields).
	Uninstall(ctx context.Context, priority int, match flowmatch.Match) error
	// GetOfport resolves vifID (a port's external id) to its local ofport.
	GetOfport(ctx context.Context, vifID string) (int, error)
}

// OVSBridge implements Bridge by shelling out to ovs-ofctl/ovs-vsctl
// against a named integration bridge.
type OVSBridge struct {
	bridgeName string
}

// New returns an OVSBridge bound to bridgeName (e.g. "br-int").
func New(bridgeName string) *OVSBridge {
	return &OVSBridge{bridgeName: bridgeName}
}

func matchString(match flowmatch.Match) string {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, match[k]))
	}
	return strings.Join(parts, ",")
}

// InstallSetFieldNormal installs SetField(eth_dst=overwriteMAC),
// Output(NORMAL) at SteeringPriority.
func (b *OVSBridge) InstallSetFieldNormal(ctx context.Context, match flowmatch.Match, overwriteMAC string) error {
	actions := fmt.Sprintf("mod_dl_dst:%s,NORMAL", overwriteMAC)
	flow := fmt.Sprintf("table=%d,priority=%d,%s,actions=%s", Table, SteeringPriority, matchString(match), actions)
	return b.addFlow(ctx, flow)
}

// InstallDrop installs a DROP at DropPriority.
func (b *OVSBridge) InstallDrop(ctx context.Context, match flowmatch.Match) error {
	flow := fmt.Sprintf("table=%d,priority=%d,%s,actions=drop", Table, DropPriority, matchString(match))
	return b.addFlow(ctx, flow)
}

func (b *OVSBridge) addFlow(ctx context.Context, flow string) error {
	cmd := exec.CommandContext(ctx, "ovs-ofctl", "add-flow", b.bridgeName, flow)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ovsbridge: add-flow %q: %w: %s", flow, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Uninstall removes the flow at priority matching match exactly (strict
// uninstall, per spec §4.7).
func (b *OVSBridge) Uninstall(ctx context.Context, priority int, match flowmatch.Match) error {
	flow := fmt.Sprintf("table=%d,priority=%d,%s", Table, priority, matchString(match))
	cmd := exec.CommandContext(ctx, "ovs-ofctl", "--strict", "del-flows", b.bridgeName, flow)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ovsbridge: del-flows %q: %w: %s", flow, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// GetOfport resolves a port's external_ids:iface-id to its ofport via
// ovs-vsctl, mirroring int_br.get_vif_port_by_id.
func (b *OVSBridge) GetOfport(ctx context.Context, vifID string) (int, error) {
	cmd := exec.CommandContext(ctx, "ovs-vsctl", "--bare", "--columns=ofport", "find", "Interface",
		fmt.Sprintf("external-ids:iface-id=%s", vifID))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ovsbridge: resolve ofport for %s: %w: %s", vifID, err, strings.TrimSpace(string(out)))
	}

	var ofport int
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return 0, fmt.Errorf("ovsbridge: no interface found for vif %s", vifID)
	}
	if _, err := fmt.Sscanf(trimmed, "%d", &ofport); err != nil {
		return 0, fmt.Errorf("ovsbridge: parse ofport output %q: %w", trimmed, err)
	}
	return ofport, nil
}
