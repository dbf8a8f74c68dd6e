package orchestrator

import (
	"fmt"

	"github.com/ethan-vanderheijden/pvn-project/pkg/netapi"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// resolvedPort is index_to_port's result: the neutron-style port id and,
// where meaningful, the IP that disambiguates traffic through it.
type resolvedPort struct {
	portID string
	ip     string
}

// indexToPort resolves an app index (or the -1/len(apps) sentinels) to a
// port id and IP, per spec §4.3's _prepare_steering.
func (o *Orchestrator) indexToPort(idx int, ports []netapi.Port, clientIP string) resolvedPort {
	switch {
	case idx == -1:
		return resolvedPort{portID: o.cfg.Network.IngressPort, ip: clientIP}
	case idx == len(ports):
		return resolvedPort{portID: o.cfg.Network.EgressPort}
	default:
		p := ports[idx]
		return resolvedPort{portID: p.ID, ip: p.PrimaryIP}
	}
}

// ofEthertype returns the OpenFlow ethertype wire value matching the
// PVN's own IP version (spec §4.3: every chain-edge rule carries a
// concrete ethertype; the bare-port DROP rules assembleSteering adds carry
// none, and the agent expands those into one IPv4 and one IPv6 match).
func ofEthertype(pvnEthertype types.Ethertype) int {
	if pvnEthertype == types.EthertypeIPv4 {
		return types.OFEtherTypeIPv4
	}
	return types.OFEtherTypeIPv6
}

// prepareSteering translates one abstract chain edge into a concrete
// steering-rule body (spec §4.3's _prepare_steering).
func (o *Orchestrator) prepareSteering(chainOrigin int, clientIP string, pvnEthertype types.Ethertype, ports []netapi.Port, edge types.Edge) types.SteeringRule {
	from := o.indexToPort(edge.From, ports, clientIP)
	to := o.indexToPort(edge.To, ports, clientIP)
	origin := o.indexToPort(chainOrigin, ports, clientIP)

	rule := types.SteeringRule{
		SrcNeutronPort: from.portID,
		DestNeutronPort: types.StringPtr(to.portID),
		Ethertype:       types.IntPtr(ofEthertype(pvnEthertype)),
		Protocol:        edge.Protocol,
		SrcPort:         edge.SourcePort,
		DestPort:        edge.DestinationPort,
	}

	if origin.ip != "" {
		rule.SrcIP = types.StringPtr(origin.ip)
	}

	if edge.Destination != nil {
		dest := o.indexToPort(*edge.Destination, ports, clientIP)
		if dest.ip != "" {
			rule.DestIP = types.StringPtr(dest.ip)
		}
	}

	return rule
}

// assembleSteering builds every chain-edge rule plus one bare DROP rule
// per app port (spec §4.3) and bulk-creates them via SteeringPlugin,
// returning the created rule ids.
func (o *Orchestrator) assembleSteering(desc types.PVNDescription, clientIP string, pvnEthertype types.Ethertype, ports []netapi.Port) ([]string, error) {
	var bodies []types.SteeringRule

	for _, chain := range desc.Chains {
		for _, edge := range chain.Edges {
			bodies = append(bodies, o.prepareSteering(chain.Origin, clientIP, pvnEthertype, ports, edge))
		}
	}

	for _, port := range ports {
		bodies = append(bodies, types.SteeringRule{SrcNeutronPort: port.ID})
	}

	created, err := o.plugin.CreateMany(bodies)
	if err != nil {
		return nil, fmt.Errorf("assemble steering: %w", err)
	}

	ids := make([]string, len(created))
	for i, rule := range created {
		ids[i] = rule.ID
	}
	return ids, nil
}
