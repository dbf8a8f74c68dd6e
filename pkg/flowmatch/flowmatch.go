// Package flowmatch builds OpenFlow match field sets from steering rules,
// implementing AgentFlowManager's _prepare_matches (spec §4.7): ethertype
// expansion, and per-ethertype L3/L4 field selection.
package flowmatch

import (
	"fmt"

	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// Match is one OpenFlow match: a set of field=value pairs keyed the way
// ovs-ofctl expects them (in_port, eth_type, ipv4_src, tcp_dst, ...).
type Match map[string]string

// Prepare builds the match(es) for rule installed on ofport. If the rule's
// ethertype is null it returns exactly two matches, one IPv4 and one IPv6,
// with identical remaining fields (spec invariant: avoids accidentally
// steering L2 traffic like ARP).
func Prepare(rule types.NotifiedRule, ofport int) []Match {
	if rule.Ethertype == nil {
		return []Match{
			build(rule, ofport, types.OFEtherTypeIPv4),
			build(rule, ofport, types.OFEtherTypeIPv6),
		}
	}
	return []Match{build(rule, ofport, *rule.Ethertype)}
}

func build(rule types.NotifiedRule, ofport, ofEtherType int) Match {
	m := Match{
		"in_port":  fmt.Sprintf("%d", ofport),
		"eth_type": fmt.Sprintf("0x%04x", ofEtherType),
	}

	if ofEtherType == types.OFEtherTypeIPv4 {
		if rule.SrcIP != nil {
			m["ipv4_src"] = *rule.SrcIP
		}
		if rule.DestIP != nil {
			m["ipv4_dst"] = *rule.DestIP
		}
	} else {
		if rule.SrcIP != nil {
			m["ipv6_src"] = *rule.SrcIP
		}
		if rule.DestIP != nil {
			m["ipv6_dst"] = *rule.DestIP
		}
	}

	if rule.Protocol != nil {
		switch *rule.Protocol {
		case types.ProtocolTCP:
			if rule.SrcPort != nil {
				m["tcp_src"] = fmt.Sprintf("%d", *rule.SrcPort)
			}
			if rule.DestPort != nil {
				m["tcp_dst"] = fmt.Sprintf("%d", *rule.DestPort)
			}
		case types.ProtocolUDP:
			if rule.SrcPort != nil {
				m["udp_src"] = fmt.Sprintf("%d", *rule.SrcPort)
			}
			if rule.DestPort != nil {
				m["udp_dst"] = fmt.Sprintf("%d", *rule.DestPort)
			}
		}
	}

	return m
}
