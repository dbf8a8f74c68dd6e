// Package types holds the core data model shared by every PVN core
// component: PVN records, steering-rule records, and the PVN description
// submitted by a client.
package types

import "time"

// PVNStatus is the PVN state machine's current state (spec.md §3).
type PVNStatus string

const (
	StatusInitPorts    PVNStatus = "INIT_PORTS"
	StatusInitApps     PVNStatus = "INIT_APPS"
	StatusInitSteering PVNStatus = "INIT_STEERING"
	StatusActive       PVNStatus = "ACTIVE"
	StatusTearingDown  PVNStatus = "TEARING_DOWN"
	StatusDeleted      PVNStatus = "DELETED"
)

// Ethertype is the IP version a PVN or steering rule is scoped to.
type Ethertype int

const (
	EthertypeNone Ethertype = 0
	EthertypeIPv4 Ethertype = 4
	EthertypeIPv6 Ethertype = 6
)

// OpenFlow ethertype match values, distinct from the PVN-level Ethertype
// above which tracks IP version (4/6) rather than the wire value.
const (
	OFEtherTypeIPv4 = 0x0800
	OFEtherTypeIPv6 = 0x86DD
)

// IP protocol numbers the data plane is allowed to match on.
const (
	ProtocolTCP = 6
	ProtocolUDP = 17
)

// PVN is the in-memory record PVNModel maintains for one provisioned
// service chain. Identity is the monotonically increasing Id.
type PVN struct {
	ID         int64     `json:"id"`
	ClientIP   string    `json:"client_ip"`
	Ethertype  Ethertype `json:"ethertype"`
	Status     PVNStatus `json:"status"`
	PrevStatus PVNStatus `json:"prev_status,omitempty"` // status recorded just before entering TEARING_DOWN
	Ports      []string  `json:"ports"`                 // one Neutron-style port id per submitted app, index-aligned
	Apps       []string  `json:"apps"`                  // one container id per submitted app, index-aligned
	Steering   []string  `json:"steering"`               // steering-rule ids installed for this PVN
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers holding a PVN snapshot can never
// mutate PVNModel's internal state (spec.md §4.2, §9 "deep-copy snapshots").
func (p *PVN) Clone() *PVN {
	if p == nil {
		return nil
	}
	c := *p
	c.Ports = append([]string(nil), p.Ports...)
	c.Apps = append([]string(nil), p.Apps...)
	c.Steering = append([]string(nil), p.Steering...)
	return &c
}

// AppSpec describes one application slot in a PVN description. It can be
// submitted either as a bare image string or as {image, args}.
type AppSpec struct {
	Image string
	Args  []string
}

// Edge is a single steering directive within a Chain: route traffic from
// app index From to app index To, optionally qualified by classifier
// fields used to build the steering-rule match.
type Edge struct {
	From            int
	To              int
	Destination     *int // nil means "no destination classifier"; must be < len(apps)
	Protocol        *int
	SourcePort      *int
	DestinationPort *int
}

// Chain is an ordered set of edges sharing one traffic Origin.
type Chain struct {
	Origin int
	Edges  []Edge
}

// PVNDescription is the validated, parsed form of a client's declarative
// PVN submission (spec.md §4.1).
type PVNDescription struct {
	Apps   []AppSpec
	Chains []Chain
}

// SteeringRule is the data-plane record that rewrites destination MAC on
// matching packets, or drops them (spec.md §3). Identity is a UUID string.
type SteeringRule struct {
	ID                string
	ProjectID         string
	SrcNeutronPort    string
	DestNeutronPort   *string // nil => DROP rule
	SrcIP             *string
	DestIP            *string
	SrcPort           *int
	DestPort          *int
	Ethertype         *int // OFEtherTypeIPv4/IPv6; nil => must be expanded into both by the agent
	Protocol          *int // ProtocolTCP/ProtocolUDP or any 0-255 value
}

// Clone returns a deep copy of the rule.
func (r *SteeringRule) Clone() *SteeringRule {
	if r == nil {
		return nil
	}
	c := *r
	if r.DestNeutronPort != nil {
		v := *r.DestNeutronPort
		c.DestNeutronPort = &v
	}
	if r.SrcIP != nil {
		v := *r.SrcIP
		c.SrcIP = &v
	}
	if r.DestIP != nil {
		v := *r.DestIP
		c.DestIP = &v
	}
	if r.SrcPort != nil {
		v := *r.SrcPort
		c.SrcPort = &v
	}
	if r.DestPort != nil {
		v := *r.DestPort
		c.DestPort = &v
	}
	if r.Ethertype != nil {
		v := *r.Ethertype
		c.Ethertype = &v
	}
	if r.Protocol != nil {
		v := *r.Protocol
		c.Protocol = &v
	}
	return &c
}

// NotifiedRule is the payload published over SteeringBus: a SteeringRule
// enriched with the destination port's MAC address (spec.md §4.5).
type NotifiedRule struct {
	SteeringRule
	OverwriteMAC string // empty means "no destination MAC" (a DROP rule)
}

// IntPtr is a small convenience constructor used throughout validator and
// orchestrator code that builds Edge/SteeringRule optional fields.
func IntPtr(v int) *int { return &v }

// StringPtr is the string analogue of IntPtr.
func StringPtr(v string) *string { return &v }
