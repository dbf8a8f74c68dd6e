// Package pvnvalidator implements PVNValidator: schema and semantic
// validation of a submitted PVN description, including the per-chain
// single-origin DAG check (spec.md §4.1).
package pvnvalidator

import (
	"encoding/json"
	"fmt"

	"github.com/ethan-vanderheijden/pvn-project/pkg/apperr"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// rawApp mirrors the wire shape "apps": [string | {image, args}].
type rawApp struct {
	Image string
	Args  []string
}

// UnmarshalJSON accepts either a bare image name string or an
// {"image": ..., "args": [...]} object.
func (a *rawApp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Image = s
		return nil
	}

	var obj struct {
		Image string   `json:"image"`
		Args  []string `json:"args"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("app entry must be a string or {image, args} object: %w", err)
	}
	a.Image = obj.Image
	a.Args = obj.Args
	return nil
}

type rawEdge struct {
	From            int  `json:"from"`
	To              int  `json:"to"`
	Destination     *int `json:"destination,omitempty"`
	Protocol        *int `json:"protocol,omitempty"`
	SourcePort      *int `json:"source_port,omitempty"`
	DestinationPort *int `json:"destination_port,omitempty"`
}

type rawChain struct {
	Origin int       `json:"origin"`
	Edges  []rawEdge `json:"edges"`
}

// RawDescription is the wire shape of a submitted PVN description, the
// input to Validate.
type RawDescription struct {
	Apps   []rawApp   `json:"apps"`
	Chains []rawChain `json:"chains"`
}

// UnmarshalRawDescription parses the JSON body of POST /v1/pvn's "pvn" field.
func UnmarshalRawDescription(data []byte) (RawDescription, error) {
	var raw RawDescription
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawDescription{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return raw, nil
}

// Validate runs the schema and semantic checks of spec.md §4.1 and
// returns the validated description, or a wrapped apperr.ErrValidation
// naming the first offending chain/edge.
func Validate(raw RawDescription) (types.PVNDescription, error) {
	if err := validateSchema(raw); err != nil {
		return types.PVNDescription{}, err
	}
	if err := validateSemantics(raw); err != nil {
		return types.PVNDescription{}, err
	}
	return toDescription(raw), nil
}

func fail(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperr.ErrValidation, fmt.Sprintf(format, args...))
}

func validateSchema(raw RawDescription) error {
	if len(raw.Apps) == 0 {
		return fail("apps must be a non-empty array")
	}
	if len(raw.Chains) == 0 {
		return fail("chains must be a non-empty array")
	}

	for ci, chain := range raw.Chains {
		if chain.Origin < -1 {
			return fail("chain %d has origin %d, must be >= -1", ci, chain.Origin)
		}
		if len(chain.Edges) == 0 {
			return fail("chain %d (origin %d) must have a non-empty edges array", ci, chain.Origin)
		}
		for ei, edge := range chain.Edges {
			if edge.From < -1 {
				return fail("chain %d edge %d has invalid from index: %d", ci, ei, edge.From)
			}
			if edge.To < -1 {
				return fail("chain %d edge %d has invalid to index: %d", ci, ei, edge.To)
			}
			if edge.Destination != nil && *edge.Destination < -1 {
				return fail("chain %d edge %d has invalid destination index: %d", ci, ei, *edge.Destination)
			}
			if err := validatePortAndProtocol(ci, ei, "source_port", edge.SourcePort, edge.Protocol); err != nil {
				return err
			}
			if err := validatePortAndProtocol(ci, ei, "destination_port", edge.DestinationPort, edge.Protocol); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePortAndProtocol(ci, ei int, field string, port, protocol *int) error {
	if port == nil {
		return nil
	}
	if *port < 1 || *port > 65535 {
		return fail("chain %d edge %d has %s %d out of range [1,65535]", ci, ei, field, *port)
	}
	if protocol == nil || (*protocol != types.ProtocolTCP && *protocol != types.ProtocolUDP) {
		return fail("chain %d edge %d sets %s but protocol must be 6 (TCP) or 17 (UDP)", ci, ei, field)
	}
	return nil
}

func validateSemantics(raw RawDescription) error {
	maxAppIndex := len(raw.Apps) // sentinel for egress gateway

	origins := make(map[int]bool, len(raw.Chains))
	hasEndUserChain := false

	for ci, chain := range raw.Chains {
		if origins[chain.Origin] {
			return fail("chain %d has duplicate origin %d", ci, chain.Origin)
		}
		origins[chain.Origin] = true
		if chain.Origin == -1 {
			hasEndUserChain = true
		}

		if chain.Origin > maxAppIndex {
			return fail("chain %d has origin %d, which is not a valid app index", ci, chain.Origin)
		}

		egressClassified := chain.Origin == maxAppIndex
		for ei, edge := range chain.Edges {
			if edge.From > maxAppIndex {
				return fail("chain %d (origin %d) edge %d has invalid from index: %d", ci, chain.Origin, ei, edge.From)
			}
			if edge.To > maxAppIndex {
				return fail("chain %d (origin %d) edge %d has invalid to index: %d", ci, chain.Origin, ei, edge.To)
			}
			if edge.Destination != nil {
				if *edge.Destination >= maxAppIndex {
					return fail("chain %d (origin %d) edge %d has destination %d, which cannot be the egress gateway", ci, chain.Origin, ei, *edge.Destination)
				}
			} else if egressClassified {
				return fail("chain %d has origin at the egress gateway, so every edge must specify destination", ci)
			}
		}
	}

	if !hasEndUserChain {
		return fail("Must have an app chain with an origin at the end user (i.e. origin of -1)")
	}

	for ci, chain := range raw.Chains {
		visitedEdges := make([]bool, len(chain.Edges))
		if !walkDAG(chain.Origin, map[int]bool{}, chain.Edges, visitedEdges) {
			return fail("chain %d (origin %d) is not a DAG", ci, chain.Origin)
		}
		for ei, visited := range visitedEdges {
			if !visited {
				return fail("chain %d (origin %d) has an edge %d that is never traversed", ci, chain.Origin, ei)
			}
		}
	}

	return nil
}

// walkDAG performs the depth-first single-origin-DAG check. visited is
// copied per branch (not shared across siblings) so diamonds across
// siblings are allowed while loops along any single root-to-leaf path are
// forbidden — see spec.md §9's Open Question on this exact point.
func walkDAG(node int, visited map[int]bool, edges []rawEdge, visitedEdges []bool) bool {
	if visited[node] {
		return false
	}

	branch := make(map[int]bool, len(visited)+1)
	for k := range visited {
		branch[k] = true
	}
	branch[node] = true

	for i, edge := range edges {
		if edge.From != node {
			continue
		}
		visitedEdges[i] = true
		if !walkDAG(edge.To, branch, edges, visitedEdges) {
			return false
		}
	}
	return true
}

func toDescription(raw RawDescription) types.PVNDescription {
	desc := types.PVNDescription{
		Apps:   make([]types.AppSpec, len(raw.Apps)),
		Chains: make([]types.Chain, len(raw.Chains)),
	}
	for i, a := range raw.Apps {
		desc.Apps[i] = types.AppSpec{Image: a.Image, Args: a.Args}
	}
	for i, c := range raw.Chains {
		edges := make([]types.Edge, len(c.Edges))
		for j, e := range c.Edges {
			edges[j] = types.Edge{
				From:            e.From,
				To:              e.To,
				Destination:     e.Destination,
				Protocol:        e.Protocol,
				SourcePort:      e.SourcePort,
				DestinationPort: e.DestinationPort,
			}
		}
		desc.Chains[i] = types.Chain{Origin: c.Origin, Edges: edges}
	}
	return desc
}
