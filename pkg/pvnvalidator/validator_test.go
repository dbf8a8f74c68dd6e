package pvnvalidator

import (
	"testing"

	"github.com/ethan-vanderheijden/pvn-project/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestValidate_SimpleChain(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "u"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{{From: -1, To: 0}, {From: 0, To: 1}}},
		},
	}

	desc, err := Validate(raw)
	require.NoError(t, err)
	assert.Len(t, desc.Apps, 1)
	assert.Len(t, desc.Chains[0].Edges, 2)
}

func TestValidate_MissingEndUserChain(t *testing.T) {
	raw := RawDescription{
		Apps:   []rawApp{{Image: "u"}},
		Chains: []rawChain{{Origin: 0, Edges: []rawEdge{{From: 0, To: 1}}}},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "origin at the end user")
}

func TestValidate_NonDAG(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "u"}, {Image: "v"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{
				{From: -1, To: 0},
				{From: 0, To: 1},
				{From: 1, To: 0},
			}},
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a DAG")
}

func TestValidate_DuplicateOrigin(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "u"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{{From: -1, To: 0}}},
			{Origin: -1, Edges: []rawEdge{{From: -1, To: 0}}},
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate origin")
}

func TestValidate_OrphanEdge(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "u"}, {Image: "v"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{
				{From: -1, To: 0},
				{From: 1, To: 0}, // never reached from origin -1
			}},
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never traversed")
}

func TestValidate_DiamondAllowedAcrossSiblings(t *testing.T) {
	// origin -1 -> 0, origin -1 -> 1, both 0 and 1 -> 2: a diamond, not a cycle.
	raw := RawDescription{
		Apps: []rawApp{{Image: "a"}, {Image: "b"}, {Image: "c"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{
				{From: -1, To: 0},
				{From: -1, To: 1},
				{From: 0, To: 2},
				{From: 1, To: 2},
			}},
		},
	}

	_, err := Validate(raw)
	assert.NoError(t, err)
}

func TestValidate_DestinationCannotBeEgressGateway(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "a"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{
				{From: -1, To: 0, Destination: intp(1)}, // len(apps) == 1
			}},
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be the egress gateway")
}

func TestValidate_EgressOriginRequiresDestinationOnEveryEdge(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "a"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{{From: -1, To: 0}}},
			{Origin: 1, Edges: []rawEdge{{From: 1, To: 0}}}, // origin == len(apps), no destination
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every edge must specify destination")
}

func TestValidate_PortWithoutProtocolRejected(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "a"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{
				{From: -1, To: 0, SourcePort: intp(443)},
			}},
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol must be 6")
}

func TestValidate_PortOutOfRange(t *testing.T) {
	raw := RawDescription{
		Apps: []rawApp{{Image: "a"}},
		Chains: []rawChain{
			{Origin: -1, Edges: []rawEdge{
				{From: -1, To: 0, SourcePort: intp(70000), Protocol: intp(6)},
			}},
		},
	}

	_, err := Validate(raw)
	require.Error(t, err)
}

func TestRawApp_UnmarshalJSON_StringAndObject(t *testing.T) {
	var a rawApp
	require.NoError(t, a.UnmarshalJSON([]byte(`"myimage"`)))
	assert.Equal(t, "myimage", a.Image)

	var b rawApp
	require.NoError(t, b.UnmarshalJSON([]byte(`{"image":"myimage","args":["--flag"]}`)))
	assert.Equal(t, "myimage", b.Image)
	assert.Equal(t, []string{"--flag"}, b.Args)
}
