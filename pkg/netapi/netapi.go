// Package netapi defines NetworkAPI: the SDN port-resource collaborator
// PVNOrchestrator drives to create and delete the network ports that back
// PVN apps and gateways. The SDN controller itself is out of scope (spec
// §1); this package only names the interface PVNOrchestrator consumes and
// a thin REST-backed implementation of it, in the shape the teacher's
// outbound clients take: small structs, context-aware methods,
// fmt.Errorf-wrapped errors.
package netapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Port is the result of creating a network port: its opaque id and the
// primary fixed IP the SDN fabric assigned it.
type Port struct {
	ID        string `json:"id"`
	PrimaryIP string `json:"primary_ip"`
	MAC       string `json:"mac_address"`
}

// NetworkAPI is the SDN port-resource collaborator (spec §6's "Outbound:
// NetworkAPI").
type NetworkAPI interface {
	CreatePort(ctx context.Context, name, networkID string) (Port, error)
	DeletePort(ctx context.Context, portID string) error
}

// RESTClient is a NetworkAPI backed by the SDN controller's REST port
// resource.
type RESTClient struct {
	baseURL string
	client  *http.Client
}

// NewRESTClient builds a RESTClient against baseURL (e.g.
// "https://neutron.internal/v2.0").
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createPortRequest struct {
	Port struct {
		Name      string `json:"name"`
		NetworkID string `json:"network_id"`
	} `json:"port"`
}

type portResponse struct {
	Port struct {
		ID         string `json:"id"`
		MACAddress string `json:"mac_address"`
		FixedIPs   []struct {
			IPAddress string `json:"ip_address"`
		} `json:"fixed_ips"`
	} `json:"port"`
}

// CreatePort creates a port named name on networkID and returns its id and
// primary fixed IP.
func (c *RESTClient) CreatePort(ctx context.Context, name, networkID string) (Port, error) {
	var body createPortRequest
	body.Port.Name = name
	body.Port.NetworkID = networkID

	payload, err := json.Marshal(body)
	if err != nil {
		return Port{}, fmt.Errorf("netapi: marshal create-port request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ports", bytes.NewReader(payload))
	if err != nil {
		return Port{}, fmt.Errorf("netapi: build create-port request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Port{}, fmt.Errorf("netapi: create-port request for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Port{}, fmt.Errorf("netapi: create-port for %s: unexpected status %d", name, resp.StatusCode)
	}

	var parsed portResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Port{}, fmt.Errorf("netapi: decode create-port response: %w", err)
	}

	port := Port{ID: parsed.Port.ID, MAC: parsed.Port.MACAddress}
	if len(parsed.Port.FixedIPs) > 0 {
		port.PrimaryIP = parsed.Port.FixedIPs[0].IPAddress
	}
	return port, nil
}

// DeletePort deletes portID. Treats a 404 as success: the port may already
// be gone because a cascade removed it first.
func (c *RESTClient) DeletePort(ctx context.Context, portID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/ports/"+portID, nil)
	if err != nil {
		return fmt.Errorf("netapi: build delete-port request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("netapi: delete-port %s: %w", portID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("netapi: delete-port %s: unexpected status %d", portID, resp.StatusCode)
	}
	return nil
}
