// Package pvnmodel implements PVNModel: the thread-safe in-memory PVN
// registry described in spec.md §4.2. A single mutex guards every mutating
// operation so state transitions and their precondition checks happen
// atomically (spec.md §9 "State-machine race"), and every read returns a
// deep copy so callers can never mutate the registry through an aliased
// pointer (spec.md §9 "Deep-copy snapshots").
package pvnmodel

import (
	"fmt"
	"sync"

	"github.com/ethan-vanderheijden/pvn-project/pkg/apperr"
	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// Model is the in-memory PVN registry.
type Model struct {
	mu       sync.Mutex
	byID     map[int64]*types.PVN
	byClient map[string]int64 // client_ip -> id, for non-DELETED PVNs only
	nextID   int64
}

// New creates an empty Model.
func New() *Model {
	return &Model{
		byID:     make(map[int64]*types.PVN),
		byClient: make(map[string]int64),
	}
}

// Reserve allocates a new PVN id for clientIP and installs an INIT_PORTS
// record. Fails with apperr.ErrDuplicateClient if any non-DELETED PVN
// already has this client_ip.
func (m *Model) Reserve(clientIP string, ethertype types.Ethertype) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byClient[clientIP]; exists {
		return 0, apperr.ErrDuplicateClient
	}

	m.nextID++
	id := m.nextID
	m.byID[id] = &types.PVN{
		ID:        id,
		ClientIP:  clientIP,
		Ethertype: ethertype,
		Status:    types.StatusInitPorts,
	}
	m.byClient[clientIP] = id

	log.WithPVNID(id).Info().Str("client_ip", clientIP).Msg("reserved PVN id")
	return id, nil
}

// SetPorts requires the current state be INIT_PORTS and advances to
// INIT_APPS.
func (m *Model) SetPorts(id int64, portIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, err := m.mustGet(id)
	if err != nil {
		return err
	}
	if pvn.Status != types.StatusInitPorts {
		return m.invalidState(id, types.StatusInitPorts, pvn.Status)
	}
	pvn.Ports = append([]string(nil), portIDs...)
	pvn.Status = types.StatusInitApps
	return nil
}

// SetApps requires INIT_APPS and advances to INIT_STEERING.
func (m *Model) SetApps(id int64, appIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, err := m.mustGet(id)
	if err != nil {
		return err
	}
	if pvn.Status != types.StatusInitApps {
		return m.invalidState(id, types.StatusInitApps, pvn.Status)
	}
	pvn.Apps = append([]string(nil), appIDs...)
	pvn.Status = types.StatusInitSteering
	return nil
}

// SetSteerings requires INIT_STEERING and advances to ACTIVE.
func (m *Model) SetSteerings(id int64, ruleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, err := m.mustGet(id)
	if err != nil {
		return err
	}
	if pvn.Status != types.StatusInitSteering {
		return m.invalidState(id, types.StatusInitSteering, pvn.Status)
	}
	pvn.Steering = append([]string(nil), ruleIDs...)
	pvn.Status = types.StatusActive
	return nil
}

// BeginTeardown records the previous status and moves the PVN to
// TEARING_DOWN. Idempotent: a no-op if the PVN is already TEARING_DOWN or
// DELETED, and a no-op (returning apperr.ErrNotFound) if it is absent.
func (m *Model) BeginTeardown(id int64) (prevStatus types.PVNStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, ok := m.byID[id]
	if !ok {
		return "", apperr.ErrNotFound
	}

	if pvn.Status == types.StatusTearingDown || pvn.Status == types.StatusDeleted {
		return pvn.Status, nil
	}

	pvn.PrevStatus = pvn.Status
	pvn.Status = types.StatusTearingDown
	return pvn.PrevStatus, nil
}

// Finalize requires TEARING_DOWN and sets DELETED, dropping the client_ip
// reservation so a new PVN can reuse it.
func (m *Model) Finalize(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, err := m.mustGet(id)
	if err != nil {
		return err
	}
	if pvn.Status != types.StatusTearingDown {
		return m.invalidState(id, types.StatusTearingDown, pvn.Status)
	}
	pvn.Status = types.StatusDeleted
	delete(m.byClient, pvn.ClientIP)
	return nil
}

// Get returns a deep-copy snapshot of the PVN, or apperr.ErrNotFound.
func (m *Model) Get(id int64) (*types.PVN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, err := m.mustGet(id)
	if err != nil {
		return nil, err
	}
	return pvn.Clone(), nil
}

// Status returns the current status of a PVN, or apperr.ErrNotFound.
func (m *Model) Status(id int64) (types.PVNStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pvn, err := m.mustGet(id)
	if err != nil {
		return "", err
	}
	return pvn.Status, nil
}

// GetByClientIP returns a deep-copy snapshot of the non-DELETED PVN for
// clientIP, or apperr.ErrNotFound.
func (m *Model) GetByClientIP(clientIP string) (*types.PVN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byClient[clientIP]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

// List returns a deep-copy snapshot of every known PVN, regardless of
// status. Used by the metrics collector to derive per-status gauges.
func (m *Model) List() []*types.PVN {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.PVN, 0, len(m.byID))
	for _, pvn := range m.byID {
		out = append(out, pvn.Clone())
	}
	return out
}

func (m *Model) mustGet(id int64) (*types.PVN, error) {
	pvn, ok := m.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return pvn, nil
}

func (m *Model) invalidState(id int64, want, got types.PVNStatus) error {
	log.WithPVNID(id).Warn().Str("want", string(want)).Str("got", string(got)).Msg("pvn state precondition failed")
	return fmt.Errorf("%w: pvn %d: expected status %s, got %s", apperr.ErrInvalidState, id, want, got)
}
