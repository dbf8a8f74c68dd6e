// Package steeringstore implements SteeringStore: the authoritative,
// persistent store of steering-rule records behind SteeringPlugin (spec
// §4.4), bucket-per-entity over bbolt, following the teacher's
// BoltStore (pkg/storage/boltdb.go).
package steeringstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethan-vanderheijden/pvn-project/pkg/apperr"
	"github.com/ethan-vanderheijden/pvn-project/pkg/metrics"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRules = []byte("steering_rules")
	bucketPorts = []byte("ports")
)

// Port is the minimal port record the store needs for referential
// integrity checks and destination-MAC lookups. The SDN port resource
// itself is out of scope (spec §1); RegisterPort/DeregisterPort let the
// orchestrator keep this local shadow table in sync with it.
type Port struct {
	ID  string `json:"id"`
	MAC string `json:"mac"`
}

// Filter is one list() predicate: Field must equal one of Values. A value
// of "null"/"none" (any case) matches an unset (nil) field — spec §4.4's
// null-literal coercion.
type Filter struct {
	Field  string
	Values []string
}

// ListOptions controls pagination and ordering of List.
type ListOptions struct {
	Filters     []Filter
	Limit       int
	Marker      string // last-seen rule id from the previous page
	PageReverse bool
}

// Store is the bbolt-backed SteeringStore.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the steering database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "steering.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("steeringstore: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRules, bucketPorts} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("steeringstore: failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RegisterPort records a port's id/MAC so future rules can reference it.
func (s *Store) RegisterPort(port Port) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(port)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPorts).Put([]byte(port.ID), data)
	})
}

// DeregisterPort removes a port's shadow record and cascades: deletes any
// rule whose src_neutron_port is this port, and (per the pre-delete hook
// described in spec §4.4) any rule whose dest_neutron_port is this port.
// Both deletions happen in the same transaction as the port removal.
func (s *Store) DeregisterPort(portID string) ([]*types.SteeringRule, error) {
	var deleted []*types.SteeringRule

	err := s.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket(bucketRules)

		var toDelete []string
		err := rb.ForEach(func(k, v []byte) error {
			var rule types.SteeringRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			if rule.SrcNeutronPort == portID || (rule.DestNeutronPort != nil && *rule.DestNeutronPort == portID) {
				toDelete = append(toDelete, string(k))
				deleted = append(deleted, &rule)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range toDelete {
			if err := rb.Delete([]byte(id)); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketPorts).Delete([]byte(portID))
	})
	if err != nil {
		return nil, fmt.Errorf("steeringstore: deregister port %s: %w", portID, err)
	}
	return deleted, nil
}

func (s *Store) getPort(tx *bolt.Tx, id string) (*Port, bool) {
	data := tx.Bucket(bucketPorts).Get([]byte(id))
	if data == nil {
		return nil, false
	}
	var p Port
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// GetPort returns the shadow port record, or apperr.ErrNotFound.
func (s *Store) GetPort(id string) (*Port, error) {
	var port *Port
	err := s.db.View(func(tx *bolt.Tx) error {
		p, ok := s.getPort(tx, id)
		if !ok {
			return apperr.ErrNotFound
		}
		port = p
		return nil
	})
	return port, err
}

// Create validates cross-field constraints and referential integrity (spec
// §3), assigns a UUID, and persists the rule.
func (s *Store) Create(rule types.SteeringRule) (*types.SteeringRule, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SteeringCreateDuration)

	if err := validate(rule); err != nil {
		return nil, err
	}

	rule.ID = uuid.NewString()

	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, ok := s.getPort(tx, rule.SrcNeutronPort); !ok {
			return fmt.Errorf("%w: src_neutron_port %s", apperr.ErrNotFound, rule.SrcNeutronPort)
		}
		if rule.DestNeutronPort != nil {
			if _, ok := s.getPort(tx, *rule.DestNeutronPort); !ok {
				return fmt.Errorf("%w: dest_neutron_port %s", apperr.ErrNotFound, *rule.DestNeutronPort)
			}
		}

		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRules).Put([]byte(rule.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func validate(rule types.SteeringRule) error {
	if rule.SrcNeutronPort == "" {
		return fmt.Errorf("%w: src_neutron_port is required", apperr.ErrValidation)
	}
	if (rule.SrcIP != nil || rule.DestIP != nil) && rule.Ethertype == nil {
		return fmt.Errorf("%w: ethertype is required when src_ip or dest_ip is set", apperr.ErrValidation)
	}
	if (rule.SrcPort != nil || rule.DestPort != nil) && rule.Protocol == nil {
		return fmt.Errorf("%w: protocol is required when src_port or dest_port is set", apperr.ErrValidation)
	}
	if rule.Protocol != nil && *rule.Protocol != types.ProtocolTCP && *rule.Protocol != types.ProtocolUDP {
		if rule.SrcPort != nil || rule.DestPort != nil {
			return fmt.Errorf("%w: protocol must be TCP(6) or UDP(17) when a port is set", apperr.ErrValidation)
		}
	}
	return nil
}

// Get returns a rule by id, or apperr.ErrNotFound.
func (s *Store) Get(id string) (*types.SteeringRule, error) {
	var rule types.SteeringRule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRules).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: rule %s", apperr.ErrNotFound, id)
		}
		return json.Unmarshal(data, &rule)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Update replaces the stored rule id with fields (keeping the id), after
// the same cross-field validation Create runs, and persists it. Fields left
// unset in fields are cleared in the stored rule; port references are not
// re-checked.
func (s *Store) Update(id string, fields types.SteeringRule) (*types.SteeringRule, error) {
	var updated types.SteeringRule
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: rule %s", apperr.ErrNotFound, id)
		}
		var rule types.SteeringRule
		if err := json.Unmarshal(data, &rule); err != nil {
			return err
		}
		fields.ID = rule.ID
		if err := validate(fields); err != nil {
			return err
		}
		updated = fields
		out, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a rule by id. Idempotent: deleting an absent rule is not
// an error (spec §7: compensating deletes are best-effort).
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).Delete([]byte(id))
	})
}

// List scans all rules, applies opts.Filters, sorts by id, and paginates.
func (s *Store) List(opts ListOptions) ([]*types.SteeringRule, error) {
	var all []*types.SteeringRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(k, v []byte) error {
			var rule types.SteeringRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			all = append(all, &rule)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	filtered := all[:0:0]
	for _, rule := range all {
		if matchesAll(rule, opts.Filters) {
			filtered = append(filtered, rule)
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	if opts.PageReverse {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	if opts.Marker != "" {
		idx := -1
		for i, rule := range filtered {
			if rule.ID == opts.Marker {
				idx = i
				break
			}
		}
		if idx >= 0 {
			filtered = filtered[idx+1:]
		}
	}

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
}

func matchesAll(rule *types.SteeringRule, filters []Filter) bool {
	for _, f := range filters {
		if !matchesOne(rule, f) {
			return false
		}
	}
	return true
}

// isNullLiteral reports whether v is the string "null" or "none", in any
// case — the coercion spec §4.4 requires for filtering nullable columns.
func isNullLiteral(v string) bool {
	lower := strings.ToLower(v)
	return lower == "null" || lower == "none"
}

func matchesOne(rule *types.SteeringRule, f Filter) bool {
	actual, isSet := fieldValue(rule, f.Field)
	for _, want := range f.Values {
		if isNullLiteral(want) {
			if !isSet {
				return true
			}
			continue
		}
		if isSet && actual == want {
			return true
		}
	}
	return false
}

func fieldValue(rule *types.SteeringRule, field string) (string, bool) {
	switch field {
	case "project_id":
		return rule.ProjectID, rule.ProjectID != ""
	case "src_neutron_port":
		return rule.SrcNeutronPort, rule.SrcNeutronPort != ""
	case "dest_neutron_port":
		if rule.DestNeutronPort == nil {
			return "", false
		}
		return *rule.DestNeutronPort, true
	case "src_ip":
		if rule.SrcIP == nil {
			return "", false
		}
		return *rule.SrcIP, true
	case "dest_ip":
		if rule.DestIP == nil {
			return "", false
		}
		return *rule.DestIP, true
	case "ethertype":
		if rule.Ethertype == nil {
			return "", false
		}
		return fmt.Sprintf("%d", *rule.Ethertype), true
	case "protocol":
		if rule.Protocol == nil {
			return "", false
		}
		return fmt.Sprintf("%d", *rule.Protocol), true
	case "src_port":
		if rule.SrcPort == nil {
			return "", false
		}
		return fmt.Sprintf("%d", *rule.SrcPort), true
	case "dest_port":
		if rule.DestPort == nil {
			return "", false
		}
		return fmt.Sprintf("%d", *rule.DestPort), true
	default:
		return "", false
	}
}
