// Package config loads the small set of declarative settings the PVN core
// needs. Loading itself is intentionally thin: the out-of-scope external
// collaborator is whatever secrets/remote-config system a deployment wires
// in front of this file (spec.md §1); this package only owns the typed
// shape and a YAML reader, following the teacher's use of yaml.v3 for
// declarative resource files (cmd/warren/apply.go).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full set of keys spec.md §6 names.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Network NetworkConfig `yaml:"network"`
}

// APIConfig controls the HTTP front end's listen address.
type APIConfig struct {
	HostIP string `yaml:"host_ip"`
	Port   int    `yaml:"port"`
}

// NetworkConfig names the SDN network and the two gateway ports every PVN
// is wired into.
type NetworkConfig struct {
	ID           string `yaml:"id"`
	IngressPort  string `yaml:"ingress_port"`
	EgressPort   string `yaml:"egress_port"`
}

// Default returns a Config with only the API listen address set
// (0.0.0.0:8080). It sets no network id or gateway ports; Load requires
// those from the file.
func Default() Config {
	return Config{
		API: APIConfig{HostIP: "0.0.0.0", Port: 8080},
	}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Network.ID == "" {
		return Config{}, fmt.Errorf("config: network.id is required")
	}
	if cfg.Network.IngressPort == "" || cfg.Network.EgressPort == "" {
		return Config{}, fmt.Errorf("config: network.ingress_port and network.egress_port are required")
	}

	return cfg, nil
}
