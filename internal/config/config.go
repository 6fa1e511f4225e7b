// Package config centralizes every address, timeout, and credential the
// orchestrator, worker, and client need. There is no global singleton: a
// Config is built once in main and passed into constructors.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config holds every tunable named in the system's external interfaces.
type Config struct {
	// Orchestrator <-> client (TCP, JSON request/response per connection).
	ClientAddr string `yaml:"client_addr"`

	// Orchestrator <-> worker ingress (UDP heartbeats + completions).
	WorkerAddr string `yaml:"worker_addr"`

	// Replication multicast group used between primary and backup.
	MulticastGroup string `yaml:"multicast_group"`
	MulticastPort  int    `yaml:"multicast_port"`

	// Admin HTTP listener serving Prometheus metrics. Empty disables it.
	AdminAddr string `yaml:"admin_addr"`

	PrimaryTimeout    time.Duration `yaml:"primary_timeout"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WorkerTimeout     time.Duration `yaml:"worker_timeout"`

	// Static credential store. Deliberately simple per spec: no expiry,
	// no revocation, tokens are a pure function of username + SecretKey.
	Users     map[string]string `yaml:"users"`
	SecretKey string            `yaml:"secret_key"`
}

// Default returns the configuration described in spec §6 / the original
// reference implementation's config.py.
func Default() Config {
	return Config{
		ClientAddr:        "localhost:50051",
		WorkerAddr:        "localhost:50052",
		MulticastGroup:    "224.1.1.1",
		MulticastPort:     5007,
		AdminAddr:         "",
		PrimaryTimeout:    5 * time.Second,
		SyncInterval:      2 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		WorkerTimeout:     5 * time.Second,
		Users: map[string]string{
			"user1": "pass1",
			"user2": "pass2",
		},
		SecretKey: "sua-chave-super-secreta",
	}
}

// Load reads a YAML file and overlays it onto Default(). A missing path is
// not an error: callers that only want defaults can pass "".
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
