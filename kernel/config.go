// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kernel

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chainbridge/kernel/scram"
	"github.com/chainbridge/kernel/voter"
)

// Config is the top-level, YAML-loadable configuration for a Kernel.
// It composes each component's own config rather than flattening every
// field into one struct, mirroring how the teacher keeps per-package
// config types instead of one god-object.
type Config struct {
	Voter voter.Config `yaml:"voter"`
	SCRAM ScramConfig  `yaml:"scram"`

	// LedgerStorePath, if set, selects the pebble-backed durable ledger
	// store; empty selects the in-memory store (the default, and the
	// only store every test exercises).
	LedgerStorePath string `yaml:"ledger_store_path"`

	// Sentinel configuration.
	SentinelCriticalFiles []string `yaml:"sentinel_critical_files"`
	SentinelLockFile      string   `yaml:"sentinel_lock_file"`

	// InspectorGeneral configuration.
	IGLogPath string `yaml:"ig_log_path"`
}

// ScramConfig mirrors scram.Config for YAML loading; the two immutable
// keys named in spec §6 item 5 (require_dual_key, fail_closed_on_error)
// are deliberately absent here — they are unexported package constants
// in scram, not configurable fields, by design (spec's "cannot be
// disabled" resolved as compile-time immutability rather than a runtime
// clamp).
type ScramConfig struct {
	HardwareSentinelRequired bool   `yaml:"hardware_sentinel_required"`
	HardwareSentinelPath     string `yaml:"hardware_sentinel_path"`
	AuditLogPath             string `yaml:"audit_log_path"`
	LedgerAnchorEnabled      bool   `yaml:"ledger_anchor_enabled"`
}

func (c ScramConfig) toScram() scram.Config {
	return scram.Config{
		HardwareSentinelRequired: c.HardwareSentinelRequired,
		HardwareSentinelPath:     c.HardwareSentinelPath,
		AuditLogPath:             c.AuditLogPath,
		LedgerAnchorEnabled:      c.LedgerAnchorEnabled,
	}
}

// LoadConfig reads and parses a Config from a YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
