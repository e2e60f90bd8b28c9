// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sentinel implements the constitutional integrity sentinel: a
// Trust-On-First-Use baseline over the critical source paths, escalating
// to SCRAM the moment any one of them drifts from its recorded hash.
package sentinel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/luxfi/log"

	"github.com/chainbridge/kernel/hashutil"
	nolog "github.com/chainbridge/kernel/log"
	"github.com/chainbridge/kernel/scram"
)

// Status is the closed set of verify_integrity outcomes.
type Status string

const (
	StatusVerified  Status = "INTEGRITY_VERIFIED"
	StatusBreach    Status = "BREACH_DETECTED"
	StatusNoBaseline Status = "NO_BASELINE"
)

// ResetConfirmation is the literal token reset_baseline requires, guarding
// against an accidental re-baseline after a real breach (SEAL-02).
const ResetConfirmation = "RESET_GOVERNANCE_BASELINE"

// DefaultLockFile is the default location of the SHA3-512 baseline.
const DefaultLockFile = "logs/governance/governance.lock"

// DefaultCriticalFiles mirrors the teacher's protected-path list: the
// governance core whose drift is constitutionally significant.
var DefaultCriticalFiles = []string{
	"scram/scram.go",
	"gate/gate.go",
	"voter/voter.go",
	"sentinel/sentinel.go",
	"kernel/kernel.go",
}

// Activator is the minimal surface the sentinel needs from SCRAM: force
// an emergency halt with a reason and audit context.
type Activator interface {
	Activate(reason scram.Reason, metadata map[string]any) scram.AuditEvent
}

// Sentinel protects CriticalFiles by SHA3-512 baseline comparison.
type Sentinel struct {
	scram         Activator
	logger        log.Logger
	criticalFiles []string
	lockFile      string

	mu       sync.Mutex
	baseline map[string]string
}

// New constructs a Sentinel over criticalFiles (DefaultCriticalFiles if
// nil), persisting its baseline at lockFile (DefaultLockFile if empty).
// Spec §9 passes the Kernel's own SCRAM controller in explicitly rather
// than reaching for a process-wide singleton.
func New(activator Activator, logger log.Logger, criticalFiles []string, lockFile string) *Sentinel {
	if logger == nil {
		logger = nolog.NewNoOpLogger()
	}
	if criticalFiles == nil {
		criticalFiles = DefaultCriticalFiles
	}
	if lockFile == "" {
		lockFile = DefaultLockFile
	}
	return &Sentinel{
		scram:         activator,
		logger:        logger,
		criticalFiles: criticalFiles,
		lockFile:      lockFile,
	}
}

func computeFileHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return hashutil.FileMissing
		}
		return "HASH_ERROR"
	}
	return hashutil.SHA3512Hex(data)
}

// loadOrCreateBaseline must be called with mu held.
func (s *Sentinel) loadOrCreateBaseline() map[string]string {
	if data, err := os.ReadFile(s.lockFile); err == nil {
		var hashes map[string]string
		if err := json.Unmarshal(data, &hashes); err == nil {
			s.logger.Info("loaded governance baseline", "files", len(hashes))
			return hashes
		}
		s.logger.Error("governance.lock malformed, ignoring")
	}

	s.logger.Info("creating governance baseline (TOFU)")
	hashes := make(map[string]string, len(s.criticalFiles))
	for _, path := range s.criticalFiles {
		hashes[path] = computeFileHash(path)
	}

	if dir := filepath.Dir(s.lockFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("governance.lock directory creation failed", "error", err)
			return hashes
		}
	}
	payload, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		s.logger.Error("governance.lock marshal failed", "error", err)
		return hashes
	}
	if err := os.WriteFile(s.lockFile, payload, 0o644); err != nil {
		s.logger.Error("governance.lock write failed", "error", err)
	}
	return hashes
}

// VerifyIntegrity compares every critical file's current SHA3-512 hash
// against the baseline, loading or creating one if needed. Any mismatch
// triggers SCRAM with ReasonSentinelTrigger and returns BREACH_DETECTED
// (SEAL-01, SEAL-02).
func (s *Sentinel) VerifyIntegrity() Status {
	s.mu.Lock()
	if s.baseline == nil {
		s.baseline = s.loadOrCreateBaseline()
	}
	baseline := s.baseline
	s.mu.Unlock()

	if len(baseline) == 0 {
		s.logger.Error("no governance baseline found")
		return StatusNoBaseline
	}

	var violations []string
	for path, expected := range baseline {
		current := computeFileHash(path)
		if current != expected {
			violations = append(violations, path)
		}
	}

	if len(violations) > 0 {
		s.logger.Error("integrity breach detected", "files", violations)
		s.scram.Activate(scram.ReasonSentinelTrigger, map[string]any{
			"breach_type":    "INTEGRITY_VIOLATION",
			"violations":     violations,
			"files_modified": len(violations),
		})
		return StatusBreach
	}

	s.logger.Info("constitutional integrity verified", "files", len(baseline))
	return StatusVerified
}

// ResetBaseline removes the existing lock file and re-baselines, but
// only when confirmation is the literal ResetConfirmation token
// (SEAL-02: modification to the Law requires full SCRAM reset and
// re-baselining, never an accidental one).
func (s *Sentinel) ResetBaseline(confirmation string) bool {
	if confirmation != ResetConfirmation {
		s.logger.Error("baseline reset requires confirmation")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.lockFile); err == nil {
		if err := os.Remove(s.lockFile); err != nil {
			s.logger.Error("failed to remove governance.lock", "error", err)
			return false
		}
	}

	s.baseline = s.loadOrCreateBaseline()
	return len(s.baseline) > 0
}

// StatusReport reports the sentinel's current baseline state for diagnostics.
type StatusReport struct {
	BaselineLoaded  bool
	ProtectedFiles  int
	LockFile        string
	LockFileExists  bool
}

// GetStatus returns a snapshot of the sentinel's baseline state.
func (s *Sentinel) GetStatus() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.lockFile)
	return StatusReport{
		BaselineLoaded: len(s.baseline) > 0,
		ProtectedFiles: len(s.baseline),
		LockFile:       s.lockFile,
		LockFileExists: err == nil,
	}
}
