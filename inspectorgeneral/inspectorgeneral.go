// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package inspectorgeneral implements the runtime oversight node: it
// tails the judgment audit trail for REJECTED verdicts and the
// constitutional integrity sentinel on a fixed poll interval, and
// enforces fail-closed security by triggering SCRAM the moment either
// one trips (IG-01). It never writes the audit log it watches (IG-02).
package inspectorgeneral

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/luxfi/log"

	nolog "github.com/chainbridge/kernel/log"
	"github.com/chainbridge/kernel/scram"
	"github.com/chainbridge/kernel/sentinel"
	"github.com/chainbridge/kernel/utils"
)

// DefaultLogPath mirrors the teacher's default audit trail location.
const DefaultLogPath = "logs/governance/tgl_audit_trail.jsonl"

// DefaultPollInterval is the fixed monitoring cadence (teacher: 1s).
const DefaultPollInterval = time.Second

// RejectedJudgment is the verdict string that triggers SCRAM (IG-01).
const RejectedJudgment = "Rejected"

// Activator is the minimal SCRAM surface the IG needs.
type Activator interface {
	Activate(reason scram.Reason, metadata map[string]any) scram.AuditEvent
	IsArmed() bool
}

// Verifier is the minimal integrity-sentinel surface the IG needs.
type Verifier interface {
	VerifyIntegrity() sentinel.Status
}

// judgmentEntry is one TGL audit trail line.
type judgmentEntry struct {
	ManifestID    string `json:"manifest_id"`
	Judgment      string `json:"judgment"`
	Reason        string `json:"reason"`
	AgentGID      string `json:"agent_gid"`
	GitCommitHash string `json:"git_commit_hash"`
	Timestamp     string `json:"timestamp"`
}

// InspectorGeneral tails a judgment audit trail and the integrity
// sentinel, triggering SCRAM on the first rejected verdict or breach.
type InspectorGeneral struct {
	logPath      string
	pollInterval time.Duration
	scram        Activator
	sentinel     Verifier
	logger       log.Logger

	// monitoring and position are read from StartMonitoring's loop and
	// GetStatus and written from StartMonitoring/Stop/scanLog concurrently; utils.AtomicBool
	// and utils.AtomicInt cover those two fields without taking mu.
	monitoring *utils.AtomicBool
	position   *utils.AtomicInt

	mu        sync.Mutex
	processed map[string]bool
}

// New constructs an InspectorGeneral over logPath (DefaultLogPath if
// empty), wired against an injected SCRAM controller and sentinel
// rather than process-wide singletons (spec §9).
func New(logPath string, activator Activator, verifier Verifier, logger log.Logger) *InspectorGeneral {
	if logPath == "" {
		logPath = DefaultLogPath
	}
	if logger == nil {
		logger = nolog.NewNoOpLogger()
	}
	if dir := filepath.Dir(logPath); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &InspectorGeneral{
		logPath:      logPath,
		pollInterval: DefaultPollInterval,
		scram:        activator,
		sentinel:     verifier,
		logger:       logger,
		monitoring:   utils.NewAtomicBool(false),
		position:     utils.NewAtomicInt(0),
		processed:    make(map[string]bool),
	}
}

// WithPollInterval overrides the default monitoring cadence.
func (ig *InspectorGeneral) WithPollInterval(d time.Duration) *InspectorGeneral {
	ig.pollInterval = d
	return ig
}

// StartMonitoring runs until ctx is cancelled, Stop is called, or SCRAM
// trips (either directly via a rejected verdict, or via the sentinel).
// It always performs one scan before the first sleep.
func (ig *InspectorGeneral) StartMonitoring(ctx context.Context) error {
	ig.monitoring.Set(true)

	ig.logger.Info("IG node monitoring started", "log_path", ig.logPath)
	defer ig.logger.Info("IG node monitoring stopped")

	if err := ig.scanLog(); err != nil {
		ig.logger.Error("log scan error", "error", err)
	}

	ticker := time.NewTicker(ig.pollInterval)
	defer ticker.Stop()

	for {
		if !ig.monitoring.Get() {
			return nil
		}

		if !ig.scram.IsArmed() {
			ig.logger.Error("SCRAM triggered, IG monitoring halted")
			return nil
		}

		if ig.sentinel != nil {
			if status := ig.sentinel.VerifyIntegrity(); status == sentinel.StatusBreach {
				ig.logger.Error("constitutional breach detected, SCRAM triggered by sentinel")
				return nil
			}
		}

		if err := ig.scanLog(); err != nil {
			ig.logger.Error("log scan error", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop requests a graceful exit of StartMonitoring's loop.
func (ig *InspectorGeneral) Stop() {
	ig.monitoring.Set(false)
	ig.logger.Info("IG node shutdown requested")
}

// scanLog incrementally reads new lines appended to the audit trail
// since the last scan (IG-02: read-only, never writes the log).
func (ig *InspectorGeneral) scanLog() error {
	f, err := os.Open(ig.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	pos := ig.position.Get()

	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastRead int64 = pos
	for scanner.Scan() {
		line := scanner.Text()
		lastRead += int64(len(line)) + 1
		if line == "" {
			continue
		}
		var entry judgmentEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			ig.logger.Warn("malformed JSON in audit log", "error", err)
			continue
		}
		ig.analyzeEntry(entry)
	}

	ig.position.Set(lastRead)
	return scanner.Err()
}

// analyzeEntry enforces IG-01: a REJECTED verdict for a manifest not
// already seen triggers SCRAM with a detailed violation report.
func (ig *InspectorGeneral) analyzeEntry(entry judgmentEntry) {
	manifestID := entry.ManifestID
	if manifestID == "" {
		manifestID = "UNKNOWN"
	}

	ig.mu.Lock()
	if ig.processed[manifestID] {
		ig.mu.Unlock()
		return
	}
	ig.processed[manifestID] = true
	ig.mu.Unlock()

	if entry.Judgment != RejectedJudgment {
		ig.logger.Debug("manifest approved", "manifest_id", manifestID, "agent_gid", entry.AgentGID)
		return
	}

	ig.logger.Error("constitutional violation detected",
		"manifest_id", manifestID,
		"agent_gid", entry.AgentGID,
		"git_commit_hash", entry.GitCommitHash,
		"reason", entry.Reason,
	)

	ig.scram.Activate(scram.ReasonInvariantViolation, map[string]any{
		"violation":       "IG_VIOLATION_DETECTED",
		"manifest_id":     manifestID,
		"agent_gid":       entry.AgentGID,
		"git_commit_hash": entry.GitCommitHash,
		"reason":          entry.Reason,
		"judgment":        entry.Judgment,
	})
}

// Status is the IG's current state for health checks.
type Status struct {
	Monitoring         bool
	LogPath            string
	ProcessedCount     int
	ScramArmed         bool
	LastScanPosition   int64
}

// GetStatus returns a snapshot of the IG's monitoring state.
func (ig *InspectorGeneral) GetStatus() Status {
	ig.mu.Lock()
	processedCount := len(ig.processed)
	ig.mu.Unlock()
	return Status{
		Monitoring:       ig.monitoring.Get(),
		LogPath:          ig.logPath,
		ProcessedCount:   processedCount,
		ScramArmed:       ig.scram.IsArmed(),
		LastScanPosition: ig.position.Get(),
	}
}
