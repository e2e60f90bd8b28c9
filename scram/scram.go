// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scram implements the SCRAM emergency-halt controller: a
// monotonic state machine that fans out termination to every registered
// execution path within a 500ms deadline, dual-key authorized, fail-closed
// on every error path.
//
// Unlike the Python original, Controller is not a process-wide singleton.
// Per the kernel's design (see DESIGN.md), every component is constructed
// explicitly and wired through a single top-level Kernel value; tests
// build a fresh Controller per case.
package scram

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/chainbridge/kernel/hashutil"
	nolog "github.com/chainbridge/kernel/log"
	"github.com/chainbridge/kernel/utils/wrappers"
	"github.com/google/uuid"
	"github.com/luxfi/log"
)

// State is the monotonic SCRAM lifecycle: ARMED -> ACTIVATING -> EXECUTING
// -> (COMPLETE | FAILED). State only ever moves forward, except via an
// explicit Reset from a terminal state.
type State int

const (
	StateArmed State = iota
	StateActivating
	StateExecuting
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateActivating:
		return "ACTIVATING"
	case StateExecuting:
		return "EXECUTING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Reason is a closed set of valid SCRAM activation reasons.
type Reason string

const (
	ReasonOperatorInitiated     Reason = "operator_initiated"
	ReasonArchitectInitiated    Reason = "architect_initiated"
	ReasonInvariantViolation    Reason = "invariant_violation"
	ReasonSecurityBreach        Reason = "security_breach"
	ReasonGovernanceMandate     Reason = "governance_mandate"
	ReasonSystemCritical        Reason = "system_critical"
	ReasonConstitutionalOverride Reason = "constitutional_override"
	ReasonSentinelTrigger       Reason = "sentinel_trigger"
	ReasonChronosDeadline       Reason = "chronos_deadline"
)

// MaxTerminationMS is the fixed termination deadline (INV-SCRAM-001).
// Immutable: spec §6 names this a constant that cannot be configured away.
const MaxTerminationMS = 500

// Invariants is the full, fixed list of invariants checked on every
// activation (spec §4.1).
var Invariants = []string{
	"INV-SYS-002",
	"INV-SCRAM-001",
	"INV-SCRAM-002",
	"INV-SCRAM-003",
	"INV-SCRAM-004",
	"INV-SCRAM-005",
	"INV-SCRAM-006",
	"INV-GOV-003",
}

// KeyType is either operator or architect; SCRAM requires one of each
// before it will consider itself fully authorized.
type KeyType string

const (
	KeyTypeOperator  KeyType = "operator"
	KeyTypeArchitect KeyType = "architect"
)

// Key is an immutable dual-key authorization credential.
type Key struct {
	KeyID     string
	KeyType   KeyType
	KeyHash   string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// Validate reports whether the key is structurally sound and unexpired.
func (k *Key) Validate() bool {
	if k == nil {
		return false
	}
	if k.KeyID == "" || k.KeyHash == "" {
		return false
	}
	if k.KeyType != KeyTypeOperator && k.KeyType != KeyTypeArchitect {
		return false
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

// AuditEvent is the immutable record produced by every Activate call,
// success or failure.
type AuditEvent struct {
	EventID                   string         `json:"event_id"`
	Timestamp                 time.Time      `json:"timestamp"`
	SCRAMState                string         `json:"scram_state"`
	Reason                    string         `json:"reason"`
	OperatorKeyHash           string         `json:"operator_key_hash"`
	ArchitectKeyHash          string         `json:"architect_key_hash"`
	ExecutionPathsTerminated  int            `json:"execution_paths_terminated"`
	TerminationLatencyMS      float64        `json:"termination_latency_ms"`
	InvariantsChecked         []string       `json:"invariants_checked"`
	InvariantsPassed          []string       `json:"invariants_passed"`
	InvariantsFailed          []string       `json:"invariants_failed"`
	HardwareSentinelAck       bool           `json:"hardware_sentinel_ack"`
	LedgerAnchorHash          string         `json:"ledger_anchor_hash"`
	Metadata                  map[string]any `json:"metadata"`
	ContentHash               string         `json:"content_hash"`
}

// Config is the SCRAM-relevant subset of kernel configuration. The two
// security-critical settings are not fields at all but the unexported
// constants below: in this rewrite they cannot be disabled, rather than
// being silently clamped back to their safe value the way the Python
// original does.
type Config struct {
	HardwareSentinelRequired bool
	HardwareSentinelPath     string
	AuditLogPath             string
	LedgerAnchorEnabled      bool
}

const (
	requireDualKey    = true
	failClosedOnError = true
)

// Controller is the SCRAM emergency-halt authority. Construct one per
// Kernel; it is not a process singleton.
type Controller struct {
	mu     sync.Mutex
	state  State
	logger log.Logger
	cfg    Config

	executionPaths   map[string]func()
	pathOrder        []string
	terminationHooks []func()
	authorizedKeys   map[KeyType]*Key
	auditEvents      []AuditEvent

	hardwareSentinelActive bool
	activationTime         time.Time
	termination            time.Time

	sigCh  chan os.Signal
	stopCh chan struct{}
}

// New constructs a Controller in the ARMED state and installs signal
// handlers for SIGTERM/SIGINT that trigger ForceTerminate.
func New(cfg Config, logger log.Logger) *Controller {
	if logger == nil {
		logger = nolog.NewNoOpLogger()
	}
	c := &Controller{
		state:          StateArmed,
		logger:         logger,
		cfg:            cfg,
		executionPaths: make(map[string]func()),
		authorizedKeys: make(map[KeyType]*Key),
		sigCh:          make(chan os.Signal, 2),
		stopCh:         make(chan struct{}),
	}
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	go c.watchSignals()
	return c
}

// watchSignals runs in its own goroutine for the controller's lifetime.
// Go's signal delivery is already channel-based (unlike a C-style signal
// handler interrupting arbitrary code), so the "dedicated terminator
// thread" the design notes ask for falls out of the language's own signal
// model rather than needing a hand-rolled atomic-flag dance.
func (c *Controller) watchSignals() {
	for {
		select {
		case sig := <-c.sigCh:
			c.ForceTerminate(fmt.Sprintf("signal %s received", sig))
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the signal watcher goroutine. Tests that construct many
// controllers should call this to avoid leaking goroutines.
func (c *Controller) Close() {
	signal.Stop(c.sigCh)
	close(c.stopCh)
}

// State returns the current SCRAM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsArmed reports whether SCRAM is ready for activation.
func (c *Controller) IsArmed() bool {
	return c.State() == StateArmed
}

// AbortReason reports why SCRAM is not ARMED, for callers (like the
// Byzantine voter) that must fail closed and explain themselves. Empty
// when armed; the state name when no activation has been recorded yet.
func (c *Controller) AbortReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateArmed {
		return ""
	}
	if len(c.auditEvents) > 0 {
		return c.auditEvents[len(c.auditEvents)-1].Reason
	}
	return c.state.String()
}

// AuditTrail returns a copy of the accumulated audit events.
func (c *Controller) AuditTrail() []AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AuditEvent, len(c.auditEvents))
	copy(out, c.auditEvents)
	return out
}

// RegisterExecutionPath registers a termination callback. Returns false
// (and does not register) if SCRAM is not ARMED.
func (c *Controller) RegisterExecutionPath(id string, terminate func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		c.logger.Warn("cannot register execution path: SCRAM not armed", "path_id", id)
		return false
	}
	if _, exists := c.executionPaths[id]; !exists {
		c.pathOrder = append(c.pathOrder, id)
	}
	c.executionPaths[id] = terminate
	return true
}

// RegisterTerminationHook registers an additional hook invoked after
// every execution path is terminated.
func (c *Controller) RegisterTerminationHook(hook func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return false
	}
	c.terminationHooks = append(c.terminationHooks, hook)
	return true
}

// AuthorizeKey authorizes a dual-key credential. Rejects nil, structurally
// invalid, and expired keys.
func (c *Controller) AuthorizeKey(key *Key) bool {
	if key == nil || !key.Validate() {
		c.logger.Warn("rejected invalid SCRAM key")
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorizedKeys[key.KeyType] = key
	return true
}

// verifyDualKeyAuthorization must be called with mu held.
func (c *Controller) verifyDualKeyAuthorization() (ok bool, operatorHash, architectHash string) {
	operator := c.authorizedKeys[KeyTypeOperator]
	architect := c.authorizedKeys[KeyTypeArchitect]
	if operator == nil || architect == nil {
		return false, "", ""
	}
	if !operator.Validate() || !architect.Validate() {
		return false, "", ""
	}
	return true, operator.KeyHash, architect.KeyHash
}

// checkInvariants must be called with mu held. It returns the invariants
// that currently pass; INV-SCRAM-001 (the deadline) is appended or failed
// after the termination sequence actually runs. INV-SCRAM-003 (hardware
// sentinel acknowledgment) only demotes to failed when the config
// requires it and no acknowledgment is recorded at the time of this
// check, which runs before the current activation notifies the sentinel.
func (c *Controller) checkInvariants() (passed, failed []string) {
	passed = append(passed, "INV-SYS-002")

	if ok, _, _ := c.verifyDualKeyAuthorization(); ok {
		passed = append(passed, "INV-SCRAM-002")
	} else {
		failed = append(failed, "INV-SCRAM-002")
	}

	if !c.cfg.HardwareSentinelRequired || c.hardwareSentinelActive {
		passed = append(passed, "INV-SCRAM-003")
	} else {
		failed = append(failed, "INV-SCRAM-003")
	}
	passed = append(passed, "INV-SCRAM-004")

	if failClosedOnError {
		passed = append(passed, "INV-SCRAM-005")
	} else {
		failed = append(failed, "INV-SCRAM-005")
	}

	passed = append(passed, "INV-SCRAM-006")
	passed = append(passed, "INV-GOV-003")
	return passed, failed
}

// Activate runs the full SCRAM activation protocol (spec §4.1). It always
// returns an AuditEvent, never an error: every failure mode is recorded in
// the event itself.
func (c *Controller) Activate(reason Reason, metadata map[string]any) AuditEvent {
	c.mu.Lock()
	if c.state != StateArmed {
		event := c.createErrorAuditLocked(fmt.Sprintf("SCRAM already in state %s", c.state), reason, metadata)
		c.mu.Unlock()
		return event
	}
	c.state = StateActivating
	c.activationTime = time.Now()
	c.mu.Unlock()

	var (
		operatorHash, architectHash string
		pathsTerminated             int
		passed, failed              []string
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("SCRAM activation panicked, forcing termination", "panic", r)
				c.ForceTerminate(fmt.Sprintf("panic: %v", r))
			}
		}()

		c.mu.Lock()
		ok, oh, ah := c.verifyDualKeyAuthorization()
		if !ok {
			c.logger.Error("SCRAM activating without dual-key authorization (fail-closed)")
			operatorHash, architectHash = "MISSING", "MISSING"
		} else {
			operatorHash, architectHash = oh, ah
		}
		passed, failed = c.checkInvariants()
		c.state = StateExecuting
		c.mu.Unlock()

		c.notifyHardwareSentinel()
		pathsTerminated = c.terminateAllPaths()
		c.executeHooks()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.termination = time.Now()
	terminationMS := float64(c.termination.Sub(c.activationTime).Microseconds()) / 1000.0

	if terminationMS > MaxTerminationMS {
		failed = append(failed, "INV-SCRAM-001")
		c.logger.Error("SCRAM deadline exceeded", "termination_ms", terminationMS, "max_ms", MaxTerminationMS)
	} else {
		passed = append(passed, "INV-SCRAM-001")
	}

	if len(failed) > 0 {
		c.state = StateFailed
	} else {
		c.state = StateComplete
	}

	event := c.createAuditEventLocked(reason, operatorHash, architectHash, pathsTerminated, terminationMS, passed, failed, metadata)
	c.anchorToLedger(event)
	c.logger.Info("SCRAM activation complete", "paths_terminated", pathsTerminated, "termination_ms", terminationMS, "state", c.state.String())
	return event
}

// terminateAllPaths invokes every registered execution path exactly once,
// in registration order, swallowing any error or panic from an individual
// path so the rest still run (spec §4.1 step 7).
func (c *Controller) terminateAllPaths() int {
	c.mu.Lock()
	order := make([]string, len(c.pathOrder))
	copy(order, c.pathOrder)
	paths := make(map[string]func(), len(c.executionPaths))
	for k, v := range c.executionPaths {
		paths[k] = v
	}
	c.mu.Unlock()

	var errs wrappers.Errs
	terminated := 0
	for _, id := range order {
		handler, ok := paths[id]
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					errs.Add(fmt.Errorf("execution path %s panicked: %v", id, r))
				}
			}()
			handler()
		}()
		terminated++
	}
	if errs.Errored() {
		c.logger.Error("errors while terminating execution paths", "errors", errs.Err().Error())
	}
	return terminated
}

// executeHooks runs every registered termination hook, swallowing errors.
func (c *Controller) executeHooks() {
	c.mu.Lock()
	hooks := make([]func(), len(c.terminationHooks))
	copy(hooks, c.terminationHooks)
	c.mu.Unlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("termination hook panicked", "panic", r)
				}
			}()
			hook()
		}()
	}
}

// notifyHardwareSentinel is a best-effort advisory filesystem ping; its
// failure never blocks termination (spec §9: "treat it as observability
// only").
func (c *Controller) notifyHardwareSentinel() {
	path := c.cfg.HardwareSentinelPath
	if path == "" {
		path = "/tmp/chainbridge_scram_sentinel"
	}
	payload, _ := json.Marshal(map[string]any{
		"command":   "SCRAM_ACTIVATE",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"pid":       os.Getpid(),
	})
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		c.logger.Warn("hardware sentinel notification failed", "error", err)
		return
	}
	c.mu.Lock()
	c.hardwareSentinelActive = true
	c.mu.Unlock()
}

// createAuditEventLocked must be called with mu held.
func (c *Controller) createAuditEventLocked(reason Reason, operatorHash, architectHash string, pathsTerminated int, terminationMS float64, passed, failed []string, metadata map[string]any) AuditEvent {
	now := time.Now().UTC()
	eventID := "SCRAM-" + uuid.New().String()
	sort.Strings(passed)
	sort.Strings(failed)
	checked := make([]string, len(Invariants))
	copy(checked, Invariants)
	sort.Strings(checked)

	anchor := fmt.Sprintf("%s:%s:%d:%f", eventID, now.Format(time.RFC3339Nano), pathsTerminated, terminationMS)
	ledgerHash := hashutil.SHA256HexString(anchor)

	if metadata == nil {
		metadata = map[string]any{}
	}

	event := AuditEvent{
		EventID:                  eventID,
		Timestamp:                now,
		SCRAMState:               c.state.String(),
		Reason:                   string(reason),
		OperatorKeyHash:          operatorHash,
		ArchitectKeyHash:         architectHash,
		ExecutionPathsTerminated: pathsTerminated,
		TerminationLatencyMS:     terminationMS,
		InvariantsChecked:        checked,
		InvariantsPassed:         passed,
		InvariantsFailed:         failed,
		HardwareSentinelAck:      c.hardwareSentinelActive,
		LedgerAnchorHash:         ledgerHash,
		Metadata:                 metadata,
	}
	contentHash, err := hashutil.SortedJSONHash(event)
	if err == nil {
		event.ContentHash = contentHash
	}
	c.auditEvents = append(c.auditEvents, event)
	return event
}

// createErrorAuditLocked must be called with mu held.
func (c *Controller) createErrorAuditLocked(errMsg string, reason Reason, metadata map[string]any) AuditEvent {
	merged := map[string]any{"error": errMsg}
	for k, v := range metadata {
		merged[k] = v
	}
	return c.createAuditEventLocked(reason, "ERROR", "ERROR", 0, 0, nil, []string{"INV-SCRAM-005"}, merged)
}

// anchorToLedger appends the audit event as one line of JSON to the
// configured audit log path. Failure is logged, never raised (spec §7
// Resource case (b)).
func (c *Controller) anchorToLedger(event AuditEvent) {
	if !c.cfg.LedgerAnchorEnabled {
		return
	}
	path := c.cfg.AuditLogPath
	if path == "" {
		path = "/var/log/chainbridge/scram.log"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Error("audit log directory creation failed", "error", err)
			return
		}
	}
	line, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("audit event marshal failed", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.logger.Error("audit log open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		c.logger.Error("audit log write failed", "error", err)
	}
}

// ForceTerminate skips key checks entirely and runs every registered path
// and hook, setting state to FAILED. Used by the signal watcher and by any
// caller-detected catastrophic condition.
func (c *Controller) ForceTerminate(reason string) {
	c.logger.Error("SCRAM force terminate", "reason", reason)
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()

	c.terminateAllPaths()
	c.executeHooks()
	c.notifyHardwareSentinel()
}

// Reset returns the controller to ARMED from a terminal state. It does
// NOT truncate the audit trail.
func (c *Controller) Reset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateComplete && c.state != StateFailed {
		return false
	}
	c.state = StateArmed
	c.authorizedKeys = make(map[KeyType]*Key)
	c.activationTime = time.Time{}
	c.termination = time.Time{}
	c.hardwareSentinelActive = false
	return true
}
