// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainbridge/kernel/gate"
	"github.com/chainbridge/kernel/ledger"
	"github.com/chainbridge/kernel/pdo"
)

// StateMachineVersion is the state machine's wire-format version.
const StateMachineVersion = "1.0.0"

func newTransitionID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// PDOGate is the minimal surface the state machine needs from the
// execution gate.
type PDOGate interface {
	VerifyPDOExists(pdoID, pacID, evaluator string) gate.Evaluation
}

// LedgerAppender is the minimal surface the state machine needs from
// the PDO ledger.
type LedgerAppender interface {
	Append(ctx context.Context, p ledger.AppendParams) (ledger.Entry, error)
}

// StateMachine is the PDO-gated settlement state machine. It owns one
// lock per settlement so complete_milestone-style convenience methods
// can drive multiple transitions internally without deadlocking.
type StateMachine struct {
	mu sync.Mutex

	settlementID string
	state        SettlementState
	gate         PDOGate
	ledger       LedgerAppender

	milestones     map[string]*MilestoneRecord
	milestoneOrder []string

	transitions []SettlementTransition
	createdAt   string
}

// NewStateMachine constructs a state machine for settlementID, starting
// in initial (DRAFT if the zero value is passed), driven by gate and
// ledger. Spec §9 replaces the teacher's lazily-initialized singletons
// with explicit Kernel-owned instances passed in at construction.
func NewStateMachine(settlementID string, initial SettlementState, g PDOGate, l LedgerAppender) *StateMachine {
	if initial == "" {
		initial = StateDraft
	}
	return &StateMachine{
		settlementID: settlementID,
		state:        initial,
		gate:         g,
		ledger:       l,
		milestones:   make(map[string]*MilestoneRecord),
		createdAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// State returns the settlement's current state.
func (m *StateMachine) State() SettlementState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SettlementID returns the settlement this machine tracks.
func (m *StateMachine) SettlementID() string { return m.settlementID }

// IsTerminal reports whether the settlement is in a terminal state.
func (m *StateMachine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsTerminal()
}

// CanTransitionTo reports whether target is reachable from the current
// state.
func (m *StateMachine) CanTransitionTo(target SettlementState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return canTransitionSettlement(m.state, target)
}

// AllowedTransitions returns the states reachable from the current
// state.
func (m *StateMachine) AllowedTransitions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allowedSettlementTransitions(m.state)
}

// Transition moves the settlement to toState, enforcing: (a) the
// transition is legal; (b) the PDO verifies; (c) the ledger append
// succeeds — only then is state mutated and the transition recorded
// (INV-SETTLEMENT-003).
func (m *StateMachine) Transition(ctx context.Context, toState SettlementState, pdoID, pacID, reason, evaluator string) (SettlementTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ctx, toState, pdoID, pacID, reason, evaluator)
}

func (m *StateMachine) transitionLocked(ctx context.Context, toState SettlementState, pdoID, pacID, reason, evaluator string) (SettlementTransition, error) {
	if evaluator == "" {
		evaluator = "GID-04"
	}
	fromState := m.state

	if !canTransitionSettlement(fromState, toState) {
		return SettlementTransition{}, &InvalidTransitionError{
			From:    string(fromState),
			To:      string(toState),
			Allowed: allowedSettlementTransitions(fromState),
		}
	}

	gateEval := m.gate.VerifyPDOExists(pdoID, pacID, evaluator)
	if !gateEval.IsPass() {
		return SettlementTransition{}, &PDORequiredError{
			SettlementID: m.settlementID,
			Reason:       string(gateEval.Reason),
		}
	}

	entry, err := m.appendTransitionToLedger(ctx, fromState, toState, pdoID, pacID, reason)
	if err != nil {
		return SettlementTransition{}, &LedgerAppendRequiredError{
			From:        string(fromState),
			To:          string(toState),
			LedgerError: err,
		}
	}

	transition := SettlementTransition{
		TransitionID:    newTransitionID("trans"),
		SettlementID:    m.settlementID,
		FromState:       fromState,
		ToState:         toState,
		PDOID:           pdoID,
		PacID:           pacID,
		Reason:          reason,
		TransitionedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		LedgerEntryID:   entry.EntryID,
		LedgerEntryHash: entry.EntryHash,
		GateEvaluation:  gateEval,
	}

	m.state = toState
	m.transitions = append(m.transitions, transition)
	return transition, nil
}

// AddMilestone registers a new milestone under the settlement.
func (m *StateMachine) AddMilestone(milestoneID, name, description, pdoID string) (*MilestoneRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.milestones[milestoneID]; exists {
		return nil, &DuplicateMilestoneError{MilestoneID: milestoneID}
	}

	record := newMilestoneRecord(m.settlementID, milestoneID, name, description, pdoID, len(m.milestoneOrder))
	m.milestones[milestoneID] = record
	m.milestoneOrder = append(m.milestoneOrder, milestoneID)
	return record, nil
}

// TransitionMilestone moves milestoneID to toState under the same
// PDO-then-ledger-then-mutate discipline as Transition
// (INV-SETTLEMENT-002, INV-SETTLEMENT-003).
func (m *StateMachine) TransitionMilestone(ctx context.Context, milestoneID string, toState MilestoneState, pdoID, pacID, reason, evaluator string) (MilestoneTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionMilestoneLocked(ctx, milestoneID, toState, pdoID, pacID, reason, evaluator)
}

func (m *StateMachine) transitionMilestoneLocked(ctx context.Context, milestoneID string, toState MilestoneState, pdoID, pacID, reason, evaluator string) (MilestoneTransition, error) {
	if evaluator == "" {
		evaluator = "GID-04"
	}

	milestone, ok := m.milestones[milestoneID]
	if !ok {
		return MilestoneTransition{}, &MilestoneNotFoundError{MilestoneID: milestoneID}
	}

	fromState := milestone.State
	if !canTransitionMilestone(fromState, toState) {
		return MilestoneTransition{}, &InvalidTransitionError{
			From:    string(fromState),
			To:      string(toState),
			Allowed: allowedMilestoneTransitions(fromState),
		}
	}

	gateEval := m.gate.VerifyPDOExists(pdoID, pacID, evaluator)
	if !gateEval.IsPass() {
		return MilestoneTransition{}, &MilestonePDORequiredError{
			MilestoneID: milestoneID,
			From:        string(fromState),
			To:          string(toState),
			Reason:      "PDO verification failed: " + string(gateEval.Reason),
		}
	}

	entry, err := m.appendMilestoneTransitionToLedger(ctx, milestoneID, fromState, toState, pdoID, pacID, reason)
	if err != nil {
		return MilestoneTransition{}, &LedgerAppendRequiredError{
			From:        string(fromState),
			To:          string(toState),
			LedgerError: err,
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	transition := MilestoneTransition{
		TransitionID:    newTransitionID("mtrans"),
		MilestoneID:     milestoneID,
		SettlementID:    m.settlementID,
		FromState:       fromState,
		ToState:         toState,
		PDOID:           pdoID,
		PacID:           pacID,
		Reason:          reason,
		TransitionedAt:  now,
		LedgerEntryID:   entry.EntryID,
		LedgerEntryHash: entry.EntryHash,
		GateEvaluation:  gateEval,
	}

	milestone.State = toState
	milestone.Transitions = append(milestone.Transitions, transition)

	if toState == MilestoneInProgress && milestone.StartedAt == "" {
		milestone.StartedAt = now
	} else if toState == MilestoneCompleted {
		milestone.CompletedAt = now
		milestone.CompletionPDOID = pdoID
	}

	return transition, nil
}

// CompleteMilestone routes AWAITING_VERIFICATION → VERIFIED → COMPLETED
// when the milestone isn't already verified, then completes it. Both
// steps run under one lock acquisition to avoid an observable
// intermediate state.
func (m *StateMachine) CompleteMilestone(ctx context.Context, milestoneID, pdoID, pacID, reason, evaluator string) (MilestoneTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	milestone, ok := m.milestones[milestoneID]
	if !ok {
		return MilestoneTransition{}, &MilestoneNotFoundError{MilestoneID: milestoneID}
	}

	if milestone.State == MilestoneAwaitingVerification {
		if _, err := m.transitionMilestoneLocked(ctx, milestoneID, MilestoneVerified, pdoID, pacID, "verified for completion", evaluator); err != nil {
			return MilestoneTransition{}, err
		}
	}

	return m.transitionMilestoneLocked(ctx, milestoneID, MilestoneCompleted, pdoID, pacID, reason, evaluator)
}

// GetMilestone returns the milestone by id, if present.
func (m *StateMachine) GetMilestone(milestoneID string) (*MilestoneRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.milestones[milestoneID]
	return record, ok
}

// GetMilestones returns every milestone in insertion order.
func (m *StateMachine) GetMilestones() []*MilestoneRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MilestoneRecord, 0, len(m.milestoneOrder))
	for _, id := range m.milestoneOrder {
		out = append(out, m.milestones[id])
	}
	return out
}

// GetNextMilestone returns the first non-terminal milestone in order,
// or false if every milestone is terminal.
func (m *StateMachine) GetNextMilestone() (*MilestoneRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.milestoneOrder {
		record := m.milestones[id]
		if !record.IsTerminal() {
			return record, true
		}
	}
	return nil, false
}

// GetTransitions returns every settlement transition recorded so far.
func (m *StateMachine) GetTransitions() []SettlementTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SettlementTransition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// MilestoneCount returns the total number of milestones.
func (m *StateMachine) MilestoneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.milestones)
}

// CompletedMilestoneCount returns the number of COMPLETED milestones.
func (m *StateMachine) CompletedMilestoneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.milestones {
		if r.State == MilestoneCompleted {
			count++
		}
	}
	return count
}

func (m *StateMachine) appendTransitionToLedger(ctx context.Context, fromState, toState SettlementState, pdoID, pacID, reason string) (ledger.Entry, error) {
	pdoHash, err := pdo.ComputeHash(map[string]any{"pdo_id": pdoID})
	if err != nil {
		return ledger.Entry{}, err
	}
	proofHash, err := pdo.ComputeHash(map[string]any{"settlement_id": m.settlementID})
	if err != nil {
		return ledger.Entry{}, err
	}
	decisionHash, err := pdo.ComputeHash(map[string]any{"from": string(fromState), "to": string(toState)})
	if err != nil {
		return ledger.Entry{}, err
	}
	outcomeHash, err := pdo.ComputeHash(map[string]any{
		"settlement_id": m.settlementID,
		"transition":    string(fromState) + "_to_" + string(toState),
		"reason":        reason,
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	return m.ledger.Append(ctx, ledger.AppendParams{
		PDOID:         pdoID,
		PacID:         pacID,
		BerID:         "ber_trans_" + m.settlementID,
		WrapID:        "wrap_trans_" + m.settlementID,
		OutcomeStatus: "SETTLEMENT_TRANSITION_" + string(toState),
		Issuer:        pdo.PDOAuthority,
		PDOHash:       pdoHash,
		ProofHash:     proofHash,
		DecisionHash:  decisionHash,
		OutcomeHash:   outcomeHash,
		PDOCreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (m *StateMachine) appendMilestoneTransitionToLedger(ctx context.Context, milestoneID string, fromState, toState MilestoneState, pdoID, pacID, reason string) (ledger.Entry, error) {
	pdoHash, err := pdo.ComputeHash(map[string]any{"pdo_id": pdoID})
	if err != nil {
		return ledger.Entry{}, err
	}
	proofHash, err := pdo.ComputeHash(map[string]any{
		"milestone_id":  milestoneID,
		"settlement_id": m.settlementID,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	decisionHash, err := pdo.ComputeHash(map[string]any{"from": string(fromState), "to": string(toState)})
	if err != nil {
		return ledger.Entry{}, err
	}
	outcomeHash, err := pdo.ComputeHash(map[string]any{
		"milestone_id": milestoneID,
		"transition":   string(fromState) + "_to_" + string(toState),
		"reason":       reason,
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	return m.ledger.Append(ctx, ledger.AppendParams{
		PDOID:         pdoID,
		PacID:         pacID,
		BerID:         "ber_milestone_" + milestoneID,
		WrapID:        "wrap_milestone_" + milestoneID,
		OutcomeStatus: "MILESTONE_TRANSITION_" + string(toState),
		Issuer:        pdo.PDOAuthority,
		PDOHash:       pdoHash,
		ProofHash:     proofHash,
		DecisionHash:  decisionHash,
		OutcomeHash:   outcomeHash,
		PDOCreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
