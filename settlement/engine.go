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

// EngineVersion is the settlement engine's wire-format version.
const EngineVersion = "1.0.0"

func newSettlementID() string {
	return "settle_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Request bundles every field required to initiate a PDO-gated
// settlement.
type Request struct {
	SettlementID   string
	PacID          string
	PDOID          string
	Amount         float64
	Currency       string
	CounterpartyID string
	Description    string
	Metadata       map[string]any
	RequestedAt    string
	Requestor      string
}

// NewRequest returns a Request with SettlementID and RequestedAt filled
// in, and Currency defaulted to USD — the caller sets PacID, PDOID, and
// whichever other fields apply.
func NewRequest(pacID, pdoID string) Request {
	return Request{
		SettlementID: newSettlementID(),
		PacID:        pacID,
		PDOID:        pdoID,
		Currency:     "USD",
		RequestedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (r Request) valid() bool {
	return r.SettlementID != "" && r.PacID != "" && r.PDOID != ""
}

// Result is the immutable outcome of one settlement operation.
type Result struct {
	SettlementID    string
	PacID           string
	PDOID           string
	Status          SettlementState
	Success         bool
	LedgerEntryID   string
	LedgerEntryHash string
	InitiatedAt     string
	CompletedAt     string
	GateEvaluations []gate.Evaluation
	Error           string
}

// Record is the engine's internal tracking state for one settlement.
// Mutable during its lifecycle, effectively frozen once IsFinalized.
type Record struct {
	SettlementID string
	PacID        string
	PDOID        string

	Status SettlementState

	PDOVerified bool

	LedgerEntryID   string
	LedgerEntryHash string

	Amount         float64
	Currency       string
	CounterpartyID string
	Description    string

	MilestoneIDs        []string
	MilestoneCount      int
	MilestonesCompleted int

	CreatedAt   string
	InitiatedAt string
	CompletedAt string

	GateEvaluations []gate.Evaluation
	Transitions     []recordTransition
	Err             string
}

type recordTransition struct {
	FromStatus SettlementState
	ToStatus   SettlementState
	Reason     string
	PDOID      string
	Timestamp  string
}

// IsFinalized reports whether the record is in a terminal status.
func (r *Record) IsFinalized() bool { return r.Status.IsTerminal() }

func (r *Record) recordTransition(from, to SettlementState, reason, pdoID string) {
	r.Transitions = append(r.Transitions, recordTransition{
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		PDOID:      pdoID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Gate is the subset of *gate.Gate the engine depends on.
type Gate interface {
	VerifyPDOExists(pdoID, pacID, evaluator string) gate.Evaluation
}

// Ledger is the subset of *ledger.Ledger the engine depends on.
type Ledger interface {
	Append(ctx context.Context, p ledger.AppendParams) (ledger.Entry, error)
}

// Engine is the PDO-gated settlement engine (INV-SETTLEMENT-001,
// -003, -004, -005).
type Engine struct {
	gate   Gate
	ledger Ledger

	mu          sync.Mutex
	settlements map[string]*Record

	createdAt string
}

// New constructs an Engine against g and l. Spec §9 replaces the
// teacher's lazily-initialized singletons with explicit, Kernel-owned
// instances.
func New(g Gate, l Ledger) *Engine {
	return &Engine{
		gate:        g,
		ledger:      l,
		settlements: make(map[string]*Record),
		createdAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// InitiateSettlement validates the request, verifies its PDO via the
// gate, appends a SETTLEMENT_INITIATED ledger entry, and transitions
// the new record PENDING → INITIATED — in that order, so a ledger
// failure never leaves a half-initiated settlement visible
// (INV-SETTLEMENT-001, -003, -004).
func (e *Engine) InitiateSettlement(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if !req.valid() {
		return Result{}, &PDORequiredError{
			SettlementID: orUnknownSettlement(req.SettlementID),
			Reason:       "invalid settlement request - missing required fields",
		}
	}

	pdoEval := e.gate.VerifyPDOExists(req.PDOID, req.PacID, "GID-01")
	if !pdoEval.IsPass() {
		return Result{}, &PDORequiredError{
			SettlementID: req.SettlementID,
			Reason:       "PDO verification failed: " + string(pdoEval.Reason),
		}
	}

	record := &Record{
		SettlementID:   req.SettlementID,
		PacID:          req.PacID,
		PDOID:          req.PDOID,
		Status:         StatePending,
		PDOVerified:    true,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CounterpartyID: req.CounterpartyID,
		Description:    req.Description,
		CreatedAt:      now,
	}
	record.GateEvaluations = append(record.GateEvaluations, pdoEval)

	entry, err := e.appendToLedger(ctx, record, "SETTLEMENT_INITIATED", "")
	if err != nil {
		return Result{}, &LedgerFailureError{SettlementID: req.SettlementID, Cause: err}
	}
	record.LedgerEntryID = entry.EntryID
	record.LedgerEntryHash = entry.EntryHash

	record.recordTransition(StatePending, StateInitiated, "PDO verified, ledger entry created", req.PDOID)
	record.Status = StateInitiated
	record.InitiatedAt = now

	e.settlements[req.SettlementID] = record

	return Result{
		SettlementID:    req.SettlementID,
		PacID:           req.PacID,
		PDOID:           req.PDOID,
		Status:          StateInitiated,
		Success:         true,
		LedgerEntryID:   record.LedgerEntryID,
		LedgerEntryHash: record.LedgerEntryHash,
		InitiatedAt:     now,
		GateEvaluations: append([]gate.Evaluation{}, record.GateEvaluations...),
	}, nil
}

// CompleteSettlement verifies the completion PDO, appends
// SETTLEMENT_COMPLETED, and transitions to COMPLETED. A failed gate
// check marks the settlement FAILED and returns a failed Result rather
// than an error; a ledger failure raises (INV-SETTLEMENT-004) and
// leaves the record's status untouched.
func (e *Engine) CompleteSettlement(ctx context.Context, settlementID, completionPDOID, completionPacID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	record, ok := e.settlements[settlementID]
	if !ok {
		return Result{}, &NotFoundError{SettlementID: settlementID}
	}
	if record.IsFinalized() {
		return Result{}, &AlreadyFinalizedError{SettlementID: settlementID, State: record.Status}
	}

	pdoEval := e.gate.VerifyPDOExists(completionPDOID, completionPacID, "GID-01")
	if !pdoEval.IsPass() {
		record.Status = StateFailed
		record.Err = "completion PDO verification failed"
		record.CompletedAt = now
		return Result{
			SettlementID:    settlementID,
			PacID:           record.PacID,
			PDOID:           record.PDOID,
			Status:          StateFailed,
			Success:         false,
			LedgerEntryID:   record.LedgerEntryID,
			LedgerEntryHash: record.LedgerEntryHash,
			InitiatedAt:     record.InitiatedAt,
			CompletedAt:     now,
			GateEvaluations: []gate.Evaluation{pdoEval},
			Error:           record.Err,
		}, nil
	}

	entry, err := e.appendToLedger(ctx, record, "SETTLEMENT_COMPLETED", completionPDOID)
	if err != nil {
		return Result{}, &LedgerFailureError{SettlementID: settlementID, Cause: err}
	}

	record.recordTransition(record.Status, StateCompleted, "settlement completed with PDO verification", completionPDOID)
	record.Status = StateCompleted
	record.CompletedAt = now
	record.GateEvaluations = append(record.GateEvaluations, pdoEval)

	return Result{
		SettlementID:    settlementID,
		PacID:           record.PacID,
		PDOID:           record.PDOID,
		Status:          StateCompleted,
		Success:         true,
		LedgerEntryID:   entry.EntryID,
		LedgerEntryHash: entry.EntryHash,
		InitiatedAt:     record.InitiatedAt,
		CompletedAt:     now,
		GateEvaluations: append([]gate.Evaluation{}, record.GateEvaluations...),
	}, nil
}

// AbortSettlement appends SETTLEMENT_ABORTED and transitions to
// ABORTED.
func (e *Engine) AbortSettlement(ctx context.Context, settlementID, reason string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	record, ok := e.settlements[settlementID]
	if !ok {
		return Result{}, &NotFoundError{SettlementID: settlementID}
	}
	if record.IsFinalized() {
		return Result{}, &AlreadyFinalizedError{SettlementID: settlementID, State: record.Status}
	}

	entry, err := e.appendToLedger(ctx, record, "SETTLEMENT_ABORTED", "")
	if err != nil {
		return Result{}, &LedgerFailureError{SettlementID: settlementID, Cause: err}
	}

	record.recordTransition(record.Status, StateAborted, reason, "")
	record.Status = StateAborted
	record.CompletedAt = now
	record.Err = reason

	return Result{
		SettlementID:    settlementID,
		PacID:           record.PacID,
		PDOID:           record.PDOID,
		Status:          StateAborted,
		Success:         false,
		LedgerEntryID:   entry.EntryID,
		LedgerEntryHash: entry.EntryHash,
		InitiatedAt:     record.InitiatedAt,
		CompletedAt:     now,
		GateEvaluations: append([]gate.Evaluation{}, record.GateEvaluations...),
		Error:           reason,
	}, nil
}

// GetSettlement returns the record for settlementID.
func (e *Engine) GetSettlement(settlementID string) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.settlements[settlementID]
	if !ok {
		return nil, &NotFoundError{SettlementID: settlementID}
	}
	return record, nil
}

// GetSettlementByPDO returns the first record bound to pdoID.
func (e *Engine) GetSettlementByPDO(pdoID string) (*Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, record := range e.settlements {
		if record.PDOID == pdoID {
			return record, true
		}
	}
	return nil, false
}

// ListSettlements returns every record, or only those in status when
// status is non-empty.
func (e *Engine) ListSettlements(status SettlementState) []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Record, 0, len(e.settlements))
	for _, record := range e.settlements {
		if status != "" && record.Status != status {
			continue
		}
		out = append(out, record)
	}
	return out
}

// Len returns the number of tracked settlements.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.settlements)
}

func (e *Engine) appendToLedger(ctx context.Context, record *Record, eventType, additionalPDOID string) (ledger.Entry, error) {
	pdoID := record.PDOID
	if additionalPDOID != "" {
		pdoID = additionalPDOID
	}

	pdoHash, err := pdo.ComputeHash(map[string]any{"settlement_id": record.SettlementID})
	if err != nil {
		return ledger.Entry{}, err
	}
	proofHash, err := pdo.ComputeHash(map[string]any{"pdo_id": pdoID})
	if err != nil {
		return ledger.Entry{}, err
	}
	decisionHash, err := pdo.ComputeHash(map[string]any{"event": eventType})
	if err != nil {
		return ledger.Entry{}, err
	}
	outcomeHash, err := pdo.ComputeHash(map[string]any{
		"settlement_id": record.SettlementID,
		"event":         eventType,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	return e.ledger.Append(ctx, ledger.AppendParams{
		PDOID:         pdoID,
		PacID:         record.PacID,
		BerID:         "ber_" + record.SettlementID,
		WrapID:        "wrap_" + record.SettlementID,
		OutcomeStatus: eventType,
		Issuer:        pdo.PDOAuthority,
		PDOHash:       pdoHash,
		ProofHash:     proofHash,
		DecisionHash:  decisionHash,
		OutcomeHash:   outcomeHash,
		PDOCreatedAt:  record.CreatedAt,
	})
}

func orUnknownSettlement(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
