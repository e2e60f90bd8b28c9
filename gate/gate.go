// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gate implements the PDO execution gate: the single
// enforcement point every write-path passes through —
// no execution without proof, no settlement without decision,
// no outcome without a persisted PDO.
package gate

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainbridge/kernel/pdo"
)

// Version is the gate's audit-record wire-format version.
const Version = "1.0.0"

// Gate identifiers, used for telemetry and GateEvaluation.GateID.
const (
	GateProof    = "PROOF_GATE"
	GateDecision = "DECISION_GATE"
	GateOutcome  = "OUTCOME_GATE"
	GatePDOFinal = "PDO_FINAL_GATE"
)

// Result is the closed set of gate evaluation outcomes.
type Result string

const (
	ResultPass    Result = "PASS"
	ResultBlocked Result = "BLOCKED"
	ResultError   Result = "ERROR"
)

// BlockReason is the closed set of reasons a gate may block on.
type BlockReason string

const (
	ReasonNoProof             BlockReason = "NO_PROOF"
	ReasonInvalidProof        BlockReason = "INVALID_PROOF"
	ReasonProofHashMismatch   BlockReason = "PROOF_HASH_MISMATCH"
	ReasonNoDecision          BlockReason = "NO_DECISION"
	ReasonInvalidDecision     BlockReason = "INVALID_DECISION"
	ReasonDecisionNotApproved BlockReason = "DECISION_NOT_APPROVED"
	ReasonNoPDO               BlockReason = "NO_PDO"
	ReasonPDONotEmitted       BlockReason = "PDO_NOT_EMITTED"
	ReasonAuthorityViolation  BlockReason = "AUTHORITY_VIOLATION"
	ReasonOrderingViolation   BlockReason = "ORDERING_VIOLATION"
)

// GateError is the typed error every blocked gate call raises, carrying
// enough context for both programmatic handling and audit export.
type GateError struct {
	GateID    string
	Reason    BlockReason
	Message   string
	Context   map[string]any
	Timestamp string
}

func (e *GateError) Error() string { return e.Message }

func newGateError(gateID string, reason BlockReason, message string, context map[string]any) *GateError {
	return &GateError{
		GateID:    gateID,
		Reason:    reason,
		Message:   message,
		Context:   context,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Evaluation is the immutable audit record every gate check produces,
// whether it passes or blocks (INV-PDO-GATE-005).
type Evaluation struct {
	EvaluationID string
	GateID       string
	PacID        string
	Result       Result
	Reason       BlockReason // empty when Result == ResultPass
	EvaluatedAt  string
	ProofHash    string
	DecisionHash string
	Evaluator    string
	Context      map[string]any
}

func (e Evaluation) IsPass() bool    { return e.Result == ResultPass }
func (e Evaluation) IsBlocked() bool { return e.Result == ResultBlocked }

func newEvaluationID() string {
	return "eval_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// ProofContainer packages every proof (WRAP) element needed by gate 1.
type ProofContainer struct {
	PacID      string
	WrapID     string
	WrapData   map[string]any
	WrapHash   string
	ReceivedAt string
	AgentGID   string
}

// NewProofContainer computes WrapHash from wrapData and stamps
// ReceivedAt with the current time, matching the teacher's
// __post_init__ convenience.
func NewProofContainer(pacID, wrapID string, wrapData map[string]any) (ProofContainer, error) {
	hash, err := pdo.ComputeHash(wrapData)
	if err != nil {
		return ProofContainer{}, err
	}
	return ProofContainer{
		PacID:      pacID,
		WrapID:     wrapID,
		WrapData:   wrapData,
		WrapHash:   hash,
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (p ProofContainer) IsValid() bool {
	return p.PacID != "" && p.WrapID != "" && len(p.WrapData) > 0 && p.WrapHash != ""
}

func (p ProofContainer) missingFields() []string {
	var missing []string
	if p.PacID == "" {
		missing = append(missing, "pac_id")
	}
	if p.WrapID == "" {
		missing = append(missing, "wrap_id")
	}
	if len(p.WrapData) == 0 {
		missing = append(missing, "wrap_data")
	}
	if p.WrapHash == "" {
		missing = append(missing, "wrap_hash")
	}
	return missing
}

// DecisionContainer packages every decision (BER) element needed by
// gate 2. DecisionStatus is compared case-sensitively against APPROVE
// /ACCEPTED for approval.
type DecisionContainer struct {
	PacID          string
	BerID          string
	BerData        map[string]any
	DecisionHash   string
	ProofHash      string // must link to the proof gate's hash
	DecisionStatus string
	DecidedAt      string
	Issuer         string
	Rationale      string
}

// NewDecisionContainer computes DecisionHash from proofHash and berData,
// stamps DecidedAt with the current time, and sets Issuer to
// pdo.PDOAuthority.
func NewDecisionContainer(pacID, berID string, berData map[string]any, proofHash, decisionStatus string) (DecisionContainer, error) {
	hash, err := pdo.ComputeHash(map[string]any{
		"proof_hash": proofHash,
		"ber_data":   berData,
	})
	if err != nil {
		return DecisionContainer{}, err
	}
	return DecisionContainer{
		PacID:          pacID,
		BerID:          berID,
		BerData:        berData,
		DecisionHash:   hash,
		ProofHash:      proofHash,
		DecisionStatus: decisionStatus,
		DecidedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		Issuer:         pdo.PDOAuthority,
	}, nil
}

func (d DecisionContainer) IsApproved() bool {
	return d.DecisionStatus == "APPROVE" || d.DecisionStatus == "ACCEPTED"
}

func (d DecisionContainer) IsValid() bool {
	return d.PacID != "" && d.BerID != "" && len(d.BerData) > 0 &&
		d.DecisionHash != "" && d.ProofHash != "" && d.DecisionStatus != ""
}

// Registry is the subset of *pdo.Registry the gate depends on.
type Registry interface {
	GetByPacID(pacID string) (pdo.Artifact, bool)
	GetByPDOID(pdoID string) (pdo.Artifact, bool)
	Register(a pdo.Artifact) error
}

// Gate is the single enforcement point for the PDO pipeline. It is
// fail-closed: every path defaults to BLOCKED unless explicitly passed
// (INV-PDO-GATE-004).
type Gate struct {
	registry Registry

	mu          sync.Mutex
	evaluations []Evaluation
}

// New constructs a Gate against registry. Spec §9 replaces the
// teacher's lazily-initialized singleton with an explicit, always-fresh
// instance owned by the Kernel.
func New(registry Registry) *Gate {
	return &Gate{registry: registry}
}

func (g *Gate) record(e Evaluation) {
	g.mu.Lock()
	g.evaluations = append(g.evaluations, e)
	g.mu.Unlock()
}

// RequireProof is gate 1: no execution without a valid proof
// (INV-PDO-GATE-001).
func (g *Gate) RequireProof(proof *ProofContainer) (Evaluation, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if proof == nil {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateProof,
			PacID:        "UNKNOWN",
			Result:       ResultBlocked,
			Reason:       ReasonNoProof,
			EvaluatedAt:  now,
			Evaluator:    pdo.PDOAuthority,
		}
		g.record(eval)
		return eval, newGateError(GateProof, ReasonNoProof, "execution blocked: no proof provided", nil)
	}

	if !proof.IsValid() {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateProof,
			PacID:        orUnknown(proof.PacID),
			Result:       ResultBlocked,
			Reason:       ReasonInvalidProof,
			EvaluatedAt:  now,
			ProofHash:    proof.WrapHash,
			Evaluator:    pdo.PDOAuthority,
			Context:      map[string]any{"missing_fields": proof.missingFields()},
		}
		g.record(eval)
		return eval, newGateError(GateProof, ReasonInvalidProof,
			"execution blocked: invalid proof for PAC '"+proof.PacID+"'",
			map[string]any{"pac_id": proof.PacID})
	}

	eval := Evaluation{
		EvaluationID: newEvaluationID(),
		GateID:       GateProof,
		PacID:        proof.PacID,
		Result:       ResultPass,
		EvaluatedAt:  now,
		ProofHash:    proof.WrapHash,
		Evaluator:    pdo.PDOAuthority,
	}
	g.record(eval)
	return eval, nil
}

// RequireDecision is gate 2: no settlement without a valid decision,
// hash-linked to the proof gate (INV-PDO-GATE-002).
func (g *Gate) RequireDecision(decision *DecisionContainer, proofHash string) (Evaluation, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if decision == nil {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateDecision,
			PacID:        "UNKNOWN",
			Result:       ResultBlocked,
			Reason:       ReasonNoDecision,
			EvaluatedAt:  now,
			ProofHash:    proofHash,
			Evaluator:    pdo.PDOAuthority,
		}
		g.record(eval)
		return eval, newGateError(GateDecision, ReasonNoDecision, "settlement blocked: no decision provided", nil)
	}

	if !decision.IsValid() {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateDecision,
			PacID:        orUnknown(decision.PacID),
			Result:       ResultBlocked,
			Reason:       ReasonInvalidDecision,
			EvaluatedAt:  now,
			ProofHash:    proofHash,
			DecisionHash: decision.DecisionHash,
			Evaluator:    pdo.PDOAuthority,
		}
		g.record(eval)
		return eval, newGateError(GateDecision, ReasonInvalidDecision,
			"settlement blocked: invalid decision for PAC '"+decision.PacID+"'",
			map[string]any{"pac_id": decision.PacID})
	}

	if decision.ProofHash != proofHash {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateDecision,
			PacID:        decision.PacID,
			Result:       ResultBlocked,
			Reason:       ReasonProofHashMismatch,
			EvaluatedAt:  now,
			ProofHash:    proofHash,
			DecisionHash: decision.DecisionHash,
			Evaluator:    pdo.PDOAuthority,
			Context: map[string]any{
				"expected_proof_hash": proofHash,
				"decision_proof_hash": decision.ProofHash,
			},
		}
		g.record(eval)
		return eval, newGateError(GateDecision, ReasonProofHashMismatch,
			"settlement blocked: proof hash mismatch for PAC '"+decision.PacID+"'",
			map[string]any{"pac_id": decision.PacID})
	}

	if !decision.IsApproved() {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateDecision,
			PacID:        decision.PacID,
			Result:       ResultBlocked,
			Reason:       ReasonDecisionNotApproved,
			EvaluatedAt:  now,
			ProofHash:    proofHash,
			DecisionHash: decision.DecisionHash,
			Evaluator:    pdo.PDOAuthority,
			Context:      map[string]any{"decision_status": decision.DecisionStatus},
		}
		g.record(eval)
		return eval, newGateError(GateDecision, ReasonDecisionNotApproved,
			"settlement blocked: decision not approved for PAC '"+decision.PacID+"'",
			map[string]any{"pac_id": decision.PacID, "status": decision.DecisionStatus})
	}

	eval := Evaluation{
		EvaluationID: newEvaluationID(),
		GateID:       GateDecision,
		PacID:        decision.PacID,
		Result:       ResultPass,
		EvaluatedAt:  now,
		ProofHash:    proofHash,
		DecisionHash: decision.DecisionHash,
		Evaluator:    pdo.PDOAuthority,
	}
	g.record(eval)
	return eval, nil
}

// RequirePDO is gate 3: no outcome without a persisted PDO
// (INV-PDO-GATE-003).
func (g *Gate) RequirePDO(pacID string) (Evaluation, pdo.Artifact, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	artifact, ok := g.registry.GetByPacID(pacID)
	if !ok {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GateOutcome,
			PacID:        pacID,
			Result:       ResultBlocked,
			Reason:       ReasonNoPDO,
			EvaluatedAt:  now,
			Evaluator:    pdo.PDOAuthority,
		}
		g.record(eval)
		return eval, pdo.Artifact{}, newGateError(GateOutcome, ReasonNoPDO,
			"outcome blocked: no PDO for PAC '"+pacID+"'",
			map[string]any{"pac_id": pacID})
	}

	eval := Evaluation{
		EvaluationID: newEvaluationID(),
		GateID:       GateOutcome,
		PacID:        pacID,
		Result:       ResultPass,
		EvaluatedAt:  now,
		ProofHash:    artifact.ProofHash,
		DecisionHash: artifact.DecisionHash,
		Evaluator:    pdo.PDOAuthority,
		Context:      map[string]any{"pdo_id": artifact.PDOID},
	}
	g.record(eval)
	return eval, artifact, nil
}

// VerifyPDOExists is the settlement engine's read-only hook
// (INV-SETTLEMENT-001). It looks up by pdo_id first, then falls back
// to pac_id; a mismatched pdo_id found via pac_id is
// ReasonPDONotEmitted rather than ReasonNoPDO.
func (g *Gate) VerifyPDOExists(pdoID, pacID, evaluator string) Evaluation {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if evaluator == "" {
		evaluator = pdo.PDOAuthority
	}

	artifact, ok := g.registry.GetByPDOID(pdoID)
	if !ok {
		artifact, ok = g.registry.GetByPacID(pacID)
	}

	if !ok {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GatePDOFinal,
			PacID:        pacID,
			Result:       ResultBlocked,
			Reason:       ReasonNoPDO,
			EvaluatedAt:  now,
			Evaluator:    evaluator,
			Context:      map[string]any{"pdo_id": pdoID, "pac_id": pacID},
		}
		g.record(eval)
		return eval
	}

	if artifact.PDOID != pdoID {
		eval := Evaluation{
			EvaluationID: newEvaluationID(),
			GateID:       GatePDOFinal,
			PacID:        pacID,
			Result:       ResultBlocked,
			Reason:       ReasonPDONotEmitted,
			EvaluatedAt:  now,
			ProofHash:    artifact.ProofHash,
			DecisionHash: artifact.DecisionHash,
			Evaluator:    evaluator,
			Context: map[string]any{
				"expected_pdo_id": pdoID,
				"found_pdo_id":    artifact.PDOID,
			},
		}
		g.record(eval)
		return eval
	}

	eval := Evaluation{
		EvaluationID: newEvaluationID(),
		GateID:       GatePDOFinal,
		PacID:        pacID,
		Result:       ResultPass,
		EvaluatedAt:  now,
		ProofHash:    artifact.ProofHash,
		DecisionHash: artifact.DecisionHash,
		Evaluator:    evaluator,
		Context:      map[string]any{"pdo_id": artifact.PDOID, "outcome": string(artifact.OutcomeStatus)},
	}
	g.record(eval)
	return eval
}

// ExecuteWithPDO is the canonical entry point for PDO-governed
// execution: gate 1, gate 2, mint, and (if persist) register.
func (g *Gate) ExecuteWithPDO(proof *ProofContainer, decision *DecisionContainer, persist bool) (pdo.Artifact, error) {
	if _, err := g.RequireProof(proof); err != nil {
		return pdo.Artifact{}, err
	}
	if _, err := g.RequireDecision(decision, proof.WrapHash); err != nil {
		return pdo.Artifact{}, err
	}

	outcome := pdo.OutcomeCorrective
	if decision.IsApproved() {
		outcome = pdo.OutcomeAccepted
	}

	artifact, err := (pdo.Factory{}).Create(pdo.CreateParams{
		PacID:         proof.PacID,
		WrapID:        proof.WrapID,
		WrapData:      proof.WrapData,
		BerID:         decision.BerID,
		BerData:       decision.BerData,
		OutcomeStatus: outcome,
		Issuer:        pdo.PDOAuthority,
		ProofAt:       proof.ReceivedAt,
		DecisionAt:    decision.DecidedAt,
	})
	if err != nil {
		return pdo.Artifact{}, err
	}

	if persist {
		if err := g.registry.Register(artifact); err != nil {
			return pdo.Artifact{}, err
		}
	}

	return artifact, nil
}

// GetEvaluations returns every recorded evaluation, optionally filtered
// by pac_id, gate_id, and/or result. An empty filter matches everything.
func (g *Gate) GetEvaluations(pacID, gateID string, result Result) []Evaluation {
	g.mu.Lock()
	all := make([]Evaluation, len(g.evaluations))
	copy(all, g.evaluations)
	g.mu.Unlock()

	out := all[:0:0]
	for _, e := range all {
		if pacID != "" && e.PacID != pacID {
			continue
		}
		if gateID != "" && e.GateID != gateID {
			continue
		}
		if result != "" && e.Result != result {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetBlockedEvaluations returns every BLOCKED evaluation recorded so far.
func (g *Gate) GetBlockedEvaluations() []Evaluation {
	return g.GetEvaluations("", "", ResultBlocked)
}

// ExportAuditTrail returns the complete evaluation history, in
// recording order, as a compliance-ready slice.
func (g *Gate) ExportAuditTrail() []Evaluation {
	return g.GetEvaluations("", "", "")
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
