// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pdo implements the Proof → Decision → Outcome artifact: the
// immutable, machine-verifiable record of one completed execution loop,
// and the session registry that enforces one PDO per PAC.
package pdo

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chainbridge/kernel/hashutil"
)

// PDOAuthority is the only issuer permitted to mint a PDOArtifact
// (INV-PDO-002). Agents and drafting surfaces are prohibited.
const PDOAuthority = "GID-00"

// Outcome is the closed set of terminal PDO outcome statuses.
type Outcome string

const (
	OutcomeAccepted   Outcome = "ACCEPTED"
	OutcomeCorrective Outcome = "CORRECTIVE"
	OutcomeRejected   Outcome = "REJECTED"
)

func (o Outcome) valid() bool {
	switch o {
	case OutcomeAccepted, OutcomeCorrective, OutcomeRejected:
		return true
	default:
		return false
	}
}

var sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

func isValidHash(h string) bool { return sha256Pattern.MatchString(h) }

// Artifact is the immutable PDO value. Every field is set once at
// construction by Factory.Create and never mutated afterward
// (INV-PDO-003).
type Artifact struct {
	PDOID string
	PacID string

	WrapID string
	BerID  string

	Issuer string

	ProofHash    string
	DecisionHash string
	OutcomeHash  string
	PDOHash      string

	ProofAt    string
	DecisionAt string
	OutcomeAt  string
	CreatedAt  string

	OutcomeStatus Outcome
}

func (a Artifact) IsAccepted() bool   { return a.OutcomeStatus == OutcomeAccepted }
func (a Artifact) IsCorrective() bool { return a.OutcomeStatus == OutcomeCorrective }
func (a Artifact) IsRejected() bool   { return a.OutcomeStatus == OutcomeRejected }

// IsValid reports whether the artifact's structure — authority, outcome
// enum, and all four hash hex strings — is well-formed.
func (a Artifact) IsValid() bool {
	return a.Issuer == PDOAuthority &&
		a.OutcomeStatus.valid() &&
		isValidHash(a.ProofHash) &&
		isValidHash(a.DecisionHash) &&
		isValidHash(a.OutcomeHash) &&
		isValidHash(a.PDOHash)
}

// ToMap is the deterministic serialization used for hashing and
// round-tripping (spec §8: to_dict/from_dict round trip preserves
// every field and VerifyChain).
func (a Artifact) ToMap() map[string]any {
	return map[string]any{
		"pdo_id":         a.PDOID,
		"pac_id":         a.PacID,
		"wrap_id":        a.WrapID,
		"ber_id":         a.BerID,
		"issuer":         a.Issuer,
		"proof_hash":     a.ProofHash,
		"decision_hash":  a.DecisionHash,
		"outcome_hash":   a.OutcomeHash,
		"pdo_hash":       a.PDOHash,
		"proof_at":       a.ProofAt,
		"decision_at":    a.DecisionAt,
		"outcome_at":     a.OutcomeAt,
		"created_at":     a.CreatedAt,
		"outcome_status": string(a.OutcomeStatus),
	}
}

// FromMap reconstructs an Artifact from ToMap's output.
func FromMap(data map[string]any) Artifact {
	str := func(k string) string {
		v, _ := data[k].(string)
		return v
	}
	return Artifact{
		PDOID:         str("pdo_id"),
		PacID:         str("pac_id"),
		WrapID:        str("wrap_id"),
		BerID:         str("ber_id"),
		Issuer:        str("issuer"),
		ProofHash:     str("proof_hash"),
		DecisionHash:  str("decision_hash"),
		OutcomeHash:   str("outcome_hash"),
		PDOHash:       str("pdo_hash"),
		ProofAt:       str("proof_at"),
		DecisionAt:    str("decision_at"),
		OutcomeAt:     str("outcome_at"),
		CreatedAt:     str("created_at"),
		OutcomeStatus: Outcome(str("outcome_status")),
	}
}

// ComputeHash is the SHA-256 hex digest of the canonical (key-sorted)
// JSON encoding of data.
func ComputeHash(data map[string]any) (string, error) {
	return hashutil.SortedJSONHash(data)
}

// ComputeProofHash hashes the raw WRAP data.
func ComputeProofHash(wrapData map[string]any) (string, error) {
	return ComputeHash(wrapData)
}

// ComputeDecisionHash binds the proof hash to the BER data.
func ComputeDecisionHash(proofHash string, berData map[string]any) (string, error) {
	return ComputeHash(map[string]any{
		"proof_hash": proofHash,
		"ber_data":   berData,
	})
}

// ComputeOutcomeHash binds the decision hash to the outcome data.
func ComputeOutcomeHash(decisionHash string, outcomeData map[string]any) (string, error) {
	return ComputeHash(map[string]any{
		"decision_hash": decisionHash,
		"outcome_data":  outcomeData,
	})
}

// ComputePDOHash is the final chain-binding hash over identity metadata.
func ComputePDOHash(outcomeHash string, metadata map[string]any) (string, error) {
	return ComputeHash(map[string]any{
		"outcome_hash": outcomeHash,
		"metadata":     metadata,
	})
}

// Factory is the only legitimate minter of Artifact values.
type Factory struct{}

// CreateParams carries the explicit inputs to Factory.Create. ProofAt
// and DecisionAt default to "now" (RFC 3339) when empty, matching the
// teacher's optional-timestamp convention.
type CreateParams struct {
	PacID         string
	WrapID        string
	WrapData      map[string]any
	BerID         string
	BerData       map[string]any
	OutcomeStatus Outcome
	Issuer        string
	ProofAt       string
	DecisionAt    string
}

// Create validates and mints an Artifact, enforcing (in order):
// authority (INV-PDO-002), completeness (INV-PDO-006), outcome validity,
// then computes the hash chain (INV-PDO-004).
func (Factory) Create(p CreateParams) (Artifact, error) {
	if p.Issuer != PDOAuthority {
		return Artifact{}, &AuthorityError{Issuer: p.Issuer}
	}

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
	if p.BerID == "" {
		missing = append(missing, "ber_id")
	}
	if len(p.BerData) == 0 {
		missing = append(missing, "ber_data")
	}
	if p.OutcomeStatus == "" {
		missing = append(missing, "outcome_status")
	}
	if len(missing) > 0 {
		return Artifact{}, &IncompleteError{Missing: missing}
	}

	if !p.OutcomeStatus.valid() {
		return Artifact{}, &InvalidOutcomeError{Outcome: string(p.OutcomeStatus)}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	proofAt := p.ProofAt
	if proofAt == "" {
		proofAt = now
	}
	decisionAt := p.DecisionAt
	if decisionAt == "" {
		decisionAt = now
	}
	outcomeAt := now
	createdAt := now

	proofHash, err := ComputeProofHash(p.WrapData)
	if err != nil {
		return Artifact{}, err
	}
	decisionHash, err := ComputeDecisionHash(proofHash, p.BerData)
	if err != nil {
		return Artifact{}, err
	}
	outcomeHash, err := ComputeOutcomeHash(decisionHash, map[string]any{
		"outcome_status": string(p.OutcomeStatus),
		"outcome_at":     outcomeAt,
	})
	if err != nil {
		return Artifact{}, err
	}

	pdoID := "pdo_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	pdoHash, err := ComputePDOHash(outcomeHash, map[string]any{
		"pdo_id":     pdoID,
		"pac_id":     p.PacID,
		"wrap_id":    p.WrapID,
		"ber_id":     p.BerID,
		"issuer":     p.Issuer,
		"created_at": createdAt,
	})
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{
		PDOID:         pdoID,
		PacID:         p.PacID,
		WrapID:        p.WrapID,
		BerID:         p.BerID,
		Issuer:        p.Issuer,
		ProofHash:     proofHash,
		DecisionHash:  decisionHash,
		OutcomeHash:   outcomeHash,
		PDOHash:       pdoHash,
		ProofAt:       proofAt,
		DecisionAt:    decisionAt,
		OutcomeAt:     outcomeAt,
		CreatedAt:     createdAt,
		OutcomeStatus: p.OutcomeStatus,
	}, nil
}

// Serializable lets a WRAP or BER artifact hand its fields to
// CreateFromArtifacts without runtime reflection (spec §9: "replace
// with explicit builder parameters or a small Serializable capability").
type Serializable interface {
	ToMap() map[string]any
}

// WrapSource is the minimal surface CreateFromArtifacts needs from a
// WRAP (proof) artifact.
type WrapSource interface {
	Serializable
	ID() string
	ReceivedAt() string
}

// BerDecision is the closed set of decision strings a BER may carry.
type BerDecision string

const (
	DecisionApprove    BerDecision = "APPROVE"
	DecisionCorrective BerDecision = "CORRECTIVE"
	DecisionReject     BerDecision = "REJECT"
)

// BerSource is the minimal surface CreateFromArtifacts needs from a BER
// (decision) artifact.
type BerSource interface {
	Serializable
	ID() string
	IssuedAt() string
	Decision() BerDecision
}

// CreateFromArtifacts is the convenience path for callers holding WRAP
// and BER artifacts: it maps a BER decision to a PDO outcome status
// (APPROVE→ACCEPTED, CORRECTIVE→CORRECTIVE, REJECT→REJECTED) and
// delegates to Create.
//
// The teacher's Python defaults an unrecognized decision to ACCEPTED.
// Per spec §9's redesign note, this rewrite treats that case as an
// explicit error instead of silently accepting.
func (f Factory) CreateFromArtifacts(pacID string, wrap WrapSource, ber BerSource, issuer string) (Artifact, error) {
	var outcome Outcome
	switch ber.Decision() {
	case DecisionApprove:
		outcome = OutcomeAccepted
	case DecisionCorrective:
		outcome = OutcomeCorrective
	case DecisionReject:
		outcome = OutcomeRejected
	default:
		return Artifact{}, &InvalidOutcomeError{Outcome: string(ber.Decision())}
	}

	return f.Create(CreateParams{
		PacID:         pacID,
		WrapID:        wrap.ID(),
		WrapData:      wrap.ToMap(),
		BerID:         ber.ID(),
		BerData:       ber.ToMap(),
		OutcomeStatus: outcome,
		Issuer:        issuer,
		ProofAt:       wrap.ReceivedAt(),
		DecisionAt:    ber.IssuedAt(),
	})
}

// VerifyChain checks structural validity only: authority, outcome enum,
// and hex-format hashes. It does not recompute the chain.
func VerifyChain(a Artifact) bool {
	return a.IsValid()
}

// VerifyFull recomputes every hash in the chain from the original WRAP
// and BER data and compares against the stored values.
func VerifyFull(a Artifact, wrapData, berData map[string]any) (bool, error) {
	expectedProof, err := ComputeProofHash(wrapData)
	if err != nil {
		return false, err
	}
	if a.ProofHash != expectedProof {
		return false, &HashMismatchError{Component: "proof", Expected: expectedProof, Actual: a.ProofHash}
	}

	expectedDecision, err := ComputeDecisionHash(a.ProofHash, berData)
	if err != nil {
		return false, err
	}
	if a.DecisionHash != expectedDecision {
		return false, &HashMismatchError{Component: "decision", Expected: expectedDecision, Actual: a.DecisionHash}
	}

	expectedOutcome, err := ComputeOutcomeHash(a.DecisionHash, map[string]any{
		"outcome_status": string(a.OutcomeStatus),
		"outcome_at":     a.OutcomeAt,
	})
	if err != nil {
		return false, err
	}
	if a.OutcomeHash != expectedOutcome {
		return false, &HashMismatchError{Component: "outcome", Expected: expectedOutcome, Actual: a.OutcomeHash}
	}

	expectedPDO, err := ComputePDOHash(a.OutcomeHash, map[string]any{
		"pdo_id":     a.PDOID,
		"pac_id":     a.PacID,
		"wrap_id":    a.WrapID,
		"ber_id":     a.BerID,
		"issuer":     a.Issuer,
		"created_at": a.CreatedAt,
	})
	if err != nil {
		return false, err
	}
	if a.PDOHash != expectedPDO {
		return false, &HashMismatchError{Component: "pdo", Expected: expectedPDO, Actual: a.PDOHash}
	}

	return true, nil
}
