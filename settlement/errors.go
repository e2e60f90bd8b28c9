// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import "fmt"

// PDORequiredError is raised when a settlement operation is attempted
// without a valid, gate-verified PDO (INV-SETTLEMENT-001).
type PDORequiredError struct {
	SettlementID string
	Reason       string
}

func (e *PDORequiredError) Error() string {
	return fmt.Sprintf("SETTLEMENT_PDO_REQUIRED: settlement %q blocked; reason: %s (INV-SETTLEMENT-001)",
		e.SettlementID, e.Reason)
}

// LedgerFailureError is raised when a ledger append fails during a
// state-changing settlement operation (INV-SETTLEMENT-004). The
// settlement is aborted, never left half-transitioned.
type LedgerFailureError struct {
	SettlementID string
	Cause        error
}

func (e *LedgerFailureError) Error() string {
	return fmt.Sprintf("SETTLEMENT_LEDGER_FAILURE: settlement %q aborted; ledger error: %v (INV-SETTLEMENT-004)",
		e.SettlementID, e.Cause)
}

func (e *LedgerFailureError) Unwrap() error { return e.Cause }

// NotFoundError is raised when a settlement_id has no record.
type NotFoundError struct {
	SettlementID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("SETTLEMENT_NOT_FOUND: settlement %q not found", e.SettlementID)
}

// AlreadyFinalizedError is raised when attempting to modify a
// settlement already in a terminal state.
type AlreadyFinalizedError struct {
	SettlementID string
	State        SettlementState
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("SETTLEMENT_ALREADY_FINALIZED: settlement %q is already %q and cannot be modified",
		e.SettlementID, e.State)
}

// InvalidTransitionError is raised when a settlement or milestone
// transition is not in the allowed-transitions set for its current
// state.
type InvalidTransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: transition from %q to %q not allowed; valid targets: %v",
		e.From, e.To, e.Allowed)
}

// MilestonePDORequiredError is raised when a milestone transition is
// attempted without a gate-verified milestone PDO (INV-SETTLEMENT-002).
type MilestonePDORequiredError struct {
	MilestoneID string
	From        string
	To          string
	Reason      string
}

func (e *MilestonePDORequiredError) Error() string {
	return fmt.Sprintf("MILESTONE_PDO_REQUIRED: milestone %q transition from %q to %q blocked; reason: %s (INV-SETTLEMENT-002)",
		e.MilestoneID, e.From, e.To, e.Reason)
}

// LedgerAppendRequiredError is raised when a state-machine transition's
// ledger append fails (INV-SETTLEMENT-003). The state is left
// unchanged.
type LedgerAppendRequiredError struct {
	From        string
	To          string
	LedgerError error
}

func (e *LedgerAppendRequiredError) Error() string {
	return fmt.Sprintf("LEDGER_APPEND_REQUIRED: transition from %q to %q blocked; ledger error: %v (INV-SETTLEMENT-003)",
		e.From, e.To, e.LedgerError)
}

func (e *LedgerAppendRequiredError) Unwrap() error { return e.LedgerError }

// MilestoneNotFoundError is raised when a milestone_id is unknown to
// its settlement.
type MilestoneNotFoundError struct {
	MilestoneID string
}

func (e *MilestoneNotFoundError) Error() string {
	return fmt.Sprintf("MILESTONE_NOT_FOUND: milestone %q not found", e.MilestoneID)
}

// DuplicateMilestoneError is raised when a milestone_id is added twice
// to the same settlement.
type DuplicateMilestoneError struct {
	MilestoneID string
}

func (e *DuplicateMilestoneError) Error() string {
	return fmt.Sprintf("DUPLICATE_MILESTONE: milestone %q already exists", e.MilestoneID)
}
