// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"time"

	"github.com/chainbridge/kernel/gate"
)

// SettlementTransition is the immutable audit record of one settlement
// state change (INV-SETTLEMENT-005).
type SettlementTransition struct {
	TransitionID    string
	SettlementID    string
	FromState       SettlementState
	ToState         SettlementState
	PDOID           string
	PacID           string
	Reason          string
	TransitionedAt  string
	LedgerEntryID   string
	LedgerEntryHash string
	GateEvaluation  gate.Evaluation
}

// MilestoneTransition is the immutable audit record of one milestone
// state change (INV-SETTLEMENT-002, INV-SETTLEMENT-005).
type MilestoneTransition struct {
	TransitionID    string
	MilestoneID     string
	SettlementID    string
	FromState       MilestoneState
	ToState         MilestoneState
	PDOID           string
	PacID           string
	Reason          string
	TransitionedAt  string
	LedgerEntryID   string
	LedgerEntryHash string
	GateEvaluation  gate.Evaluation
}

// MilestoneRecord tracks one milestone's progress within a settlement.
type MilestoneRecord struct {
	MilestoneID      string
	SettlementID     string
	Sequence         int
	Name             string
	Description      string
	State            MilestoneState
	PDOID            string // PDO that authorized the milestone
	CompletionPDOID  string // PDO that completed it
	CreatedAt        string
	StartedAt        string
	CompletedAt      string
	Transitions      []MilestoneTransition
}

func newMilestoneRecord(settlementID, milestoneID, name, description, pdoID string, sequence int) *MilestoneRecord {
	return &MilestoneRecord{
		MilestoneID:  milestoneID,
		SettlementID: settlementID,
		Sequence:     sequence,
		Name:         name,
		Description:  description,
		State:        MilestonePending,
		PDOID:        pdoID,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// IsTerminal reports whether the milestone is in a terminal state.
func (m *MilestoneRecord) IsTerminal() bool { return m.State.IsTerminal() }
