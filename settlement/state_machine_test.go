// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge/kernel/ledger"
)

func newTestMachine(t *testing.T, settlementID string) (*StateMachine, func(pacID string) string) {
	t.Helper()
	g, _ := newTestGate(t)
	l := ledger.New(ledger.NewMemStore())
	m := NewStateMachine(settlementID, StateDraft, g, l)

	mint := func(pacID string) string {
		return mintPDO(t, g, pacID).PDOID
	}
	return m, mint
}

func TestStateMachineHappyPathTransitions(t *testing.T) {
	ctx := context.Background()
	m, mint := newTestMachine(t, "settle_1")
	pdoID := mint("PAC-1")

	_, err := m.Transition(ctx, StatePending, pdoID, "PAC-1", "moving to pending", "")
	require.NoError(t, err)
	require.Equal(t, StatePending, m.State())

	_, err = m.Transition(ctx, StateInitiated, pdoID, "PAC-1", "initiated", "")
	require.NoError(t, err)
	require.Equal(t, StateInitiated, m.State())

	transitions := m.GetTransitions()
	require.Len(t, transitions, 2)
	require.NotEmpty(t, transitions[0].LedgerEntryID)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	m, mint := newTestMachine(t, "settle_1")
	pdoID := mint("PAC-1")

	_, err := m.Transition(ctx, StateCompleted, pdoID, "PAC-1", "skip ahead", "")
	require.Error(t, err)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StateDraft, m.State())
}

func TestStateMachineRejectsUnverifiedPDO(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t, "settle_1")

	_, err := m.Transition(ctx, StatePending, "pdo_nonexistent", "PAC-1", "bad pdo", "")
	require.Error(t, err)
	var pdoErr *PDORequiredError
	require.ErrorAs(t, err, &pdoErr)
	require.Equal(t, StateDraft, m.State())
}

func TestMilestoneLifecycleAndCompleteMilestone(t *testing.T) {
	ctx := context.Background()
	m, mint := newTestMachine(t, "settle_1")
	pdoID := mint("PAC-1")

	milestone, err := m.AddMilestone("ms_1", "first milestone", "", pdoID)
	require.NoError(t, err)
	require.Equal(t, MilestonePending, milestone.State)

	_, err = m.TransitionMilestone(ctx, "ms_1", MilestoneInProgress, pdoID, "PAC-1", "started", "")
	require.NoError(t, err)

	_, err = m.TransitionMilestone(ctx, "ms_1", MilestoneAwaitingVerification, pdoID, "PAC-1", "done", "")
	require.NoError(t, err)

	_, err = m.CompleteMilestone(ctx, "ms_1", pdoID, "PAC-1", "signed off", "")
	require.NoError(t, err)

	record, ok := m.GetMilestone("ms_1")
	require.True(t, ok)
	require.Equal(t, MilestoneCompleted, record.State)
	require.NotEmpty(t, record.CompletedAt)
	require.Equal(t, pdoID, record.CompletionPDOID)
	require.Equal(t, 1, m.CompletedMilestoneCount())
}

func TestMilestoneTransitionRequiresPDO(t *testing.T) {
	ctx := context.Background()
	m, mint := newTestMachine(t, "settle_1")
	pdoID := mint("PAC-1")

	_, err := m.AddMilestone("ms_1", "first milestone", "", pdoID)
	require.NoError(t, err)

	_, err = m.TransitionMilestone(ctx, "ms_1", MilestoneInProgress, "pdo_nonexistent", "PAC-1", "started", "")
	require.Error(t, err)
	var milestoneErr *MilestonePDORequiredError
	require.ErrorAs(t, err, &milestoneErr)

	record, _ := m.GetMilestone("ms_1")
	require.Equal(t, MilestonePending, record.State)
}

func TestDuplicateMilestoneRejected(t *testing.T) {
	m, mint := newTestMachine(t, "settle_1")
	pdoID := mint("PAC-1")
	_, err := m.AddMilestone("ms_1", "first", "", pdoID)
	require.NoError(t, err)
	_, err = m.AddMilestone("ms_1", "first again", "", pdoID)
	require.Error(t, err)
	var dup *DuplicateMilestoneError
	require.ErrorAs(t, err, &dup)
}

func TestGetNextMilestoneSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	m, mint := newTestMachine(t, "settle_1")
	pdoID := mint("PAC-1")

	_, err := m.AddMilestone("ms_1", "first", "", pdoID)
	require.NoError(t, err)
	_, err = m.AddMilestone("ms_2", "second", "", pdoID)
	require.NoError(t, err)

	_, err = m.TransitionMilestone(ctx, "ms_1", MilestoneSkipped, pdoID, "PAC-1", "not needed", "")
	require.NoError(t, err)

	next, ok := m.GetNextMilestone()
	require.True(t, ok)
	require.Equal(t, "ms_2", next.MilestoneID)
}
