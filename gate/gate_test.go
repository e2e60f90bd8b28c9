// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge/kernel/pdo"
)

func TestExecuteWithPDOHappyPath(t *testing.T) {
	registry := pdo.NewRegistry()
	g := New(registry)

	proof, err := NewProofContainer("PAC-1", "W1", map[string]any{"status": "COMPLETE"})
	require.NoError(t, err)

	decision, err := NewDecisionContainer("PAC-1", "B1", map[string]any{"status": "APPROVE"}, proof.WrapHash, "APPROVE")
	require.NoError(t, err)

	artifact, err := g.ExecuteWithPDO(&proof, &decision, true)
	require.NoError(t, err)
	require.Equal(t, pdo.OutcomeAccepted, artifact.OutcomeStatus)
	require.Equal(t, 1, registry.Count())
}

func TestRequireProofNilBlocks(t *testing.T) {
	g := New(pdo.NewRegistry())
	_, err := g.RequireProof(nil)
	require.Error(t, err)
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, ReasonNoProof, gateErr.Reason)
	require.Len(t, g.GetBlockedEvaluations(), 1)
}

func TestRequireDecisionProofHashMismatch(t *testing.T) {
	g := New(pdo.NewRegistry())
	proof, err := NewProofContainer("PAC-1", "W1", map[string]any{"status": "COMPLETE"})
	require.NoError(t, err)

	decision, err := NewDecisionContainer("PAC-1", "B1", map[string]any{"status": "APPROVE"}, "wrong-hash", "APPROVE")
	require.NoError(t, err)

	_, err = g.RequireDecision(&decision, proof.WrapHash)
	require.Error(t, err)
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, ReasonProofHashMismatch, gateErr.Reason)
}

func TestRequireDecisionNotApproved(t *testing.T) {
	g := New(pdo.NewRegistry())
	proof, err := NewProofContainer("PAC-1", "W1", map[string]any{"status": "COMPLETE"})
	require.NoError(t, err)

	decision, err := NewDecisionContainer("PAC-1", "B1", map[string]any{"status": "REJECT"}, proof.WrapHash, "REJECT")
	require.NoError(t, err)

	_, err = g.RequireDecision(&decision, proof.WrapHash)
	require.Error(t, err)
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, ReasonDecisionNotApproved, gateErr.Reason)
}

func TestRequirePDOBlocksWhenMissing(t *testing.T) {
	g := New(pdo.NewRegistry())
	_, _, err := g.RequirePDO("PAC-nonexistent")
	require.Error(t, err)
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, ReasonNoPDO, gateErr.Reason)
}

func TestVerifyPDOExistsFallsBackToPacID(t *testing.T) {
	registry := pdo.NewRegistry()
	g := New(registry)

	proof, err := NewProofContainer("PAC-1", "W1", map[string]any{"status": "COMPLETE"})
	require.NoError(t, err)
	decision, err := NewDecisionContainer("PAC-1", "B1", map[string]any{"status": "APPROVE"}, proof.WrapHash, "APPROVE")
	require.NoError(t, err)
	artifact, err := g.ExecuteWithPDO(&proof, &decision, true)
	require.NoError(t, err)

	eval := g.VerifyPDOExists(artifact.PDOID, "PAC-1", "")
	require.True(t, eval.IsPass())

	eval = g.VerifyPDOExists("pdo_nonexistent", "PAC-1", "")
	require.True(t, eval.IsBlocked())
	require.Equal(t, ReasonPDONotEmitted, eval.Reason)

	eval = g.VerifyPDOExists("pdo_nonexistent", "PAC-missing", "")
	require.True(t, eval.IsBlocked())
	require.Equal(t, ReasonNoPDO, eval.Reason)
}

func TestExportAuditTrailAccumulates(t *testing.T) {
	registry := pdo.NewRegistry()
	g := New(registry)
	g.RequireProof(nil)
	g.RequirePDO("PAC-missing")
	require.Len(t, g.ExportAuditTrail(), 2)
	require.Len(t, g.GetBlockedEvaluations(), 2)
}
