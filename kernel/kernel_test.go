// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kernel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge/kernel/gate"
	"github.com/chainbridge/kernel/scram"
	"github.com/chainbridge/kernel/settlement"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		SentinelLockFile: filepath.Join(dir, "governance.lock"),
		IGLogPath:        filepath.Join(dir, "tgl_audit_trail.jsonl"),
	}
	k, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func TestNewWiresEveryComponent(t *testing.T) {
	k := newTestKernel(t)
	require.NotNil(t, k.SCRAM)
	require.NotNil(t, k.Registry)
	require.NotNil(t, k.Ledger)
	require.NotNil(t, k.Gate)
	require.NotNil(t, k.Voter)
	require.NotNil(t, k.Settlement)
	require.NotNil(t, k.Sentinel)
	require.NotNil(t, k.IG)
	require.Equal(t, scram.StateArmed, k.SCRAM.State())
}

func TestKernelSettlesAgainstSharedGateAndLedger(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)

	proof, err := gate.NewProofContainer("PAC-1", "W1", map[string]any{"status": "COMPLETE"})
	require.NoError(t, err)
	decision, err := gate.NewDecisionContainer("PAC-1", "B1", map[string]any{"status": "APPROVE"}, proof.WrapHash, "APPROVE")
	require.NoError(t, err)
	artifact, err := k.Gate.ExecuteWithPDO(&proof, &decision, true)
	require.NoError(t, err)

	req := settlement.NewRequest("PAC-1", artifact.PDOID)
	result, err := k.Settlement.InitiateSettlement(ctx, req)
	require.NoError(t, err)
	require.Equal(t, settlement.StateInitiated, result.Status)

	length, err := k.Ledger.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, length)
}

func TestKernelStateMachineSharesGateAndLedgerWithEngine(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)

	proof, err := gate.NewProofContainer("PAC-2", "W2", map[string]any{"status": "COMPLETE"})
	require.NoError(t, err)
	decision, err := gate.NewDecisionContainer("PAC-2", "B2", map[string]any{"status": "APPROVE"}, proof.WrapHash, "APPROVE")
	require.NoError(t, err)
	artifact, err := k.Gate.ExecuteWithPDO(&proof, &decision, true)
	require.NoError(t, err)

	sm := k.NewSettlementStateMachine("settle_sm_1", "")
	_, err = sm.Transition(ctx, settlement.StatePending, artifact.PDOID, "PAC-2", "moving to pending", "")
	require.NoError(t, err)

	length, err := k.Ledger.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, length)
}

func TestRunOversightStopsOnContextCancel(t *testing.T) {
	k := newTestKernel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := k.RunOversight(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
