// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge/kernel/metrics"
)

type fakeSCRAM struct {
	armed  bool
	reason string
}

func (f fakeSCRAM) IsArmed() bool      { return f.armed }
func (f fakeSCRAM) AbortReason() string { return f.reason }

func proofs(n int, core AgentCore, valid, nist bool) []AgentProof {
	out := make([]AgentProof, n)
	for i := range out {
		out[i] = AgentProof{
			AgentID:          "agent",
			CoreType:         core,
			Valid:            valid,
			FIPS204Compliant: nist,
			FIPS203Compliant: nist,
		}
	}
	return out
}

func TestVerifyConsensusSCRAMPreflightAborts(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: false, reason: "SECURITY_BREACH"})
	result := v.VerifyConsensus(nil, true)
	require.Equal(t, StatusSCRAMAbort, result.Status)
	require.Equal(t, 0, result.QuorumCount)
	require.Contains(t, result.Reason, "security_breach")
}

func TestVerifyConsensusQuorumFailure(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	all := append(proofs(33, CoreLattice, true, true), proofs(33, CoreHeuristic, true, true)...)
	result := v.VerifyConsensus(all, true)
	require.Equal(t, StatusQuorumFailure, result.Status)
	require.Equal(t, 67, v.Threshold)
}

func TestVerifyConsensusSuccess(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	all := append(proofs(34, CoreLattice, true, true), proofs(34, CoreHeuristic, true, true)...)
	result := v.VerifyConsensus(all, true)
	require.Equal(t, StatusSovereignConsensusReached, result.Status)
	require.True(t, result.NISTCompliant)
	require.Equal(t, 1, v.GetMetrics().SuccessfulConsensus)
}

func TestVerifyConsensusDiversityCollapse(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	all := append(proofs(60, CoreLattice, true, true), proofs(7, CoreHeuristic, true, true)...)
	result := v.VerifyConsensus(all, true)
	require.Equal(t, StatusDiversityCollapse, result.Status)
}

func TestVerifyConsensusNISTViolation(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	all := append(proofs(34, CoreLattice, true, false), proofs(34, CoreHeuristic, true, false)...)
	result := v.VerifyConsensus(all, true)
	require.Equal(t, StatusNISTViolation, result.Status)
}

func TestVerifyConsensusSkipsNISTWhenNotEnforced(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	all := append(proofs(34, CoreLattice, true, false), proofs(34, CoreHeuristic, true, false)...)
	result := v.VerifyConsensus(all, false)
	require.Equal(t, StatusSovereignConsensusReached, result.Status)
}

func TestDefaultsMatchTeacherConstants(t *testing.T) {
	v := New(Config{}, fakeSCRAM{armed: true})
	require.Equal(t, 10000, v.SwarmSize)
	require.Equal(t, 6667, v.Threshold)
	require.Equal(t, 3333, v.MaxByzantine)
}

func TestSyncDiversityCoefficients(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	for i := 0; i < 50; i++ {
		v.RegisterAgent(string(rune('a'+i)), CoreLattice)
	}
	for i := 0; i < 50; i++ {
		v.RegisterAgent("h"+string(rune('A'+i)), CoreHeuristic)
	}
	coeffs := v.SyncDiversityCoefficients()
	require.Equal(t, 100, coeffs.TotalAgents)
	require.InDelta(t, 1.0, coeffs.BalanceRatio, 0.001)
}

func TestUseMetricsRegistryRecordsQuorumAndDrift(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: true})
	reg := metrics.NewRegistry()
	v.UseMetricsRegistry(reg)

	v.VerifyConsensus(append(proofs(36, CoreLattice, true, true), proofs(31, CoreHeuristic, true, true)...), false)

	quorum, err := reg.GetCounter("voter_quorum_total")
	require.NoError(t, err)
	require.Equal(t, int64(1), quorum.Read())

	drift, err := reg.GetAverager("voter_diversity_drift")
	require.NoError(t, err)
	require.InDelta(t, 5.0/67.0, drift.Read(), 1e-9)
}

func TestRegisterAgentMovesBetweenCoreSets(t *testing.T) {
	v := New(Config{SwarmSize: 10}, fakeSCRAM{armed: true})
	v.RegisterAgent("a1", CoreLattice)
	require.Equal(t, 1, v.RegisteredCount())

	v.RegisterAgent("a1", CoreHeuristic)
	require.Equal(t, 1, v.RegisteredCount())

	coeffs := v.SyncDiversityCoefficients()
	require.Equal(t, 1, coeffs.TotalAgents)
	require.InDelta(t, 0.1, coeffs.HeuristicCoefficient, 0.001)
	require.Zero(t, coeffs.LatticeCoefficient)
}

func TestRegisterAgentUnknownCoreDeregisters(t *testing.T) {
	v := New(Config{SwarmSize: 10}, fakeSCRAM{armed: true})
	v.RegisterAgent("a1", CoreLattice)
	v.RegisterAgent("a1", CoreUnknown)
	require.Equal(t, 0, v.RegisteredCount())
}

func TestSafeThresholdMatchesUncheckedArithmeticInNormalRange(t *testing.T) {
	require.Equal(t, 67, safeThreshold(100))
	require.Equal(t, 6667, safeThreshold(10000))
	require.Equal(t, 33, safeMaxByzantine(100))
}

func TestUseMetricsRegistryRecordsSCRAMAborts(t *testing.T) {
	v := New(Config{SwarmSize: 100}, fakeSCRAM{armed: false, reason: "SECURITY_BREACH"})
	reg := metrics.NewRegistry()
	v.UseMetricsRegistry(reg)

	v.VerifyConsensus(nil, true)

	aborts, err := reg.GetCounter("voter_scram_abort_total")
	require.NoError(t, err)
	require.Equal(t, int64(1), aborts.Read())
}
