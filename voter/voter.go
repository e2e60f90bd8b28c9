// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package voter implements the Byzantine fault-tolerant supermajority
// voter: a 2/3+1 quorum gate with diversity-parity and NIST-compliance
// checks, fail-closed behind a SCRAM pre-flight.
package voter

import (
	"strings"
	"sync"

	"github.com/chainbridge/kernel/metrics"
	safemath "github.com/chainbridge/kernel/utils/math"
	"github.com/chainbridge/kernel/utils/set"
)

// AgentCore classifies an agent's logic path.
type AgentCore string

const (
	CoreLattice   AgentCore = "DETERMINISTIC_LATTICE"
	CoreHeuristic AgentCore = "HEURISTIC_ADAPTIVE"
	CoreUnknown   AgentCore = "UNKNOWN"
)

// Status is the closed set of consensus verification outcomes.
type Status string

const (
	StatusSovereignConsensusReached Status = "SOVEREIGN_CONSENSUS_REACHED"
	StatusQuorumFailure              Status = "QUORUM_FAILURE_DRIFT_DETECTED"
	StatusDiversityCollapse          Status = "DIVERSITY_COLLAPSE_DETECTED"
	StatusNISTViolation              Status = "NIST_COMPLIANCE_VIOLATION"
	StatusSCRAMAbort                 Status = "SCRAM_ABORT"
)

// AgentProof is the cryptographic proof one agent contributes to a
// consensus round.
type AgentProof struct {
	AgentID          string
	CoreType         AgentCore
	Valid            bool
	NFISignature     []byte
	DilithiumSig     []byte
	FIPS204Compliant bool
	FIPS203Compliant bool
}

// ConsensusResult is the immutable outcome of one verify_consensus call.
type ConsensusResult struct {
	Status          Status
	QuorumCount     int
	Threshold       int
	LatticeVotes    int
	HeuristicVotes  int
	DiversityRatio  float64
	NISTCompliant   bool
	Reason          string
	ByzantineAgents []string
}

// Metrics accumulates running counters across consensus rounds.
// Averages update only on successful consensus (spec §4.5: "failures
// increment their dedicated counters").
type Metrics struct {
	TotalAttempts      int
	SuccessfulConsensus int
	QuorumFailures      int
	DiversityCollapses  int
	NISTViolations      int
	SCRAMAborts         int
	AvgQuorumPercentage float64
	AvgDiversityRatio   float64
}

// SCRAMGate is the minimal surface the voter needs from the SCRAM
// controller: is it armed, and if not, why.
type SCRAMGate interface {
	IsArmed() bool
	AbortReason() string
}

// Voter is the Byzantine fault-tolerant supermajority voter.
type Voter struct {
	SwarmSize              int
	Threshold               int
	LatticeCount            int
	HeuristicCount          int
	DiversityDriftThreshold float64
	MaxByzantine            int

	scram SCRAMGate

	mu              sync.Mutex
	latticeAgents   set.Set[string]
	heuristicAgents set.Set[string]
	metrics         Metrics

	// promQuorum/promDiversity back spec §4.5's "metrics are updated for
	// successful consensus only" with named metrics.Registry series
	// (voter_quorum_total, voter_diversity_drift) when a registry is
	// attached via UseMetricsRegistry; nil until then, and every caller
	// checks for nil before touching them.
	promQuorum    metrics.Counter
	promSCRAMAbort metrics.Counter
	promDiversity metrics.Averager
}

// UseMetricsRegistry attaches reg so VerifyConsensus also records
// quorum successes and diversity drift as named, queryable series,
// in addition to the in-process Metrics snapshot GetMetrics returns.
func (v *Voter) UseMetricsRegistry(reg metrics.Registry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.promQuorum = reg.NewCounter("voter_quorum_total")
	v.promSCRAMAbort = reg.NewCounter("voter_scram_abort_total")
	v.promDiversity = reg.NewAverager("voter_diversity_drift")
}

// Config configures a Voter. Zero values fall back to the teacher's
// defaults: swarm_size 10000, diversity drift threshold 0.15.
type Config struct {
	SwarmSize               int
	DiversityDriftThreshold float64
}

// New constructs a Voter behind scram. The voter's first consensus
// step is always the SCRAM pre-flight (spec §4.5 step 1): no proofs
// are ever counted while SCRAM is not ARMED.
func New(cfg Config, scram SCRAMGate) *Voter {
	swarmSize := cfg.SwarmSize
	if swarmSize == 0 {
		swarmSize = 10000
	}
	driftThreshold := cfg.DiversityDriftThreshold
	if driftThreshold == 0 {
		driftThreshold = 0.15
	}

	return &Voter{
		SwarmSize:               swarmSize,
		Threshold:               safeThreshold(swarmSize),
		LatticeCount:            swarmSize / 2,
		HeuristicCount:          swarmSize / 2,
		DiversityDriftThreshold: driftThreshold,
		MaxByzantine:            safeMaxByzantine(swarmSize),
		scram:                   scram,
		latticeAgents:           set.NewSet[string](0),
		heuristicAgents:         set.NewSet[string](0),
	}
}

// safeThreshold computes the 2/3+1 supermajority threshold with
// overflow-checked arithmetic: an operator-supplied SwarmSize that
// would overflow uint64 math must not wrap into a threshold smaller
// than intended, which would silently loosen the Byzantine bound.
func safeThreshold(swarmSize int) int {
	doubled, err := safemath.Mul64(2, uint64(swarmSize))
	if err != nil {
		doubled = uint64(swarmSize)
	}
	threshold, err := safemath.Add64(doubled/3, 1)
	if err != nil {
		threshold = doubled / 3
	}
	return int(threshold)
}

// safeMaxByzantine computes the largest tolerable number of faulty
// agents, guarding the swarmSize-1 subtraction against underflow for a
// zero or negative SwarmSize.
func safeMaxByzantine(swarmSize int) int {
	if swarmSize <= 0 {
		return 0
	}
	n, err := safemath.Sub64(uint64(swarmSize), 1)
	if err != nil {
		return 0
	}
	return int(n / 3)
}

// RegisterAgent adds agentID to the registry under coreType, moving it
// between the lattice and heuristic sets if its core type changed.
func (v *Voter) RegisterAgent(agentID string, coreType AgentCore) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch coreType {
	case CoreLattice:
		v.latticeAgents.Add(agentID)
		v.heuristicAgents.Remove(agentID)
	case CoreHeuristic:
		v.heuristicAgents.Add(agentID)
		v.latticeAgents.Remove(agentID)
	default:
		v.latticeAgents.Remove(agentID)
		v.heuristicAgents.Remove(agentID)
	}
}

// RegisteredCount returns the number of agents currently registered.
func (v *Voter) RegisteredCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latticeAgents.Len() + v.heuristicAgents.Len()
}

// DiversityCoefficients reports the lattice/heuristic balance of the
// agent registry.
type DiversityCoefficients struct {
	LatticeCoefficient   float64
	HeuristicCoefficient float64
	BalanceRatio         float64
	TotalAgents          int
}

// SyncDiversityCoefficients computes the registry's current balance.
func (v *Voter) SyncDiversityCoefficients() DiversityCoefficients {
	v.mu.Lock()
	defer v.mu.Unlock()

	lattice := v.latticeAgents.Len()
	heuristic := v.heuristicAgents.Len()

	maxCount := lattice
	if heuristic > maxCount {
		maxCount = heuristic
	}
	balance := 0.0
	if maxCount > 0 {
		minCount := lattice
		if heuristic < minCount {
			minCount = heuristic
		}
		balance = float64(minCount) / float64(maxCount)
	}

	coeffs := DiversityCoefficients{BalanceRatio: balance, TotalAgents: lattice + heuristic}
	if v.SwarmSize > 0 {
		coeffs.LatticeCoefficient = float64(lattice) / float64(v.SwarmSize)
		coeffs.HeuristicCoefficient = float64(heuristic) / float64(v.SwarmSize)
	}
	return coeffs
}

// VerifyConsensus runs the full PAC-44 protocol: SCRAM pre-flight,
// quorum, diversity parity, and (if enforceNIST) FIPS 204/203
// compliance.
func (v *Voter) VerifyConsensus(proofs []AgentProof, enforceNIST bool) ConsensusResult {
	v.mu.Lock()
	v.metrics.TotalAttempts++
	v.mu.Unlock()

	// Step 1: SCRAM pre-flight. Fail-closed — no proofs are counted
	// while SCRAM is not ARMED.
	if v.scram != nil && !v.scram.IsArmed() {
		v.mu.Lock()
		v.metrics.SCRAMAborts++
		if v.promSCRAMAbort != nil {
			v.promSCRAMAbort.Inc()
		}
		v.mu.Unlock()
		return ConsensusResult{
			Status:      StatusSCRAMAbort,
			QuorumCount: 0,
			Threshold:   v.Threshold,
			Reason:      "scram_not_armed: " + strings.ToLower(v.scram.AbortReason()),
		}
	}

	// Step 2: supermajority quorum.
	approvals := 0
	var invalidAgents []string
	for _, p := range proofs {
		if p.Valid {
			approvals++
		} else {
			invalidAgents = append(invalidAgents, p.AgentID)
		}
	}

	if approvals < v.Threshold {
		v.mu.Lock()
		v.metrics.QuorumFailures++
		v.mu.Unlock()
		return ConsensusResult{
			Status:          StatusQuorumFailure,
			QuorumCount:     approvals,
			Threshold:       v.Threshold,
			Reason:          "quorum failure",
			ByzantineAgents: invalidAgents,
		}
	}

	// Step 3: diversity parity.
	var latticeVotes, heuristicVotes int
	for _, p := range proofs {
		if !p.Valid {
			continue
		}
		switch p.CoreType {
		case CoreLattice:
			latticeVotes++
		case CoreHeuristic:
			heuristicVotes++
		}
	}

	denom := v.Threshold
	if denom < 1 {
		denom = 1
	}
	diversityRatio := float64(safemath.AbsDiff(uint64(latticeVotes), uint64(heuristicVotes))) / float64(denom)

	if diversityRatio > v.DiversityDriftThreshold {
		v.mu.Lock()
		v.metrics.DiversityCollapses++
		v.mu.Unlock()
		return ConsensusResult{
			Status:         StatusDiversityCollapse,
			QuorumCount:    approvals,
			Threshold:      v.Threshold,
			LatticeVotes:   latticeVotes,
			HeuristicVotes: heuristicVotes,
			DiversityRatio: diversityRatio,
			Reason:         "diversity collapse",
		}
	}

	// Step 4: NIST FIPS 204/203 compliance.
	nistCompliantCount := 0
	for _, p := range proofs {
		if p.Valid && p.FIPS204Compliant && p.FIPS203Compliant {
			nistCompliantCount++
		}
	}
	nistCompliant := nistCompliantCount >= v.Threshold

	if enforceNIST && !nistCompliant {
		v.mu.Lock()
		v.metrics.NISTViolations++
		v.mu.Unlock()
		return ConsensusResult{
			Status:         StatusNISTViolation,
			QuorumCount:    approvals,
			Threshold:      v.Threshold,
			LatticeVotes:   latticeVotes,
			HeuristicVotes: heuristicVotes,
			DiversityRatio: diversityRatio,
			NISTCompliant:  false,
			Reason:         "NIST FIPS 204/203 compliance failure",
		}
	}

	// Step 5: success.
	byzantineAgents := invalidAgents

	v.mu.Lock()
	v.metrics.SuccessfulConsensus++
	v.updateAvgMetricsLocked(approvals, diversityRatio)
	if v.promQuorum != nil {
		v.promQuorum.Inc()
	}
	if v.promDiversity != nil {
		v.promDiversity.Observe(diversityRatio)
	}
	v.mu.Unlock()

	return ConsensusResult{
		Status:          StatusSovereignConsensusReached,
		QuorumCount:     approvals,
		Threshold:       v.Threshold,
		LatticeVotes:    latticeVotes,
		HeuristicVotes:  heuristicVotes,
		DiversityRatio:  diversityRatio,
		NISTCompliant:   nistCompliant,
		ByzantineAgents: byzantineAgents,
	}
}

func (v *Voter) updateAvgMetricsLocked(quorumCount int, diversityRatio float64) {
	total := float64(v.metrics.TotalAttempts)
	v.metrics.AvgQuorumPercentage = (v.metrics.AvgQuorumPercentage*(total-1) + (float64(quorumCount) / float64(v.SwarmSize) * 100)) / total
	v.metrics.AvgDiversityRatio = (v.metrics.AvgDiversityRatio*(total-1) + diversityRatio) / total
}

// GetMetrics returns a snapshot of the voter's running counters.
func (v *Voter) GetMetrics() Metrics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.metrics
}
