// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pdo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validParams() CreateParams {
	return CreateParams{
		PacID:         "PAC-1",
		WrapID:        "W1",
		WrapData:      map[string]any{"status": "COMPLETE"},
		BerID:         "B1",
		BerData:       map[string]any{"status": "APPROVE"},
		OutcomeStatus: OutcomeAccepted,
		Issuer:        PDOAuthority,
	}
}

func TestCreateHappyPath(t *testing.T) {
	a, err := Factory{}.Create(validParams())
	require.NoError(t, err)
	require.True(t, a.IsAccepted())
	require.True(t, VerifyChain(a))
	require.Contains(t, a.PDOID, "pdo_")
}

func TestCreateRejectsNonAuthority(t *testing.T) {
	p := validParams()
	p.Issuer = "agent-42"
	_, err := Factory{}.Create(p)
	require.Error(t, err)
	var authErr *AuthorityError
	require.ErrorAs(t, err, &authErr)
}

func TestCreateRejectsIncomplete(t *testing.T) {
	p := validParams()
	p.WrapData = nil
	_, err := Factory{}.Create(p)
	require.Error(t, err)
	var incErr *IncompleteError
	require.ErrorAs(t, err, &incErr)
	require.Contains(t, incErr.Missing, "wrap_data")
}

func TestCreateRejectsInvalidOutcome(t *testing.T) {
	p := validParams()
	p.OutcomeStatus = "MAYBE"
	_, err := Factory{}.Create(p)
	require.Error(t, err)
	var outErr *InvalidOutcomeError
	require.ErrorAs(t, err, &outErr)
}

func TestVerifyFullRecomputesChain(t *testing.T) {
	p := validParams()
	a, err := Factory{}.Create(p)
	require.NoError(t, err)

	ok, err := VerifyFull(a, p.WrapData, p.BerData)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = VerifyFull(a, map[string]any{"status": "TAMPERED"}, p.BerData)
	require.Error(t, err)
}

func TestToMapFromMapRoundTrip(t *testing.T) {
	a, err := Factory{}.Create(validParams())
	require.NoError(t, err)

	roundTripped := FromMap(a.ToMap())
	require.Equal(t, a, roundTripped)
	require.True(t, VerifyChain(roundTripped))
}

func TestDeterministicHashChain(t *testing.T) {
	p := validParams()
	a1, err := Factory{}.Create(p)
	require.NoError(t, err)
	a2, err := Factory{}.Create(p)
	require.NoError(t, err)

	// Distinct PDO IDs, but identical input data chains identically up
	// through proof_hash and decision_hash.
	require.NotEqual(t, a1.PDOID, a2.PDOID)
	require.Equal(t, a1.ProofHash, a2.ProofHash)
	require.Equal(t, a1.DecisionHash, a2.DecisionHash)
}
