// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge/kernel/hashutil"
)

func sampleParams(pacID string) AppendParams {
	return AppendParams{
		PDOID:         "pdo_" + pacID,
		PacID:         pacID,
		BerID:         "ber_" + pacID,
		WrapID:        "wrap_" + pacID,
		OutcomeStatus: "ACCEPTED",
		Issuer:        "GID-00",
		PDOHash:       hashutil.SHA256HexString(pacID),
		ProofHash:     hashutil.SHA256HexString("proof", pacID),
		DecisionHash:  hashutil.SHA256HexString("decision", pacID),
		OutcomeHash:   hashutil.SHA256HexString("outcome", pacID),
		PDOCreatedAt:  "2026-01-01T00:00:00Z",
	}
}

func TestAppendFirstEntryLinksToGenesis(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemStore())

	e, err := l.Append(ctx, sampleParams("PAC-1"))
	require.NoError(t, err)
	require.Equal(t, hashutil.GenesisHash, e.PreviousEntryHash)
	require.Equal(t, 0, e.SequenceNumber)
	require.True(t, VerifyEntryHash(e))
}

func TestAppendChainsSubsequentEntries(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemStore())

	first, err := l.Append(ctx, sampleParams("PAC-1"))
	require.NoError(t, err)
	second, err := l.Append(ctx, sampleParams("PAC-2"))
	require.NoError(t, err)

	require.Equal(t, first.EntryHash, second.PreviousEntryHash)
	require.Equal(t, 1, second.SequenceNumber)

	require.NoError(t, l.VerifyChain(ctx))
}

func TestUpdateAndDeleteAlwaysForbidden(t *testing.T) {
	l := New(NewMemStore())
	err := l.Update("entry-1")
	require.Error(t, err)
	var mutErr *MutationForbiddenError
	require.ErrorAs(t, err, &mutErr)
	require.Equal(t, "UPDATE", mutErr.Operation)

	err = l.Delete("entry-1")
	require.Error(t, err)
	require.ErrorAs(t, err, &mutErr)
	require.Equal(t, "DELETE", mutErr.Operation)
}

func TestLookupsByPDOAndPac(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemStore())
	e, err := l.Append(ctx, sampleParams("PAC-1"))
	require.NoError(t, err)

	got, ok, err := l.GetByPDOID(ctx, e.PDOID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.EntryID, got.EntryID)

	got2, ok, err := l.GetByPacID(ctx, "PAC-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.EntryID, got2.EntryID)

	_, ok, err = l.GetByPacID(ctx, "PAC-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyChainEmptyIsValid(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemStore())
	require.NoError(t, l.VerifyChain(ctx))
	n, err := l.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestVerifyChainDetectsTamperedEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	l := New(store)

	_, err := l.Append(ctx, sampleParams("PAC-1"))
	require.NoError(t, err)

	// Tamper directly on the backing store to simulate corruption.
	tampered := store.entries[0]
	tampered.PDOHash = hashutil.SHA256HexString("forged")
	store.entries[0] = tampered

	err = l.VerifyChain(ctx)
	require.Error(t, err)
	var chainErr *ChainBrokenError
	require.ErrorAs(t, err, &chainErr)
}

func TestExportJSONIncludesEveryEntry(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemStore())
	_, err := l.Append(ctx, sampleParams("PAC-1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, sampleParams("PAC-2"))
	require.NoError(t, err)

	raw, err := l.ExportJSON(ctx)
	require.NoError(t, err)
	require.Contains(t, string(raw), "PAC-1")
	require.Contains(t, string(raw), "PAC-2")
}
