// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hashutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenesisHashShape(t *testing.T) {
	require.Len(t, GenesisHash, 64)
	for _, c := range GenesisHash {
		require.Equal(t, '0', c)
	}
}

func TestSHA256HexDeterministic(t *testing.T) {
	a := SHA256HexString("alpha", "beta")
	b := SHA256HexString("alpha", "beta")
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	c := SHA256HexString("alpha", "gamma")
	require.NotEqual(t, a, c)
}

func TestSHA3512HexLength(t *testing.T) {
	h := SHA3512Hex([]byte("governance"))
	require.Len(t, h, 128)
}

func TestSortedJSONHashIgnoresKeyOrder(t *testing.T) {
	type rec struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	h1, err := SortedJSONHash(rec{B: "2", A: "1"})
	require.NoError(t, err)

	h2, err := SortedJSONHash(map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
