// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hashutil provides the deterministic content-hashing primitives
// the PDO chain, the ledger, and the SCRAM audit log all build on.
//
// Algorithm matrix is fixed by design: PDO chain and ledger entries use
// SHA-256; integrity baselines use SHA3-512. Swapping an algorithm here
// would invalidate every previously persisted record.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// GenesisHash is the previous_entry_hash of a ledger's first entry: 64
// lowercase zeros.
var GenesisHash = strings.Repeat("0", 64)

// FileMissing is the sentinel hash string the integrity sentinel stores
// for a critical file it could not read.
const FileMissing = "FILE_MISSING"

// SHA256Hex returns the lowercase hex SHA-256 digest of the concatenation
// of its arguments, in order, each treated as raw bytes.
func SHA256Hex(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SHA256HexString is SHA256Hex over string arguments, joined with no
// separator (callers that need a separator must include it themselves,
// matching the Python original's explicit pipe-joins).
func SHA256HexString(parts ...string) string {
	b := make([][]byte, len(parts))
	for i, p := range parts {
		b[i] = []byte(p)
	}
	return SHA256Hex(b...)
}

// SHA3512Hex returns the lowercase hex SHA3-512 digest of data.
func SHA3512Hex(data []byte) string {
	h := sha3.New512()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SortedJSONHash returns SHA256Hex of the canonical (key-sorted) JSON
// encoding of v. Used for SCRAM audit event content hashes (spec §6:
// "content_hash = SHA256(sorted_json(record))").
func SortedJSONHash(v any) (string, error) {
	canon, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256HexString(canon), nil
}

// canonicalJSON marshals v to JSON with object keys sorted, recursively,
// so that semantically identical records always hash identically
// regardless of struct field order or map iteration order.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	sorted := sortValue(generic)
	out, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func sortValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]orderedEntry, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, orderedEntry{Key: k, Value: sortValue(val[k])})
		}
		return orderedMap(ordered)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = sortValue(e)
		}
		return out
	default:
		return val
	}
}

type orderedEntry struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object preserving insertion (sorted) order,
// since encoding/json does not otherwise guarantee map key order.
type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}
