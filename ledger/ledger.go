// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the append-only, hash-chained persistence
// layer for PDO artifacts: no UPDATE, no DELETE, every entry linked to
// its predecessor by hash.
package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainbridge/kernel/hashutil"
)

// Version is the ledger wire-format version stamped on every entry and
// every export.
const Version = "1.0.0"

// Entry is an immutable ledger record binding one PDO to its position
// in the hash chain (INV-LEDGER-001).
type Entry struct {
	EntryID           string `json:"entry_id"`
	SequenceNumber    int    `json:"sequence_number"`
	PDOID             string `json:"pdo_id"`
	PacID             string `json:"pac_id"`
	BerID             string `json:"ber_id"`
	WrapID            string `json:"wrap_id"`
	OutcomeStatus     string `json:"outcome_status"`
	Issuer            string `json:"issuer"`
	PDOHash           string `json:"pdo_hash"`
	ProofHash         string `json:"proof_hash"`
	DecisionHash      string `json:"decision_hash"`
	OutcomeHash       string `json:"outcome_hash"`
	PreviousEntryHash string `json:"previous_entry_hash"`
	EntryHash         string `json:"entry_hash"`
	PDOCreatedAt      string `json:"pdo_created_at"`
	LedgerRecordedAt  string `json:"ledger_recorded_at"`
	LedgerVersion     string `json:"ledger_version"`
}

// ToMap is the deterministic serialization used for export and hashing.
func (e Entry) ToMap() map[string]any {
	return map[string]any{
		"entry_id":            e.EntryID,
		"sequence_number":     e.SequenceNumber,
		"pdo_id":              e.PDOID,
		"pac_id":              e.PacID,
		"ber_id":              e.BerID,
		"wrap_id":             e.WrapID,
		"outcome_status":      e.OutcomeStatus,
		"issuer":              e.Issuer,
		"pdo_hash":            e.PDOHash,
		"proof_hash":          e.ProofHash,
		"decision_hash":       e.DecisionHash,
		"outcome_hash":        e.OutcomeHash,
		"previous_entry_hash": e.PreviousEntryHash,
		"entry_hash":          e.EntryHash,
		"pdo_created_at":      e.PDOCreatedAt,
		"ledger_recorded_at":  e.LedgerRecordedAt,
		"ledger_version":      e.LedgerVersion,
	}
}

// ComputeEntryHash is SHA-256 over the pipe-joined identity fields,
// matching the teacher's deterministic entry-hash construction.
func ComputeEntryHash(entryID string, sequence int, pdoID, pacID, pdoHash, previousEntryHash, recordedAt string) string {
	content := strings.Join([]string{
		entryID,
		strconv.Itoa(sequence),
		pdoID,
		pacID,
		pdoHash,
		previousEntryHash,
		recordedAt,
	}, "|")
	return hashutil.SHA256HexString(content)
}

// VerifyEntryHash recomputes e's own entry hash and compares.
func VerifyEntryHash(e Entry) bool {
	expected := ComputeEntryHash(e.EntryID, e.SequenceNumber, e.PDOID, e.PacID, e.PDOHash, e.PreviousEntryHash, e.LedgerRecordedAt)
	return expected == e.EntryHash
}

// AppendParams carries the explicit PDO fields the ledger chains —
// never the PDOArtifact value itself, so the ledger has no import-time
// dependency on the pdo package (spec §4.3: "takes the explicit PDO
// fields, not the artifact object").
type AppendParams struct {
	PDOID         string
	PacID         string
	BerID         string
	WrapID        string
	OutcomeStatus string
	Issuer        string
	PDOHash       string
	ProofHash     string
	DecisionHash  string
	OutcomeHash   string
	PDOCreatedAt  string
}

// PDOSource lets Ledger.AppendPDO accept any value exposing the PDO
// fields it needs, without importing the pdo package.
type PDOSource interface {
	LedgerFields() AppendParams
}

// Ledger is the append-only, hash-chained PDO ledger. All mutation goes
// through Append; Update and Delete always fail.
type Ledger struct {
	mu    sync.Mutex
	store Store
}

// New returns a ledger backed by store. Pass NewMemStore() for an
// in-memory ledger, or a pebble-backed Store for durable persistence.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append is the sole write operation. It computes sequence_number,
// previous_entry_hash, entry_hash, and ledger_recorded_at, then
// persists the resulting Entry.
func (l *Ledger) Append(ctx context.Context, p AppendParams) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sequence, err := l.store.Len(ctx)
	if err != nil {
		return Entry{}, err
	}

	previousHash := hashutil.GenesisHash
	if sequence > 0 {
		latest, ok, err := l.store.Latest(ctx)
		if err != nil {
			return Entry{}, err
		}
		if ok {
			previousHash = latest.EntryHash
		}
	}

	entryID := "ledger_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	recordedAt := time.Now().UTC().Format(time.RFC3339Nano)
	entryHash := ComputeEntryHash(entryID, sequence, p.PDOID, p.PacID, p.PDOHash, previousHash, recordedAt)

	entry := Entry{
		EntryID:           entryID,
		SequenceNumber:    sequence,
		PDOID:             p.PDOID,
		PacID:             p.PacID,
		BerID:             p.BerID,
		WrapID:            p.WrapID,
		OutcomeStatus:     p.OutcomeStatus,
		Issuer:            p.Issuer,
		PDOHash:           p.PDOHash,
		ProofHash:         p.ProofHash,
		DecisionHash:      p.DecisionHash,
		OutcomeHash:       p.OutcomeHash,
		PreviousEntryHash: previousHash,
		EntryHash:         entryHash,
		PDOCreatedAt:      p.PDOCreatedAt,
		LedgerRecordedAt:  recordedAt,
		LedgerVersion:     Version,
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// AppendPDO extracts the ledger-relevant fields from a PDOSource and
// appends them.
func (l *Ledger) AppendPDO(ctx context.Context, pdo PDOSource) (Entry, error) {
	return l.Append(ctx, pdo.LedgerFields())
}

// Update always fails: the ledger is append-only (INV-LEDGER-002).
func (l *Ledger) Update(entryID string) error {
	return &MutationForbiddenError{Operation: "UPDATE", EntryID: entryID}
}

// Delete always fails: the ledger is append-only (INV-LEDGER-003).
func (l *Ledger) Delete(entryID string) error {
	return &MutationForbiddenError{Operation: "DELETE", EntryID: entryID}
}

func (l *Ledger) GetByPDOID(ctx context.Context, pdoID string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.GetByPDOID(ctx, pdoID)
}

func (l *Ledger) GetByPacID(ctx context.Context, pacID string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.GetByPacID(ctx, pacID)
}

func (l *Ledger) GetBySequence(ctx context.Context, sequence int) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Get(ctx, sequence)
}

func (l *Ledger) GetAll(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.All(ctx)
}

func (l *Ledger) GetLatest(ctx context.Context) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Latest(ctx)
}

// Len returns the number of entries. The ledger is truthy even when
// empty — callers must use Len, never a zero-value check, to decide
// whether to fall back to some other ledger instance.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Len(ctx)
}

// VerifyChain walks every entry and confirms genesis linkage, sequence
// order, self-hash, and chain linkage (INV-LEDGER-004, INV-LEDGER-005).
func (l *Ledger) VerifyChain(ctx context.Context) error {
	l.mu.Lock()
	entries, err := l.store.All(ctx)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	if entries[0].PreviousEntryHash != hashutil.GenesisHash {
		return &ChainBrokenError{EntryID: entries[0].EntryID, Expected: hashutil.GenesisHash, Found: entries[0].PreviousEntryHash}
	}

	for i, e := range entries {
		if e.SequenceNumber != i {
			return &OrderingError{EntryID: e.EntryID, Sequence: e.SequenceNumber, ExpectedSequence: i}
		}
		if !VerifyEntryHash(e) {
			return &ChainBrokenError{EntryID: e.EntryID, Expected: ComputeEntryHash(e.EntryID, e.SequenceNumber, e.PDOID, e.PacID, e.PDOHash, e.PreviousEntryHash, e.LedgerRecordedAt), Found: e.EntryHash}
		}
		if i > 0 && e.PreviousEntryHash != entries[i-1].EntryHash {
			return &ChainBrokenError{EntryID: e.EntryID, Expected: entries[i-1].EntryHash, Found: e.PreviousEntryHash}
		}
	}
	return nil
}

// VerifyEntry verifies one entry's self-hash by entry_id.
func (l *Ledger) VerifyEntry(ctx context.Context, entryID string) (bool, error) {
	entries, err := l.GetAll(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.EntryID == entryID {
			return VerifyEntryHash(e), nil
		}
	}
	return false, nil
}

// Export is the audit-grade JSON export envelope.
type Export struct {
	LedgerVersion string  `json:"ledger_version"`
	EntryCount    int     `json:"entry_count"`
	ExportedAt    string  `json:"exported_at"`
	Entries       []Entry `json:"entries"`
}

// ExportJSON serializes the full ledger for compliance/audit, indented
// for human review.
func (l *Ledger) ExportJSON(ctx context.Context) ([]byte, error) {
	entries, err := l.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	export := Export{
		LedgerVersion: Version,
		EntryCount:    len(entries),
		ExportedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Entries:       entries,
	}
	return json.MarshalIndent(export, "", "  ")
}
