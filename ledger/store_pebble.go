// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is a durable Store backed by a pebble key-value database.
// Entries are keyed by their big-endian sequence number so an iterator
// over the whole keyspace yields insertion order directly; PDO/PAC
// lookups are served by small in-memory secondary indices rebuilt at
// open time. This gives the append-only ledger real persistence across
// process restarts without changing its hash-chain semantics.
type PebbleStore struct {
	db    *pebble.DB
	byPDO map[string]int
	byPac map[string]int
	count int
}

var _ Store = (*PebbleStore)(nil)

// OpenPebbleStore opens (or creates) a pebble database at dir and
// rebuilds the secondary indices by scanning it once.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	s := &PebbleStore{
		db:    db,
		byPDO: make(map[string]int),
		byPac: make(map[string]int),
	}

	iter, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			db.Close()
			return nil, err
		}
		s.byPDO[e.PDOID] = e.SequenceNumber
		s.byPac[e.PacID] = e.SequenceNumber
		s.count++
	}

	return s, nil
}

// Close releases the underlying pebble handle.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func sequenceKey(sequence int) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(sequence))
	return key[:]
}

func (s *PebbleStore) Append(_ context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.db.Set(sequenceKey(e.SequenceNumber), raw, pebble.Sync); err != nil {
		return err
	}
	s.byPDO[e.PDOID] = e.SequenceNumber
	s.byPac[e.PacID] = e.SequenceNumber
	s.count++
	return nil
}

func (s *PebbleStore) getAtSequence(sequence int) (Entry, bool, error) {
	raw, closer, err := s.db.Get(sequenceKey(sequence))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	defer closer.Close()

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *PebbleStore) Get(_ context.Context, sequence int) (Entry, bool, error) {
	return s.getAtSequence(sequence)
}

func (s *PebbleStore) GetByPDOID(ctx context.Context, pdoID string) (Entry, bool, error) {
	seq, ok := s.byPDO[pdoID]
	if !ok {
		return Entry{}, false, nil
	}
	return s.getAtSequence(seq)
}

func (s *PebbleStore) GetByPacID(ctx context.Context, pacID string) (Entry, bool, error) {
	seq, ok := s.byPac[pacID]
	if !ok {
		return Entry{}, false, nil
	}
	return s.getAtSequence(seq)
}

func (s *PebbleStore) Latest(ctx context.Context) (Entry, bool, error) {
	if s.count == 0 {
		return Entry{}, false, nil
	}
	return s.getAtSequence(s.count - 1)
}

func (s *PebbleStore) All(_ context.Context) ([]Entry, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]Entry, 0, s.count)
	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *PebbleStore) Len(_ context.Context) (int, error) {
	return s.count, nil
}
