// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pdo

import "sync"

// Registry is an in-memory, insertion-ordered collection of PDO
// artifacts. Spec §9 replaces the teacher's process-wide singleton with
// an explicitly constructed value owned by the Kernel; callers needing
// a shared registry pass the same *Registry to every consumer.
//
// INV-PDO-001 is enforced here: at most one artifact per pac_id.
type Registry struct {
	mu       sync.Mutex
	byPacID  map[string]Artifact
	byPDOID  map[string]Artifact
	ordered  []Artifact
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPacID: make(map[string]Artifact),
		byPDOID: make(map[string]Artifact),
	}
}

// Register inserts pdo, enforcing one-PDO-per-PAC (INV-PDO-001).
func (r *Registry) Register(a Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byPacID[a.PacID]; ok {
		return &DuplicateError{PacID: a.PacID, ExistingPDOID: existing.PDOID}
	}
	if _, ok := r.byPDOID[a.PDOID]; ok {
		return &CollisionError{PDOID: a.PDOID}
	}

	r.byPacID[a.PacID] = a
	r.byPDOID[a.PDOID] = a
	r.ordered = append(r.ordered, a)
	return nil
}

// GetByPacID returns the artifact for pac_id, if any.
func (r *Registry) GetByPacID(pacID string) (Artifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byPacID[pacID]
	return a, ok
}

// GetByPDOID returns the artifact for pdo_id, if any.
func (r *Registry) GetByPDOID(pdoID string) (Artifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byPDOID[pdoID]
	return a, ok
}

// Get is an alias for GetByPacID.
func (r *Registry) Get(pacID string) (Artifact, bool) { return r.GetByPacID(pacID) }

// RequireByPacID returns NotFoundError when pac_id is absent.
func (r *Registry) RequireByPacID(pacID string) (Artifact, error) {
	a, ok := r.GetByPacID(pacID)
	if !ok {
		return Artifact{}, &NotFoundError{Identifier: pacID, IDType: "pac_id"}
	}
	return a, nil
}

// RequireByPDOID returns NotFoundError when pdo_id is absent.
func (r *Registry) RequireByPDOID(pdoID string) (Artifact, error) {
	a, ok := r.GetByPDOID(pdoID)
	if !ok {
		return Artifact{}, &NotFoundError{Identifier: pdoID, IDType: "pdo_id"}
	}
	return a, nil
}

func (r *Registry) HasPac(pacID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPacID[pacID]
	return ok
}

func (r *Registry) HasPDO(pdoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPDOID[pdoID]
	return ok
}

// Count returns the number of registered PDOs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ordered)
}

// ListAll returns every PDO in registration order.
func (r *Registry) ListAll() []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Artifact, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// FilterByOutcome returns the subset with the given outcome status.
func (r *Registry) FilterByOutcome(status Outcome) []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Artifact
	for _, a := range r.ordered {
		if a.OutcomeStatus == status {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) GetAccepted() []Artifact   { return r.FilterByOutcome(OutcomeAccepted) }
func (r *Registry) GetCorrective() []Artifact { return r.FilterByOutcome(OutcomeCorrective) }
func (r *Registry) GetRejected() []Artifact   { return r.FilterByOutcome(OutcomeRejected) }

// AuditSummary is the registry's own audit snapshot: totals by outcome
// plus every registered pac_id.
type AuditSummary struct {
	Total      int
	Accepted   int
	Corrective int
	Rejected   int
	PacIDs     []string
}

// GetAuditSummary returns counts broken down by outcome.
func (r *Registry) GetAuditSummary() AuditSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := AuditSummary{PacIDs: make([]string, 0, len(r.byPacID))}
	for pacID := range r.byPacID {
		summary.PacIDs = append(summary.PacIDs, pacID)
	}
	for _, a := range r.ordered {
		summary.Total++
		switch a.OutcomeStatus {
		case OutcomeAccepted:
			summary.Accepted++
		case OutcomeCorrective:
			summary.Corrective++
		case OutcomeRejected:
			summary.Rejected++
		}
	}
	return summary
}

// Clear removes every registered PDO. For tests only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPacID = make(map[string]Artifact)
	r.byPDOID = make(map[string]Artifact)
	r.ordered = nil
}
