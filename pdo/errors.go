// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pdo

import "fmt"

// AuthorityError is returned when a caller other than PDOAuthority attempts
// to mint a PDO (INV-PDO-002).
type AuthorityError struct {
	Issuer string
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf(
		"PDO_AUTHORITY_VIOLATION: %q attempted PDO creation; only %q may create a PDOArtifact",
		e.Issuer, PDOAuthority,
	)
}

// IncompleteError is returned when a required component is missing
// (INV-PDO-006: no partial PDOs).
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("PDO_INCOMPLETE: missing required components: %v", e.Missing)
}

// DuplicateError is returned when a PDO already exists for a PAC
// (INV-PDO-001: one PDO per PAC).
type DuplicateError struct {
	PacID         string
	ExistingPDOID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("PDO_DUPLICATE: PDO %q already exists for PAC %q", e.ExistingPDOID, e.PacID)
}

// HashMismatchError is returned when a hash chain link fails verification
// (INV-PDO-004).
type HashMismatchError struct {
	Component string
	Expected  string
	Actual    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("PDO_HASH_MISMATCH: %s hash mismatch: expected %s, got %s",
		e.Component, short(e.Expected), short(e.Actual))
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// InvalidOutcomeError is returned when an outcome status is not one of
// the closed set {ACCEPTED, CORRECTIVE, REJECTED}.
type InvalidOutcomeError struct {
	Outcome string
}

func (e *InvalidOutcomeError) Error() string {
	return fmt.Sprintf("PDO_INVALID_OUTCOME: %q is not a valid outcome status", e.Outcome)
}

// NotFoundError is returned by registry lookups that require a hit.
type NotFoundError struct {
	Identifier string
	IDType     string // "pac_id" | "pdo_id"
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("PDO_NOT_FOUND: no PDO found for %s=%q", e.IDType, e.Identifier)
}

// CollisionError is the defensive case where a freshly minted pdo_id
// already exists in the registry's secondary index.
type CollisionError struct {
	PDOID string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("PDO_ID_COLLISION: %q already exists", e.PDOID)
}
