// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signer adapts the teacher's post-quantum ringtail engine into the
// opaque Signer/Verifier capability a caller can hand to the kernel (spec §6
// item 1). The kernel holds the Port as given; it never calls Sign or Verify
// and never inspects a signature's bytes or algorithm.
package signer

import (
	"errors"

	"github.com/chainbridge/kernel/ringtail"
)

// ErrNotInitialized is returned when Sign or Verify is called before
// Initialize.
var ErrNotInitialized = errors.New("signer: engine not initialized")

// Port is the opaque signer/verifier capability supplied to the kernel
// through kernel.WithSigner. Compatibility with ML-DSA-65 (FIPS 204) sizing is
// recommended but not required by the port itself.
type Port interface {
	Sign(message []byte) (signature []byte, err error)
	Verify(publicKey, message, signature []byte) bool
	PublicKey() []byte
}

// RingtailPort wraps the teacher's ringtail.Engine, holding a single
// generated keypair for the lifetime of the process.
type RingtailPort struct {
	engine ringtail.Engine
	sk     ringtail.SecretKey
	pk     ringtail.PublicKey
}

var _ Port = (*RingtailPort)(nil)

// NewRingtailPort initializes a ringtail engine at the given security
// level and generates a fresh keypair.
func NewRingtailPort(engine ringtail.Engine, level ringtail.SecurityLevel) (*RingtailPort, error) {
	if err := engine.Initialize(level); err != nil {
		return nil, err
	}
	sk, pk, err := engine.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &RingtailPort{engine: engine, sk: sk, pk: pk}, nil
}

// Sign signs message with the held secret key.
func (r *RingtailPort) Sign(message []byte) ([]byte, error) {
	if r.engine == nil {
		return nil, ErrNotInitialized
	}
	sig, err := r.engine.Sign(message, r.sk)
	return []byte(sig), err
}

// Verify verifies signature over message under publicKey.
func (r *RingtailPort) Verify(publicKey, message, signature []byte) bool {
	if r.engine == nil {
		return false
	}
	return r.engine.Verify(message, ringtail.Signature(signature), ringtail.PublicKey(publicKey))
}

// PublicKey returns this port's own public key.
func (r *RingtailPort) PublicKey() []byte {
	return []byte(r.pk)
}

// NoopPort is a deterministic, non-cryptographic Port for tests that need a
// Port without pulling in a real PQC engine. It never produces security.
type NoopPort struct{}

var _ Port = NoopPort{}

// Sign returns message itself as the "signature" — fine for tests, never
// for production.
func (NoopPort) Sign(message []byte) ([]byte, error) {
	return message, nil
}

// Verify reports whether signature equals message, mirroring Sign.
func (NoopPort) Verify(_ []byte, message, signature []byte) bool {
	return string(message) == string(signature)
}

// PublicKey returns an empty key; NoopPort has no real keypair.
func (NoopPort) PublicKey() []byte { return nil }
