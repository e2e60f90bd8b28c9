// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kernel wires every ChainBridge component into one explicitly
// constructed object graph. Spec §9 asks that singletons be replaced by
// explicit, Kernel-owned construction and that runtime reflection give
// way to small interfaces; this package is where that decision lives.
package kernel

import (
	"context"

	"github.com/luxfi/log"

	"github.com/chainbridge/kernel/gate"
	"github.com/chainbridge/kernel/inspectorgeneral"
	"github.com/chainbridge/kernel/ledger"
	nolog "github.com/chainbridge/kernel/log"
	"github.com/chainbridge/kernel/metrics"
	"github.com/chainbridge/kernel/pdo"
	"github.com/chainbridge/kernel/scram"
	"github.com/chainbridge/kernel/sentinel"
	"github.com/chainbridge/kernel/settlement"
	"github.com/chainbridge/kernel/signer"
	"github.com/chainbridge/kernel/voter"
)

// Kernel owns one instance of every governance component, constructed
// explicitly at startup (spec §9: no process-wide singletons, no
// package-level `get_X()` accessors).
type Kernel struct {
	cfg Config

	// Signer is optional and nil unless supplied via WithSigner. No
	// kernel-internal path calls Sign/Verify on it today — spec §6 frames
	// signing as an external capability the voter's proofs already carry
	// pre-verified, not something VerifyConsensus re-derives.
	Signer   signer.Port
	SCRAM    *scram.Controller
	Registry *pdo.Registry
	Ledger   *ledger.Ledger
	Gate     *gate.Gate
	Voter    *voter.Voter
	Settlement *settlement.Engine
	Sentinel *sentinel.Sentinel
	IG       *inspectorgeneral.InspectorGeneral

	ledgerStore ledger.Store
}

// Option customizes Kernel construction beyond what Config expresses.
type Option func(*options)

type options struct {
	logger      log.Logger
	signerPort  signer.Port
	ledgerStore ledger.Store
}

// WithLogger supplies the logger every component is constructed with.
// Defaults to this module's own no-op logger (chainbridge/kernel/log)
// if omitted.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSigner supplies an initialized signer.Port (e.g. a
// signer.RingtailPort). The kernel does not construct one itself: doing
// so requires a concrete ringtail.Engine, which is a deployment-specific
// choice left to the caller (spec §6 item 1 names the capability, not
// the engine).
func WithSigner(p signer.Port) Option {
	return func(o *options) { o.signerPort = p }
}

// WithLedgerStore overrides the ledger's backing store. Defaults to
// ledger.NewMemStore() unless Config.LedgerStorePath is set, in which
// case a pebble store is opened at that path.
func WithLedgerStore(s ledger.Store) Option {
	return func(o *options) { o.ledgerStore = s }
}

// New constructs a fully wired Kernel from cfg. Every component is
// built here, once, in dependency order (hashutil and signer have no
// state to build; scram comes first since voter/sentinel/IG all
// depend on it).
func New(cfg Config, opts ...Option) (*Kernel, error) {
	o := options{logger: nolog.NewNoOpLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	scramCfg := cfg.SCRAM.toScram()
	controller := scram.New(scramCfg, o.logger)

	registry := pdo.NewRegistry()

	store := o.ledgerStore
	if store == nil {
		if cfg.LedgerStorePath != "" {
			pebbleStore, err := ledger.OpenPebbleStore(cfg.LedgerStorePath)
			if err != nil {
				return nil, err
			}
			store = pebbleStore
		} else {
			store = ledger.NewMemStore()
		}
	}
	led := ledger.New(store)

	g := gate.New(registry)
	v := voter.New(cfg.Voter, controller)
	v.UseMetricsRegistry(metrics.NewRegistry())
	engine := settlement.New(g, led)

	sent := sentinel.New(controller, o.logger, cfg.SentinelCriticalFiles, cfg.SentinelLockFile)
	ig := inspectorgeneral.New(cfg.IGLogPath, controller, sent, o.logger)

	return &Kernel{
		cfg:         cfg,
		Signer:      o.signerPort,
		SCRAM:       controller,
		Registry:    registry,
		Ledger:      led,
		Gate:        g,
		Voter:       v,
		Settlement:  engine,
		Sentinel:    sent,
		IG:          ig,
		ledgerStore: store,
	}, nil
}

// NewSettlementStateMachine constructs a settlement.StateMachine for
// settlementID, gated and ledgered against this Kernel's own Gate and
// Ledger. The state machine is per-settlement (it owns one settlement's
// transition history), unlike the Engine, which tracks every settlement
// in one registry — both share the same underlying gate and ledger.
func (k *Kernel) NewSettlementStateMachine(settlementID string, initial settlement.SettlementState) *settlement.StateMachine {
	return settlement.NewStateMachine(settlementID, initial, k.Gate, k.Ledger)
}

// Close releases resources held by the kernel (a pebble-backed ledger
// store, the SCRAM signal watcher).
func (k *Kernel) Close() error {
	k.SCRAM.Close()
	if closer, ok := k.ledgerStore.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// RunOversight starts the Inspector General's monitoring loop, blocking
// until ctx is cancelled or SCRAM trips. Intended to run in its own
// goroutine from the caller's bootstrap code.
func (k *Kernel) RunOversight(ctx context.Context) error {
	return k.IG.StartMonitoring(ctx)
}
