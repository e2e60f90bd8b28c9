// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scram

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		HardwareSentinelRequired: false,
		HardwareSentinelPath:     filepath.Join(dir, "sentinel"),
		AuditLogPath:             filepath.Join(dir, "scram.log"),
		LedgerAnchorEnabled:      true,
	}
}

func validKey(keyType KeyType) *Key {
	return &Key{
		KeyID:    string(keyType) + "-1",
		KeyType:  keyType,
		KeyHash:  "hash-" + string(keyType),
		IssuedAt: time.Now(),
	}
}

func TestActivateHappyPath(t *testing.T) {
	c := New(testConfig(t), log.NewNoOpLogger())
	defer c.Close()

	require.True(t, c.AuthorizeKey(validKey(KeyTypeOperator)))
	require.True(t, c.AuthorizeKey(validKey(KeyTypeArchitect)))

	terminated := 0
	require.True(t, c.RegisterExecutionPath("runner-1", func() { terminated++ }))

	event := c.Activate(ReasonOperatorInitiated, nil)
	require.Equal(t, "COMPLETE", event.SCRAMState)
	require.Equal(t, 1, event.ExecutionPathsTerminated)
	require.Equal(t, 1, terminated)
	require.Less(t, event.TerminationLatencyMS, float64(MaxTerminationMS))
	require.Empty(t, event.InvariantsFailed)
	require.Equal(t, StateComplete, c.State())
}

func TestActivateWithoutDualKeyStillTerminates(t *testing.T) {
	c := New(testConfig(t), log.NewNoOpLogger())
	defer c.Close()

	terminated := false
	c.RegisterExecutionPath("runner-1", func() { terminated = true })

	event := c.Activate(ReasonSecurityBreach, nil)
	require.True(t, terminated)
	require.Equal(t, "MISSING", event.OperatorKeyHash)
	require.Equal(t, "MISSING", event.ArchitectKeyHash)
	require.Contains(t, event.InvariantsFailed, "INV-SCRAM-002")
	require.Equal(t, "FAILED", event.SCRAMState)
}

func TestRegisterExecutionPathRejectedWhenNotArmed(t *testing.T) {
	c := New(testConfig(t), log.NewNoOpLogger())
	defer c.Close()

	c.Activate(ReasonOperatorInitiated, nil)
	require.False(t, c.RegisterExecutionPath("late", func() {}))
}

func TestTerminationCallbackPanicDoesNotBlockOthers(t *testing.T) {
	c := New(testConfig(t), log.NewNoOpLogger())
	defer c.Close()

	second := false
	c.RegisterExecutionPath("panicker", func() { panic("boom") })
	c.RegisterExecutionPath("second", func() { second = true })

	event := c.Activate(ReasonOperatorInitiated, nil)
	require.True(t, second)
	require.Equal(t, 2, event.ExecutionPathsTerminated)
}

func TestResetOnlyFromTerminalState(t *testing.T) {
	c := New(testConfig(t), log.NewNoOpLogger())
	defer c.Close()

	require.False(t, c.Reset())
	c.Activate(ReasonOperatorInitiated, nil)
	require.True(t, c.Reset())
	require.Equal(t, StateArmed, c.State())
	require.NotEmpty(t, c.AuditTrail())
}

func TestActivateFailsHardwareSentinelInvariantWhenRequiredAndNeverAcked(t *testing.T) {
	cfg := testConfig(t)
	cfg.HardwareSentinelRequired = true
	c := New(cfg, log.NewNoOpLogger())
	defer c.Close()

	event := c.Activate(ReasonOperatorInitiated, nil)
	require.Contains(t, event.InvariantsFailed, "INV-SCRAM-003")
}

func TestDoubleActivateSecondCallIsErrorAudit(t *testing.T) {
	c := New(testConfig(t), log.NewNoOpLogger())
	defer c.Close()

	c.Activate(ReasonOperatorInitiated, nil)
	second := c.Activate(ReasonOperatorInitiated, nil)
	require.Equal(t, 0, second.ExecutionPathsTerminated)
	require.Contains(t, second.Metadata, "error")
}
