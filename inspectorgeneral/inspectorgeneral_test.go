// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inspectorgeneral

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainbridge/kernel/scram"
	"github.com/chainbridge/kernel/sentinel"
)

type recordingActivator struct {
	armed bool
	calls []map[string]any
}

func (r *recordingActivator) Activate(reason scram.Reason, metadata map[string]any) scram.AuditEvent {
	r.armed = false
	r.calls = append(r.calls, metadata)
	return scram.AuditEvent{Reason: string(reason)}
}

func (r *recordingActivator) IsArmed() bool { return r.armed }

type fixedVerifier struct {
	status sentinel.Status
}

func (f fixedVerifier) VerifyIntegrity() sentinel.Status { return f.status }

func writeEntry(t *testing.T, path string, entry map[string]any) {
	t.Helper()
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestScanLogTriggersSCRAMOnRejectedVerdict(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tgl_audit_trail.jsonl")
	writeEntry(t, logPath, map[string]any{
		"manifest_id":     "M-1",
		"judgment":        "Rejected",
		"agent_gid":       "GID-04",
		"git_commit_hash": "abc123",
		"reason":          "test coverage below 100%",
	})

	activator := &recordingActivator{armed: true}
	ig := New(logPath, activator, nil, nil)

	require.NoError(t, ig.scanLog())
	require.Len(t, activator.calls, 1)
	require.Equal(t, "M-1", activator.calls[0]["manifest_id"])
	require.False(t, activator.armed)
}

func TestScanLogSkipsApprovedAndDuplicateManifests(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tgl_audit_trail.jsonl")
	writeEntry(t, logPath, map[string]any{"manifest_id": "M-1", "judgment": "Approved"})

	activator := &recordingActivator{armed: true}
	ig := New(logPath, activator, nil, nil)
	require.NoError(t, ig.scanLog())
	require.Empty(t, activator.calls)

	writeEntry(t, logPath, map[string]any{"manifest_id": "M-1", "judgment": "Rejected"})
	require.NoError(t, ig.scanLog())
	require.Empty(t, activator.calls, "M-1 already processed as approved, must not re-trigger")
}

func TestScanLogSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tgl_audit_trail.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte("not json\n"), 0o644))
	writeEntry(t, logPath, map[string]any{"manifest_id": "M-2", "judgment": "Approved"})

	activator := &recordingActivator{armed: true}
	ig := New(logPath, activator, nil, nil)
	require.NoError(t, ig.scanLog())
	require.Empty(t, activator.calls)
	require.Equal(t, 1, ig.GetStatus().ProcessedCount)
}

func TestScanLogIsIncremental(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tgl_audit_trail.jsonl")
	writeEntry(t, logPath, map[string]any{"manifest_id": "M-1", "judgment": "Approved"})

	activator := &recordingActivator{armed: true}
	ig := New(logPath, activator, nil, nil)
	require.NoError(t, ig.scanLog())
	require.Equal(t, 1, ig.GetStatus().ProcessedCount)

	writeEntry(t, logPath, map[string]any{"manifest_id": "M-2", "judgment": "Rejected"})
	require.NoError(t, ig.scanLog())
	require.Equal(t, 2, ig.GetStatus().ProcessedCount)
	require.Len(t, activator.calls, 1)
	require.Equal(t, "M-2", activator.calls[0]["manifest_id"])
}

func TestStartMonitoringHaltsWhenSentinelDetectsBreach(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tgl_audit_trail.jsonl")

	activator := &recordingActivator{armed: true}
	verifier := fixedVerifier{status: sentinel.StatusBreach}
	ig := New(logPath, activator, verifier, nil).WithPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := ig.StartMonitoring(ctx)
	require.NoError(t, err)
}

func TestStartMonitoringStopsOnRequest(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tgl_audit_trail.jsonl")

	activator := &recordingActivator{armed: true}
	ig := New(logPath, activator, nil, nil).WithPollInterval(5 * time.Millisecond)

	done := make(chan error, 1)
	ctx := context.Background()
	go func() { done <- ig.StartMonitoring(ctx) }()

	time.Sleep(20 * time.Millisecond)
	ig.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StartMonitoring did not stop in time")
	}
}
