package miner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseMinerLine(t *testing.T) {
	tests := []struct {
		line      string
		wantNonce uint64
		wantZeros int
		wantErr   bool
	}{
		{`[12345,"0000007abc123"]`, 12345, 7, false},
		{`[0,"ffabc"]`, 0, 0, false},
		{`[9999, "00005ef"]`, 9999, 5, false},
		{`not json`, 0, 0, true},
		{`[1,2,3]`, 0, 0, true},
		{`[1]`, 0, 0, true},
	}

	for _, tt := range tests {
		out, err := parseMinerLine(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMinerLine(%q): expected error, got nil", tt.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseMinerLine(%q): unexpected error: %v", tt.line, err)
		}
		if out.Nonce != tt.wantNonce {
			t.Errorf("parseMinerLine(%q).Nonce = %d, want %d", tt.line, out.Nonce, tt.wantNonce)
		}
		if out.Zeros != tt.wantZeros {
			t.Errorf("parseMinerLine(%q).Zeros = %d, want %d", tt.line, out.Zeros, tt.wantZeros)
		}
	}
}

func TestLastNonEmptyLine(t *testing.T) {
	got := lastNonEmptyLine("first\n\n[1,\"ab\"]\n\n")
	if got != `[1,"ab"]` {
		t.Errorf("lastNonEmptyLine = %q", got)
	}
}

// TestKillInterruptsInFlightRun exercises the regression in which Kill
// shared Run's long-held mutex and so queued behind it instead of
// interrupting the live child. A Run with a 1-minute timeout that
// Running reports as live must be torn down by Kill in well under that
// timeout.
func TestKillInterruptsInFlightRun(t *testing.T) {
	script := filepath.Join(t.TempDir(), "sleepy.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("write fake miner script: %v", err)
	}

	r := NewRunner(script, time.Minute, zap.NewNop())

	done := make(chan struct{})
	go func() {
		_, _ = r.Run(context.Background(), "ff", 1, "ab", 1)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if r.Running() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Run never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.Kill()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Kill did not interrupt the in-flight Run within the grace window")
	}
}
