// Package miner supervises invocations of the external hash-search
// executable. Only one child process may be alive at a time across the
// entire pooler process, mirroring the teacher's process-wide
// syncMu sync.Mutex + TryLock() guard in syncFromAllPeers (node.go).
package miner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// Runner supervises the external hash-search binary.
type Runner struct {
	binPath string
	timeout time.Duration
	logger  *zap.Logger

	mu sync.Mutex // serializes invocations; held for the lifetime of one child process

	curMu   sync.Mutex // guards current independently of mu, so Kill never queues behind a live Run
	current *exec.Cmd
}

// NewRunner creates a Runner that spawns binPath with the given hard
// timeout.
func NewRunner(binPath string, timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{binPath: binPath, timeout: timeout, logger: logger}
}

// Run spawns one invocation of the miner binary and blocks until it
// exits, is killed by the timeout, or ctx is canceled. At most one
// invocation across the whole Runner is alive at a time.
func (r *Runner) Run(ctx context.Context, farmerHex32 string, blockIndex uint32, entropyHex string, nonceCount uint64) (*types.MinerOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		farmerHex32,
		strconv.FormatUint(uint64(blockIndex), 10),
		entropyHex,
		strconv.FormatUint(nonceCount, 10),
	}

	cmd := exec.CommandContext(runCtx, r.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bound how long Wait keeps draining stdout/stderr after the child is
	// gone, so a grandchild that inherited the pipes cannot hold Run open.
	cmd.WaitDelay = time.Second

	r.setCurrent(cmd)
	err := cmd.Run()
	r.setCurrent(nil)

	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("miner timed out",
			zap.Uint32("block_index", blockIndex),
			zap.Duration("timeout", r.timeout),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return nil, &types.MinerTimeout{TimeoutMs: r.timeout.Milliseconds()}
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			r.logger.Warn("miner exited non-zero",
				zap.Uint32("block_index", blockIndex),
				zap.Error(err),
				zap.String("stderr", strings.TrimSpace(stderr.String())),
			)
			return nil, &types.MinerSpawnError{Err: err}
		}
		return nil, &types.MinerSpawnError{Err: err}
	}

	line := lastNonEmptyLine(stdout.String())
	if line == "" {
		return nil, &types.MinerParseError{Line: "", Err: fmt.Errorf("empty stdout")}
	}

	output, err := parseMinerLine(line)
	if err != nil {
		return nil, &types.MinerParseError{Line: line, Err: err}
	}
	return output, nil
}

// Running reports whether a child process is currently alive, using the
// same TryLock-based non-blocking check as the teacher's syncFromAllPeers
// guard in node.go.
func (r *Runner) Running() bool {
	if r.mu.TryLock() {
		r.mu.Unlock()
		return false
	}
	return true
}

// Kill terminates the currently running child, if any. It reads
// r.current under curMu rather than mu, so it never queues behind an
// in-flight Run — an emergency kill (§5) must interrupt a live child
// immediately rather than wait out the miner timeout.
func (r *Runner) Kill() {
	r.curMu.Lock()
	cmd := r.current
	r.curMu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (r *Runner) setCurrent(cmd *exec.Cmd) {
	r.curMu.Lock()
	r.current = cmd
	r.curMu.Unlock()
}

// lastNonEmptyLine returns the final non-blank line of s.
func lastNonEmptyLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	last := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			last = line
		}
	}
	return last
}

// parseMinerLine parses a terminal line of the form [nonce, "hashHex"]
// and computes the leading-zero count of the hash.
func parseMinerLine(line string) (*types.MinerOutput, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, fmt.Errorf("not a JSON array: %w", err)
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("expected 2 elements, got %d", len(fields))
	}

	var nonce uint64
	if err := json.Unmarshal(fields[0], &nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	var hash string
	if err := json.Unmarshal(fields[1], &hash); err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	hash = strings.ToLower(strings.TrimSpace(hash))

	return &types.MinerOutput{
		Nonce: nonce,
		Hash:  hash,
		Zeros: leadingZeros(hash),
	}, nil
}

func leadingZeros(hexHash string) int {
	count := 0
	for _, c := range hexHash {
		if c != '0' {
			break
		}
		count++
	}
	return count
}
