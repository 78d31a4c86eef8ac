// Package scheduler implements the Work Scheduler (C5): waits until the
// per-block work-start target, then runs the miner and relay submitter
// sequentially per farmer, with the recovery-on-miner-failure loop from
// §4.5. Sequential-per-farmer discipline mirrors the teacher's single
// miner-child mutex discipline (internal/miner.Runner); the overall
// shape — compute a target, sleep, then do ordered per-item work
// appending results — follows the teacher's node.go submitBlock/
// handleSubmission style of explicit, unhurried control flow.
package scheduler

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/metrics"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/stellarkey"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// MinerRunner is the subset of miner.Runner the scheduler depends on.
type MinerRunner interface {
	Run(ctx context.Context, farmerHex32 string, blockIndex uint32, entropyHex string, nonceCount uint64) (*types.MinerOutput, error)
}

// RelaySubmitter is the subset of relay.Submitter the scheduler depends
// on.
type RelaySubmitter interface {
	Submit(ctx context.Context, custodialWallet, custodialSecretKey string, hash []byte, nonce uint64) (*types.WorkSubmissionResult, error)
}

// Scheduler runs one block's per-farmer work cycle at a time, though
// multiple Scheduler.Run calls for different blocks may be in flight
// concurrently (§4.5, §5) — the Miner Runner itself serializes the
// CPU-heavy part.
type Scheduler struct {
	miner  MinerRunner
	relay  RelaySubmitter
	logger *zap.Logger

	plantDelay          time.Duration
	workDelay           time.Duration
	defaultNonceCount   uint64
	maxRecoveryAttempts int
}

// NewScheduler creates a Scheduler.
func NewScheduler(miner MinerRunner, relay RelaySubmitter, plantDelay, workDelay time.Duration, defaultNonceCount uint64, maxRecoveryAttempts int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		miner:               miner,
		relay:               relay,
		logger:              logger,
		plantDelay:          plantDelay,
		workDelay:           workDelay,
		defaultNonceCount:   defaultNonceCount,
		maxRecoveryAttempts: maxRecoveryAttempts,
	}
}

// Run waits until blockTimestamp+plantDelay+workDelay (§4.5), then
// processes each farmer in n.PlantedFarmers in order, sequentially, and
// returns the completed batch. Canceling ctx during the wait returns
// ctx.Err(). After the wait, ctx is passed to every miner and relay call:
// canceling it kills a live miner child and aborts an in-flight
// submission, and each farmer not yet finished ends with a failed result.
func (s *Scheduler) Run(ctx context.Context, n *types.PlantingNotification) (*types.BlockWorkBatch, error) {
	target := n.BlockTimestamp.Add(s.plantDelay + s.workDelay)
	if wait := time.Until(target); wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	entropyHex := fmt.Sprintf("%x", n.Entropy)
	batch := &types.BlockWorkBatch{
		BlockIndex:   n.BlockIndex,
		Notification: n,
	}

	metrics.ActiveBlockBatches.Inc()
	defer metrics.ActiveBlockBatches.Dec()

	for _, farmer := range n.PlantedFarmers {
		result := s.runFarmer(ctx, n.BlockIndex, entropyHex, farmer)
		batch.Results = append(batch.Results, result)
		metrics.WorkResults.WithLabelValues(string(result.Status)).Inc()
	}

	return batch, nil
}

// runFarmer implements §4.5 steps 1-4 for a single farmer, including the
// recovery loop on miner failure.
func (s *Scheduler) runFarmer(ctx context.Context, blockIndex uint32, entropyHex string, farmer types.PlantedFarmer) types.WorkResult {
	started := time.Now()
	metrics.WorkJobsStarted.Inc()

	farmerHex, err := stellarkey.PublicKeyHexFromSeed(farmer.CustodialSecretKey)
	if err != nil {
		return types.WorkResult{
			FarmerID:             farmer.FarmerID,
			CustodialWallet:      farmer.CustodialWallet,
			Status:               types.ResultFailed,
			Error:                err.Error(),
			CompensationRequired: true,
			Attempts:             1,
			WorkTimeMs:           time.Since(started).Milliseconds(),
		}
	}

	attempts := 0
	nonceCount := s.defaultNonceCount

	output, submission, submitErr := s.attempt(ctx, blockIndex, entropyHex, farmerHex, farmer, nonceCount)
	attempts++

	if output != nil && submitErr == nil {
		return successResult(farmer, output, submission, attempts, started)
	}
	if output != nil && submitErr != nil {
		// Mining succeeded but submission failed: §9 resolves this as
		// failed + compensationRequired, not success.
		return failedResult(farmer, output, submitErr, attempts, started)
	}

	// Miner produced no usable output (timeout or parse failure): recover.
	for k := 1; k <= s.maxRecoveryAttempts; k++ {
		nonceCount = s.defaultNonceCount + uint64(k)*1_000_000
		output, submission, submitErr = s.attempt(ctx, blockIndex, entropyHex, farmerHex, farmer, nonceCount)
		attempts++

		if output != nil && submitErr == nil {
			result := successResult(farmer, output, submission, attempts, started)
			result.Status = types.ResultRecovered
			return result
		}
		if output != nil && submitErr != nil {
			return failedResult(farmer, output, submitErr, attempts, started)
		}
	}

	return types.WorkResult{
		FarmerID:             farmer.FarmerID,
		CustodialWallet:      farmer.CustodialWallet,
		Status:               types.ResultFailed,
		Attempts:             attempts,
		Error:                "miner exhausted recovery attempts",
		CompensationRequired: true,
		WorkTimeMs:           time.Since(started).Milliseconds(),
	}
}

// attempt runs one miner invocation and, if it produced output,
// immediately submits it.
func (s *Scheduler) attempt(ctx context.Context, blockIndex uint32, entropyHex, farmerHex string, farmer types.PlantedFarmer, nonceCount uint64) (*types.MinerOutput, *types.WorkSubmissionResult, error) {
	minerStart := time.Now()
	output, err := s.miner.Run(ctx, farmerHex, blockIndex, entropyHex, nonceCount)
	metrics.MinerDuration.Observe(time.Since(minerStart).Seconds())
	if err != nil {
		s.logger.Info("miner attempt produced no output",
			zap.Uint32("block_index", blockIndex),
			zap.String("farmer_id", farmer.FarmerID),
			zap.Error(err),
		)
		return nil, nil, nil
	}

	hashBytes, decodeErr := hex.DecodeString(output.Hash)
	if decodeErr != nil {
		return output, nil, decodeErr
	}

	submission, submitErr := s.relay.Submit(ctx, farmer.CustodialWallet, farmer.CustodialSecretKey, hashBytes, output.Nonce)
	return output, submission, submitErr
}

func successResult(farmer types.PlantedFarmer, output *types.MinerOutput, submission *types.WorkSubmissionResult, attempts int, started time.Time) types.WorkResult {
	nonce := output.Nonce
	hash := output.Hash
	zeros := output.Zeros
	_ = submission
	return types.WorkResult{
		FarmerID:              farmer.FarmerID,
		CustodialWallet:       farmer.CustodialWallet,
		Status:                types.ResultSuccess,
		Nonce:                 &nonce,
		Hash:                  &hash,
		Zeros:                 &zeros,
		Attempts:              attempts,
		CompensationRequired:  false,
		WorkTimeMs:            time.Since(started).Milliseconds(),
	}
}

func failedResult(farmer types.PlantedFarmer, output *types.MinerOutput, submitErr error, attempts int, started time.Time) types.WorkResult {
	nonce := output.Nonce
	hash := output.Hash
	zeros := output.Zeros
	return types.WorkResult{
		FarmerID:              farmer.FarmerID,
		CustodialWallet:       farmer.CustodialWallet,
		Status:                types.ResultFailed,
		Nonce:                 &nonce,
		Hash:                  &hash,
		Zeros:                 &zeros,
		Attempts:              attempts,
		Error:                 submitErr.Error(),
		CompensationRequired:  true,
		WorkTimeMs:            time.Since(started).Milliseconds(),
	}
}
