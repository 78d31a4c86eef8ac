// Package types holds the data model shared across the pooler's
// components: decoded chain state, inbound planting notifications, and
// the per-farmer work lifecycle.
package types

import (
	"math/big"
	"time"
)

// BlockRecord is the decoded state of one on-chain block.
type BlockRecord struct {
	Index     uint32
	Timestamp *time.Time // nil if the chain entry carried no timestamp
	Entropy   [32]byte
	MinGap    uint32
	MaxGap    uint32
	MinStake  *big.Int
	MaxStake  *big.Int
	MinZeros  uint32
	MaxZeros  uint32
}

// ChainSnapshot is the result of one Chain Reader poll.
type ChainSnapshot struct {
	Index uint32
	Block *BlockRecord // nil if no entry exists yet at Index
}

// MonitorStats are the counters exposed by the Block Monitor.
type MonitorStats struct {
	TotalBlocksDiscovered uint64
	ConsecutiveErrorCount int
	StartTime             time.Time
	LastBlockTimestamp    time.Time
	LastNotificationAt    time.Time
}

// PlantedFarmer is one farmer's custodial stake position for a block.
type PlantedFarmer struct {
	FarmerID           string
	CustodialWallet    string
	CustodialSecretKey string
	StakeAmount        *big.Int
	PlantingTime       time.Time
}

// PlantingNotification is the Backend's report of which farmers planted
// for a given block.
type PlantingNotification struct {
	BlockIndex      uint32
	Entropy         [32]byte
	BlockTimestamp  time.Time
	PlantedFarmers  []PlantedFarmer
}

// JobStatus is the lifecycle state of one (block, farmer) WorkJob.
type JobStatus string

const (
	JobPending            JobStatus = "pending"
	JobMining             JobStatus = "mining"
	JobSubmitting         JobStatus = "submitting"
	JobSuccess            JobStatus = "success"
	JobFailedMining       JobStatus = "failed-mining"
	JobFailedSubmitting   JobStatus = "failed-submitting"
	JobTimedOut           JobStatus = "timed-out"
)

// WorkJob tracks one farmer's mining attempt within a block batch.
type WorkJob struct {
	BlockIndex uint32
	Farmer     PlantedFarmer
	Status     JobStatus
	Attempts   int
	ElapsedMs  int64
}

// ResultStatus is the terminal disposition reported to the Backend.
type ResultStatus string

const (
	ResultSuccess   ResultStatus = "success"
	ResultRecovered ResultStatus = "recovered"
	ResultFailed    ResultStatus = "failed"
)

// WorkResult is the terminal per-farmer outcome of one work cycle.
type WorkResult struct {
	FarmerID              string
	CustodialWallet       string
	Status                ResultStatus
	Nonce                 *uint64
	Hash                  *string
	Zeros                 *int
	Gap                   *int // always nil; see SPEC_FULL.md §9 open question on gap
	WorkTimeMs            int64
	Attempts              int
	Error                 string
	CompensationRequired  bool
}

// BlockWorkBatch is the Coordinator's per-block aggregate, owned for the
// lifetime of one block's work cycle.
type BlockWorkBatch struct {
	BlockIndex   uint32
	Notification *PlantingNotification
	Jobs         []*WorkJob
	Results      []WorkResult
}

// MinerOutput is the parsed terminal line of the external hash-search
// executable.
type MinerOutput struct {
	Nonce uint64
	Hash  string // lowercase hex
	Zeros int
}

// WorkSubmissionResult is the outcome of one Relay Submitter call.
type WorkSubmissionResult struct {
	TransactionHash string
}
