// Package notifier implements the outbound half of the Notifier (C7):
// HTTP POSTs to the Backend for block-discovered and work-completed
// events, with the exact body shapes from §6. The request-construction
// and error-surfacing idiom (status check, limited body read, wrapped
// error) follows compose-network-publisher's prover.HTTPClient, adapted
// to zap logging instead of zerolog to stay consistent with the rest of
// this module.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// Notifier POSTs events to the Backend.
type Notifier struct {
	backendURL string
	poolerID   string
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
	startTime  time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(backendURL, poolerID, authToken string, timeout time.Duration, logger *zap.Logger) *Notifier {
	return &Notifier{
		backendURL: backendURL,
		poolerID:   poolerID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		startTime:  time.Now(),
	}
}

type blockDiscoveredBody struct {
	Event     string            `json:"event"`
	PoolerID  string            `json:"poolerId"`
	BlockIndex uint32           `json:"blockIndex"`
	BlockData blockDataBody     `json:"blockData"`
	Metadata  discoveryMetadata `json:"metadata"`
}

type blockDataBody struct {
	Index     uint32 `json:"index"`
	Timestamp string `json:"timestamp"`
	Entropy   string `json:"entropy"`
	BlockAge  int64  `json:"blockAge"`
	Plantable bool   `json:"plantable"`
	MinStake  string `json:"min_stake"`
	MaxStake  string `json:"max_stake"`
	MinZeros  uint32 `json:"min_zeros"`
	MaxZeros  uint32 `json:"max_zeros"`
	MinGap    uint32 `json:"min_gap"`
	MaxGap    uint32 `json:"max_gap"`
}

type discoveryMetadata struct {
	DiscoveredAt          string `json:"discoveredAt"`
	PoolerUptimeMs         int64 `json:"poolerUptime"`
	TotalBlocksDiscovered uint64 `json:"totalBlocksDiscovered"`
}

// ReportBlockDiscovered POSTs the /pooler/block-discovered body from §6.
func (n *Notifier) ReportBlockDiscovered(ctx context.Context, block types.BlockRecord, blockAgeSec int64, plantable bool, totalDiscovered uint64) error {
	ts := time.Now().UTC()
	if block.Timestamp != nil {
		ts = *block.Timestamp
	}

	minStake, maxStake := "0", "0"
	if block.MinStake != nil {
		minStake = block.MinStake.String()
	}
	if block.MaxStake != nil {
		maxStake = block.MaxStake.String()
	}

	body := blockDiscoveredBody{
		Event:      "new_block_discovered",
		PoolerID:   n.poolerID,
		BlockIndex: block.Index,
		BlockData: blockDataBody{
			Index:     block.Index,
			Timestamp: ts.Format(time.RFC3339),
			Entropy:   fmt.Sprintf("%x", block.Entropy),
			BlockAge:  blockAgeSec,
			Plantable: plantable,
			MinStake:  minStake,
			MaxStake:  maxStake,
			MinZeros:  block.MinZeros,
			MaxZeros:  block.MaxZeros,
			MinGap:    block.MinGap,
			MaxGap:    block.MaxGap,
		},
		Metadata: discoveryMetadata{
			DiscoveredAt:          time.Now().UTC().Format(time.RFC3339),
			PoolerUptimeMs:        time.Since(n.startTime).Milliseconds(),
			TotalBlocksDiscovered: totalDiscovered,
		},
	}

	return n.post(ctx, "/pooler/block-discovered", body, false)
}

type startupDiscoveryBody struct {
	PoolerID       string `json:"poolerId"`
	BlockIndex     uint32 `json:"blockIndex"`
	Entropy        string `json:"entropy"`
	BlockTimestamp int64  `json:"blockTimestamp"`
	BlockAge       int64  `json:"blockAge"`
	DiscoveredAt   string `json:"discoveredAt"`
	Source         string `json:"source"`
}

// ReportStartupDiscovery POSTs the flat startup-shortcut variant of the
// discovery body (§6).
func (n *Notifier) ReportStartupDiscovery(ctx context.Context, block types.BlockRecord, blockAgeSec int64) error {
	var ts int64
	if block.Timestamp != nil {
		ts = block.Timestamp.Unix()
	}
	body := startupDiscoveryBody{
		PoolerID:       n.poolerID,
		BlockIndex:     block.Index,
		Entropy:        fmt.Sprintf("%x", block.Entropy),
		BlockTimestamp: ts,
		BlockAge:       blockAgeSec,
		DiscoveredAt:   time.Now().UTC().Format(time.RFC3339),
		Source:         "startup_check",
	}
	return n.post(ctx, "/pooler/block-discovered", body, false)
}

type workCompletedBody struct {
	BlockIndex  uint32             `json:"blockIndex"`
	PoolerID    string             `json:"poolerId"`
	WorkResults []workResultBody   `json:"workResults"`
	Summary     workSummaryBody    `json:"summary"`
}

type workResultBody struct {
	FarmerID              string  `json:"farmerId"`
	CustodialWallet       string  `json:"custodialWallet"`
	Status                string  `json:"status"`
	Nonce                 *uint64 `json:"nonce,omitempty"`
	Hash                  *string `json:"hash,omitempty"`
	Zeros                 *int    `json:"zeros,omitempty"`
	Gap                   *int    `json:"gap,omitempty"`
	WorkTimeMs            int64   `json:"workTime"`
	Attempts              int     `json:"attempts"`
	Error                 string  `json:"error,omitempty"`
	CompensationRequired  bool    `json:"compensationRequired"`
}

type workSummaryBody struct {
	TotalFarmers   int    `json:"totalFarmers"`
	SuccessfulWork int    `json:"successfulWork"`
	FailedWork     int    `json:"failedWork"`
	TotalWorkTimeMs int64 `json:"totalWorkTime"`
	Timestamp      string `json:"timestamp"`
}

// ReportWorkCompleted POSTs the /pooler/work-completed body from §6.
// Satisfies coordinator.CompletionReporter.
func (n *Notifier) ReportWorkCompleted(ctx context.Context, batch *types.BlockWorkBatch) error {
	results := make([]workResultBody, 0, len(batch.Results))
	var successful, failed int
	var totalWorkTime int64

	for _, r := range batch.Results {
		results = append(results, workResultBody{
			FarmerID:             r.FarmerID,
			CustodialWallet:      r.CustodialWallet,
			Status:               string(r.Status),
			Nonce:                r.Nonce,
			Hash:                 r.Hash,
			Zeros:                r.Zeros,
			Gap:                  r.Gap,
			WorkTimeMs:           r.WorkTimeMs,
			Attempts:             r.Attempts,
			Error:                r.Error,
			CompensationRequired: r.CompensationRequired,
		})
		if r.Status == types.ResultFailed {
			failed++
		} else {
			successful++
		}
		totalWorkTime += r.WorkTimeMs
	}

	body := workCompletedBody{
		BlockIndex:  batch.BlockIndex,
		PoolerID:    n.poolerID,
		WorkResults: results,
		Summary: workSummaryBody{
			TotalFarmers:    len(batch.Results),
			SuccessfulWork:  successful,
			FailedWork:      failed,
			TotalWorkTimeMs: totalWorkTime,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
		},
	}

	return n.post(ctx, "/pooler/work-completed", body, true)
}

// post performs one outbound POST. authenticated adds the bearer +
// pooler-id headers that the work-completed endpoint requires per §6.
func (n *Notifier) post(ctx context.Context, path string, body any, authenticated bool) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &types.BackendPostError{Endpoint: path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.backendURL+path, bytes.NewReader(encoded))
	if err != nil {
		return &types.BackendPostError{Endpoint: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kale-pool-pooler/1")
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+n.authToken)
		req.Header.Set("X-Pooler-ID", n.poolerID)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &types.BackendPostError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &types.BackendPostError{Endpoint: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	n.logger.Debug("backend post succeeded", zap.String("path", path), zap.Int("status", resp.StatusCode))
	return nil
}
