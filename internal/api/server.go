// Package api implements the inbound half of the Notifier (C7): the
// Backend-facing HTTP server for planting notifications plus /health
// and /status/work. The ServeMux + cached-JSON-response shape is
// adapted from the teacher's internal/web.NewHandler (statusCache with
// a TTL, mounted metrics.Handler()); the inbound submit rate limiting
// is adapted from internal/stratum/session.go's submitLimiter.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/metrics"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/monitor"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// MonitorStatus is the subset of monitor.Monitor the API depends on.
type MonitorStatus interface {
	State() monitor.State
	Stats() types.MonitorStats
	Cursor() uint32
}

// CoordinatorStatus is the subset of coordinator.Coordinator the API
// depends on.
type CoordinatorStatus interface {
	PendingBlocks() []uint32
	ReceivePlantingNotification(ctx context.Context, n *types.PlantingNotification) error
}

// MinerStatus is the subset of miner.Runner the API depends on.
type MinerStatus interface {
	Running() bool
}

// statusCache caches the /status/work JSON body for a short TTL, the
// same pattern as the teacher's internal/web.statusCache.
type statusCache struct {
	mu      sync.Mutex
	data    []byte
	expires time.Time
}

const statusCacheTTL = 2 * time.Second

func (c *statusCache) get(build func() []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expires) {
		return c.data
	}
	c.data = build()
	c.expires = time.Now().Add(statusCacheTTL)
	return c.data
}

// Server is the inbound HTTP surface described in §6.
type Server struct {
	monitor     MonitorStatus
	coordinator CoordinatorStatus
	miner       MinerStatus
	authToken   string
	maxErrors   int
	logger      *zap.Logger

	limiter *rate.Limiter
	cache   *statusCache
}

// NewServer creates the inbound HTTP handler.
func NewServer(monitor MonitorStatus, coordinator CoordinatorStatus, miner MinerStatus, authToken string, maxErrors int, logger *zap.Logger) *Server {
	return &Server{
		monitor:     monitor,
		coordinator: coordinator,
		miner:       miner,
		authToken:   authToken,
		maxErrors:   maxErrors,
		logger:      logger,
		limiter:     rate.NewLimiter(20, 10),
		cache:       &statusCache{},
	}
}

// Handler builds the http.Handler for the inbound API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status/work", s.handleStatusWork)
	mux.HandleFunc("/backend/planting-status", s.rateLimited(s.handlePlantingStatus))
	mux.HandleFunc("/backend/planted-farmers", s.rateLimited(s.handlePlantedFarmers))
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.monitor.Stats()
	healthy := s.monitor.State() != monitor.StateHalted && stats.ConsecutiveErrorCount < s.maxErrors

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy":               healthy,
		"cursor":                s.monitor.Cursor(),
		"consecutiveErrorCount": stats.ConsecutiveErrorCount,
		"totalBlocksDiscovered": stats.TotalBlocksDiscovered,
		"uptimeSec":             time.Since(stats.StartTime).Seconds(),
	})
}

func (s *Server) handleStatusWork(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.cache.get(func() []byte {
		body := map[string]any{
			"pendingBlocks": s.coordinator.PendingBlocks(),
			"minerRunning":  s.miner.Running(),
		}
		buf, _ := json.Marshal(body)
		return buf
	}))
}

// plantingStatusBody accepts both snake_case and camelCase field names
// per §6 and §9's "dynamic-typed inbound request body" design note.
type plantingStatusBody struct {
	BlockIndexSnake uint32 `json:"block_index"`
	BlockIndexCamel uint32 `json:"blockIndex"`

	PoolerID string `json:"pooler_id"`

	BlockDataSnake *blockDataAlias `json:"block_data"`
	BlockDataCamel *blockDataAlias `json:"blockData"`

	PlantedFarmersSnake []plantedFarmerAlias `json:"planted_farmers"`
	PlantedFarmersCamel []plantedFarmerAlias `json:"plantedFarmers"`
}

type blockDataAlias struct {
	Entropy        string `json:"entropy"`
	TimestampSnake int64  `json:"block_timestamp"`
	TimestampCamel int64  `json:"blockTimestamp"`
}

type plantedFarmerAlias struct {
	FarmerIDSnake        string `json:"farmer_id"`
	FarmerIDCamel        string `json:"farmerId"`
	CustodialWalletSnake string `json:"custodial_wallet"`
	CustodialWalletCamel string `json:"custodialWallet"`
	CustodialSecretSnake string `json:"custodial_secret_key"`
	CustodialSecretCamel string `json:"custodialSecretKey"`
	StakeAmountSnake     string `json:"stake_amount"`
	StakeAmountCamel     string `json:"stakeAmount"`
	PlantingTimeSnake    int64  `json:"planting_time"`
	PlantingTimeCamel    int64  `json:"plantingTime"`
}

func coalesce(a, b uint32) uint32 {
	if a != 0 {
		return a
	}
	return b
}

func coalesceStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *Server) handlePlantingStatus(w http.ResponseWriter, r *http.Request) {
	var body plantingStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeInvalid(w, "malformed JSON body")
		return
	}

	blockIndex := coalesce(body.BlockIndexCamel, body.BlockIndexSnake)
	farmers := body.PlantedFarmersCamel
	if len(farmers) == 0 {
		farmers = body.PlantedFarmersSnake
	}

	if len(farmers) == 0 {
		// No scheduling required; acknowledge and drop, per §6: only
		// notifications that also carry planted_farmers/block_data are
		// translated into scheduling work.
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "acknowledged"})
		return
	}

	blockData := body.BlockDataCamel
	if blockData == nil {
		blockData = body.BlockDataSnake
	}
	if blockData == nil {
		writeInvalid(w, "missing block_data/blockData")
		return
	}

	notification, err := translateNotification(blockIndex, blockData, farmers)
	if err != nil {
		writeInvalid(w, err.Error())
		return
	}

	s.dispatch(r.Context(), w, notification)
}

func (s *Server) handlePlantedFarmers(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "Bearer "+s.authToken {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	var body struct {
		BlockIndex uint32 `json:"blockIndex"`
		BlockData  struct {
			Entropy        string `json:"entropy"`
			BlockTimestamp int64  `json:"blockTimestamp"`
		} `json:"blockData"`
		PlantedFarmers []plantedFarmerAlias `json:"plantedFarmers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeInvalid(w, "malformed JSON body")
		return
	}

	notification, err := translateNotification(body.BlockIndex, &blockDataAlias{
		Entropy:        body.BlockData.Entropy,
		TimestampCamel: body.BlockData.BlockTimestamp,
	}, body.PlantedFarmers)
	if err != nil {
		writeInvalid(w, err.Error())
		return
	}

	s.dispatch(r.Context(), w, notification)
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, n *types.PlantingNotification) {
	// Detach from the request context so the background scheduler task
	// outlives the HTTP response, as in §4.6.
	if err := s.coordinator.ReceivePlantingNotification(context.Background(), n); err != nil {
		s.logger.Warn("planting notification rejected", zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func writeInvalid(w http.ResponseWriter, reason string) {
	// §7: InvalidNotification still replies 200 OK; the Backend is
	// trusted and no scheduling happens.
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored", "reason": reason})
}

func translateNotification(blockIndex uint32, blockData *blockDataAlias, farmers []plantedFarmerAlias) (*types.PlantingNotification, error) {
	entropyHex := strings.TrimSpace(blockData.Entropy)
	var entropy [32]byte
	if len(entropyHex) == 64 {
		if decoded, err := hex.DecodeString(entropyHex); err == nil {
			copy(entropy[:], decoded)
		}
	}

	ts := coalesceInt64(blockData.TimestampCamel, blockData.TimestampSnake)

	planted := make([]types.PlantedFarmer, 0, len(farmers))
	for _, f := range farmers {
		plantingTime := time.Now().UTC()
		if pt := coalesceInt64(f.PlantingTimeCamel, f.PlantingTimeSnake); pt != 0 {
			plantingTime = time.Unix(pt, 0).UTC()
		}

		planted = append(planted, types.PlantedFarmer{
			FarmerID:           coalesceStr(f.FarmerIDCamel, f.FarmerIDSnake),
			CustodialWallet:    coalesceStr(f.CustodialWalletCamel, f.CustodialWalletSnake),
			CustodialSecretKey: coalesceStr(f.CustodialSecretCamel, f.CustodialSecretSnake),
			StakeAmount:        parseStakeAmount(coalesceStr(f.StakeAmountCamel, f.StakeAmountSnake)),
			PlantingTime:       plantingTime,
		})
	}

	return &types.PlantingNotification{
		BlockIndex:     blockIndex,
		Entropy:        entropy,
		BlockTimestamp: time.Unix(ts, 0).UTC(),
		PlantedFarmers: planted,
	}, nil
}

func coalesceInt64(a, b int64) int64 {
	if a != 0 {
		return a
	}
	return b
}

// parseStakeAmount parses a decimal stake amount string into a *big.Int.
// An empty or malformed value leaves the stake unset rather than erroring
// the whole notification, since stakeAmount is informational here.
func parseStakeAmount(s string) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
