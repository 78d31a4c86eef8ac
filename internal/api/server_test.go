package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/monitor"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

type fakeMonitor struct {
	state  monitor.State
	stats  types.MonitorStats
	cursor uint32
}

func (f *fakeMonitor) State() monitor.State         { return f.state }
func (f *fakeMonitor) Stats() types.MonitorStats    { return f.stats }
func (f *fakeMonitor) Cursor() uint32               { return f.cursor }

type fakeCoordinator struct {
	received []*types.PlantingNotification
}

func (f *fakeCoordinator) PendingBlocks() []uint32 { return []uint32{1, 2} }
func (f *fakeCoordinator) ReceivePlantingNotification(ctx context.Context, n *types.PlantingNotification) error {
	f.received = append(f.received, n)
	return nil
}

type fakeMiner struct{ running bool }

func (f *fakeMiner) Running() bool { return f.running }

func TestHandleHealthOK(t *testing.T) {
	m := &fakeMonitor{state: monitor.StateRunning, stats: types.MonitorStats{ConsecutiveErrorCount: 0}}
	s := NewServer(m, &fakeCoordinator{}, &fakeMiner{}, "tok", 10, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestHandleHealthUnhealthyWhenHalted(t *testing.T) {
	m := &fakeMonitor{state: monitor.StateHalted, stats: types.MonitorStats{ConsecutiveErrorCount: 10}}
	s := NewServer(m, &fakeCoordinator{}, &fakeMiner{}, "tok", 10, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandlePlantedFarmersRequiresAuth(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewServer(&fakeMonitor{}, coord, &fakeMiner{}, "secret", 10, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(coord.received) != 0 {
		t.Error("expected no notification dispatched without auth")
	}
}

func TestHandlePlantedFarmersAcceptsValidAuth(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewServer(&fakeMonitor{}, coord, &fakeMiner{}, "secret", 10, zap.NewNop())

	body := `{"blockIndex":201,"blockData":{"entropy":"` + makeHex64() + `","blockTimestamp":1700000000},"plantedFarmers":[{"farmerId":"F1","custodialWallet":"G1","custodialSecretKey":"S1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if len(coord.received) != 1 {
		t.Fatalf("expected 1 dispatched notification, got %d", len(coord.received))
	}
	if coord.received[0].BlockIndex != 201 {
		t.Errorf("blockIndex = %d, want 201", coord.received[0].BlockIndex)
	}
	if len(coord.received[0].PlantedFarmers) != 1 {
		t.Errorf("expected 1 farmer, got %d", len(coord.received[0].PlantedFarmers))
	}
}

func TestHandlePlantedFarmersCarriesStakeAmountAndPlantingTime(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewServer(&fakeMonitor{}, coord, &fakeMiner{}, "secret", 10, zap.NewNop())

	body := `{"blockIndex":201,"blockData":{"entropy":"` + makeHex64() + `","blockTimestamp":1700000000},` +
		`"plantedFarmers":[{"farmerId":"F1","custodialWallet":"G1","custodialSecretKey":"S1","stakeAmount":"123456789012345678","plantingTime":1700000500}]}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if len(coord.received) != 1 || len(coord.received[0].PlantedFarmers) != 1 {
		t.Fatalf("expected 1 notification with 1 farmer, got %+v", coord.received)
	}

	farmer := coord.received[0].PlantedFarmers[0]
	if farmer.StakeAmount == nil || farmer.StakeAmount.String() != "123456789012345678" {
		t.Errorf("stakeAmount = %v, want 123456789012345678", farmer.StakeAmount)
	}
	if farmer.PlantingTime.Unix() != 1700000500 {
		t.Errorf("plantingTime = %v, want unix 1700000500", farmer.PlantingTime)
	}
}

func TestHandlePlantedFarmersDefaultsPlantingTimeWhenAbsent(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewServer(&fakeMonitor{}, coord, &fakeMiner{}, "secret", 10, zap.NewNop())

	before := time.Now().UTC()
	body := `{"blockIndex":201,"blockData":{"entropy":"` + makeHex64() + `","blockTimestamp":1700000000},` +
		`"plantedFarmers":[{"farmerId":"F1","custodialWallet":"G1","custodialSecretKey":"S1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planted-farmers", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	farmer := coord.received[0].PlantedFarmers[0]
	if farmer.StakeAmount != nil {
		t.Errorf("stakeAmount = %v, want nil for omitted field", farmer.StakeAmount)
	}
	if farmer.PlantingTime.Before(before) {
		t.Errorf("plantingTime = %v, want default near %v", farmer.PlantingTime, before)
	}
}

func TestHandlePlantingStatusFoldsAliases(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewServer(&fakeMonitor{}, coord, &fakeMiner{}, "secret", 10, zap.NewNop())

	body := `{"block_index":201,"pooler_id":"p1","successful_plants":1,"failed_plants":0,"block_data":{"entropy":"` + makeHex64() + `","block_timestamp":1700000000},"planted_farmers":[{"farmer_id":"F1","custodial_wallet":"G1","custodial_secret_key":"S1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planting-status", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if len(coord.received) != 1 {
		t.Fatalf("expected 1 dispatched notification, got %d", len(coord.received))
	}
}

func TestHandlePlantingStatusWithoutFarmersIsAcknowledgedNotDispatched(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewServer(&fakeMonitor{}, coord, &fakeMiner{}, "secret", 10, zap.NewNop())

	body := `{"block_index":201,"successful_plants":0,"failed_plants":5}`
	req := httptest.NewRequest(http.MethodPost, "/backend/planting-status", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(coord.received) != 0 {
		t.Error("expected no dispatch when plantedFarmers is absent")
	}
}

func TestStatusWorkCaching(t *testing.T) {
	miner := &fakeMiner{running: true}
	s := NewServer(&fakeMonitor{}, &fakeCoordinator{}, miner, "secret", 10, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/status/work", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["minerRunning"] != true {
		t.Errorf("minerRunning = %v, want true", body["minerRunning"])
	}

	miner.running = false
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, req)
	var body2 map[string]any
	_ = json.Unmarshal(w2.Body.Bytes(), &body2)
	if body2["minerRunning"] != true {
		t.Errorf("expected cached value (true) within TTL, got %v", body2["minerRunning"])
	}

	time.Sleep(statusCacheTTL + 10*time.Millisecond)
	w3 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w3, req)
	var body3 map[string]any
	_ = json.Unmarshal(w3.Body.Bytes(), &body3)
	if body3["minerRunning"] != false {
		t.Errorf("expected fresh value (false) after TTL, got %v", body3["minerRunning"])
	}
}

func makeHex64() string {
	return "ab" + strings.Repeat("00", 31)
}
