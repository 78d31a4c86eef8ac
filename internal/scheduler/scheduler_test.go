package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/stellarkey"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

type scriptedMiner struct {
	outputs []*types.MinerOutput
	errs    []error
	call    int
}

func (m *scriptedMiner) Run(ctx context.Context, farmerHex32 string, blockIndex uint32, entropyHex string, nonceCount uint64) (*types.MinerOutput, error) {
	i := m.call
	m.call++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.outputs) {
		return m.outputs[i], nil
	}
	return nil, errors.New("scriptedMiner: out of script")
}

type scriptedRelay struct {
	results []*types.WorkSubmissionResult
	errs    []error
	call    int
}

func (r *scriptedRelay) Submit(ctx context.Context, custodialWallet, custodialSecretKey string, hash []byte, nonce uint64) (*types.WorkSubmissionResult, error) {
	i := r.call
	r.call++
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i < len(r.results) {
		return r.results[i], nil
	}
	return nil, errors.New("scriptedRelay: out of script")
}

func testFarmer(t *testing.T) types.PlantedFarmer {
	var seed [32]byte
	seed[0] = 7
	return types.PlantedFarmer{
		FarmerID:           "F1",
		CustodialWallet:    stellarkey.EncodeAccountID(seed),
		CustodialSecretKey: stellarkey.EncodeSeed(seed),
	}
}

func notificationWith(farmers ...types.PlantedFarmer) *types.PlantingNotification {
	return &types.PlantingNotification{
		BlockIndex:     201,
		Entropy:        [32]byte{0xab},
		BlockTimestamp: time.Now().Add(-200 * time.Second), // already past work-delay
		PlantedFarmers: farmers,
	}
}

func TestSchedulerHappyPath(t *testing.T) {
	farmer := testFarmer(t)
	miner := &scriptedMiner{outputs: []*types.MinerOutput{{Nonce: 12345, Hash: "0000007abc", Zeros: 7}}}
	relay := &scriptedRelay{results: []*types.WorkSubmissionResult{{TransactionHash: "AAA"}}}

	s := NewScheduler(miner, relay, 0, time.Second, 10_000_000, 3, zap.NewNop())
	batch, err := s.Run(context.Background(), notificationWith(farmer))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(batch.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(batch.Results))
	}
	r := batch.Results[0]
	if r.Status != types.ResultSuccess {
		t.Errorf("status = %s, want success", r.Status)
	}
	if r.CompensationRequired {
		t.Error("compensationRequired should be false on success")
	}
	if r.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", r.Attempts)
	}
}

func TestSchedulerMiningSuccessSubmissionFails(t *testing.T) {
	farmer := testFarmer(t)
	miner := &scriptedMiner{outputs: []*types.MinerOutput{{Nonce: 77, Hash: "000d00", Zeros: 3}}}
	relay := &scriptedRelay{errs: []error{&types.RelaySimulationError{Msg: "Error(Contract, #13)"}}}

	s := NewScheduler(miner, relay, 0, time.Second, 10_000_000, 3, zap.NewNop())
	batch, err := s.Run(context.Background(), notificationWith(farmer))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := batch.Results[0]
	if r.Status != types.ResultFailed {
		t.Errorf("status = %s, want failed (per §9: mining success + submission failure is failed)", r.Status)
	}
	if !r.CompensationRequired {
		t.Error("compensationRequired should be true")
	}
	if r.Nonce == nil || *r.Nonce != 77 {
		t.Error("expected nonce to be retained for diagnostics")
	}
}

func TestSchedulerRecoversAfterMinerTimeout(t *testing.T) {
	farmer := testFarmer(t)
	miner := &scriptedMiner{
		errs:    []error{&types.MinerTimeout{TimeoutMs: 300000}},
		outputs: []*types.MinerOutput{nil, {Nonce: 9999, Hash: "00005efa", Zeros: 4}},
	}
	relay := &scriptedRelay{results: []*types.WorkSubmissionResult{{TransactionHash: "BBB"}}}

	s := NewScheduler(miner, relay, 0, time.Second, 10_000_000, 3, zap.NewNop())
	batch, err := s.Run(context.Background(), notificationWith(farmer))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := batch.Results[0]
	if r.Status != types.ResultRecovered {
		t.Errorf("status = %s, want recovered", r.Status)
	}
	if r.Attempts < 2 {
		t.Errorf("attempts = %d, want >= 2", r.Attempts)
	}
}

func TestSchedulerExhaustsRecoveryAttempts(t *testing.T) {
	farmer := testFarmer(t)
	miner := &scriptedMiner{errs: []error{
		&types.MinerTimeout{}, &types.MinerTimeout{}, &types.MinerTimeout{}, &types.MinerTimeout{},
	}}
	relay := &scriptedRelay{}

	s := NewScheduler(miner, relay, 0, time.Second, 10_000_000, 3, zap.NewNop())
	batch, err := s.Run(context.Background(), notificationWith(farmer))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := batch.Results[0]
	if r.Status != types.ResultFailed {
		t.Errorf("status = %s, want failed", r.Status)
	}
	if !r.CompensationRequired {
		t.Error("compensationRequired should be true")
	}
	if r.Attempts != 4 {
		t.Errorf("attempts = %d, want 4 (1 initial + 3 recovery)", r.Attempts)
	}
}

func TestSchedulerOrderPreservedAcrossFarmers(t *testing.T) {
	f1 := testFarmer(t)
	f1.FarmerID = "F1"
	f2 := testFarmer(t)
	f2.FarmerID = "F2"

	miner := &scriptedMiner{outputs: []*types.MinerOutput{
		{Nonce: 1, Hash: "00ab", Zeros: 2},
		{Nonce: 2, Hash: "00cd", Zeros: 2},
	}}
	relay := &scriptedRelay{results: []*types.WorkSubmissionResult{{TransactionHash: "A"}, {TransactionHash: "B"}}}

	s := NewScheduler(miner, relay, 0, time.Second, 10_000_000, 3, zap.NewNop())
	batch, err := s.Run(context.Background(), notificationWith(f1, f2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(batch.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(batch.Results))
	}
	if batch.Results[0].FarmerID != "F1" || batch.Results[1].FarmerID != "F2" {
		t.Errorf("order not preserved: %s, %s", batch.Results[0].FarmerID, batch.Results[1].FarmerID)
	}
}
