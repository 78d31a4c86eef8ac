package chainreader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/chainrpc"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/xdrmini"
)

func encodeMap(entries ...xdrmini.SCMapEntry) string {
	var buf bytes.Buffer
	_ = xdrmini.Encode(&buf, xdrmini.SCVal{Type: xdrmini.TypeMap, Map: entries})
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestReadNoBlockYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ID int `json:"id"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		xdr := encodeMap(xdrmini.SCMapEntry{Key: xdrmini.SymbolVal("FarmIndex"), Val: xdrmini.U32Val(0)})
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      body.ID,
			"result": map[string]any{
				"entries": []map[string]any{{"key": "k", "xdr": xdr}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	rpc := chainrpc.NewClient(srv.URL)
	reader := NewReader(rpc, "CCONTRACT", zap.NewNop())

	snapshot, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snapshot.Index != 0 {
		t.Errorf("Index = %d, want 0", snapshot.Index)
	}
	if snapshot.Block != nil {
		t.Error("expected nil block at index 0")
	}
}

func TestReadFarmIndexAndBlock(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ID int `json:"id"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)

		var xdr string
		if callCount == 0 {
			xdr = encodeMap(xdrmini.SCMapEntry{Key: xdrmini.SymbolVal("FarmIndex"), Val: xdrmini.U32Val(101)})
		} else {
			xdr = encodeMap(
				xdrmini.SCMapEntry{Key: xdrmini.SymbolVal("timestamp"), Val: xdrmini.U32Val(1700000000)},
				xdrmini.SCMapEntry{Key: xdrmini.SymbolVal("min_zeros"), Val: xdrmini.U32Val(6)},
				xdrmini.SCMapEntry{Key: xdrmini.SymbolVal("max_zeros"), Val: xdrmini.U32Val(9)},
			)
		}
		callCount++

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      body.ID,
			"result": map[string]any{
				"entries": []map[string]any{{"key": "k", "xdr": xdr}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	rpc := chainrpc.NewClient(srv.URL)
	reader := NewReader(rpc, "CCONTRACT", zap.NewNop())

	snapshot, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snapshot.Index != 101 {
		t.Fatalf("Index = %d, want 101", snapshot.Index)
	}
	if snapshot.Block == nil {
		t.Fatal("expected a decoded block")
	}
	if snapshot.Block.MinZeros != 6 || snapshot.Block.MaxZeros != 9 {
		t.Errorf("zeros = %d/%d, want 6/9", snapshot.Block.MinZeros, snapshot.Block.MaxZeros)
	}
}
