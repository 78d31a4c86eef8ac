package xdrmini

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []SCVal{
		U32Val(101),
		SymbolVal("FarmIndex"),
		BytesVal([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}),
		I128Val(0, 10_000_000),
		VecVal(SymbolVal("Block"), U32Val(101)),
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		if err := Encode(&buf, tt); err != nil {
			t.Fatalf("Encode(%v): %v", tt, err)
		}
		got, err := Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Type != tt.Type {
			t.Errorf("type = %d, want %d", got.Type, tt.Type)
		}
	}
}

func TestOpaquePadding(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, BytesVal([]byte{0x01})); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// 4-byte type + 4-byte length + 1 byte + 3 bytes padding = 12
	if buf.Len() != 12 {
		t.Errorf("encoded length = %d, want 12", buf.Len())
	}
}

func TestFindSymbolEntry(t *testing.T) {
	m := SCVal{
		Type: TypeMap,
		Map: []SCMapEntry{
			{Key: SymbolVal("FarmIndex"), Val: U32Val(101)},
			{Key: SymbolVal("Owner"), Val: BytesVal([]byte{0x01})},
		},
	}

	v, ok := FindSymbolEntry(m, "FarmIndex")
	if !ok {
		t.Fatal("expected FarmIndex entry to be found")
	}
	if v.U32 != 101 {
		t.Errorf("FarmIndex = %d, want 101", v.U32)
	}

	if _, ok := FindSymbolEntry(m, "Missing"); ok {
		t.Error("expected Missing entry to be absent")
	}
}
