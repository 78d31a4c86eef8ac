// Package xdrmini hand-rolls the small subset of the Soroban contract
// value (SCVal) wire encoding the pooler actually needs: enough to read
// FarmIndex/Block[i] contract storage and to build the argument list for
// a work(farmer, hash, nonce) invocation. It does not claim full XDR
// fidelity; see DESIGN.md.
package xdrmini

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SCValType mirrors the handful of Soroban SCVal discriminants this
// package understands.
type SCValType uint32

const (
	TypeU32    SCValType = 4
	TypeI128   SCValType = 10
	TypeBytes  SCValType = 14
	TypeSymbol SCValType = 15
	TypeVec    SCValType = 16
	TypeMap    SCValType = 17
)

// SCVal is a decoded or to-be-encoded contract value. Only one of the
// typed fields is meaningful, selected by Type.
type SCVal struct {
	Type SCValType

	U32    uint32
	I128Hi int64
	I128Lo uint64
	Bytes  []byte
	Symbol string
	Vec    []SCVal
	Map    []SCMapEntry
}

// SCMapEntry is one key/value pair of an SCMap, in wire order.
type SCMapEntry struct {
	Key SCVal
	Val SCVal
}

// U32Val builds a u32 SCVal.
func U32Val(v uint32) SCVal { return SCVal{Type: TypeU32, U32: v} }

// SymbolVal builds a symbol SCVal.
func SymbolVal(s string) SCVal { return SCVal{Type: TypeSymbol, Symbol: s} }

// BytesVal builds a bytes SCVal.
func BytesVal(b []byte) SCVal { return SCVal{Type: TypeBytes, Bytes: b} }

// VecVal builds a vec SCVal.
func VecVal(items ...SCVal) SCVal { return SCVal{Type: TypeVec, Vec: items} }

// I128Val builds a signed 128-bit SCVal from hi/lo halves, matching the
// chain's stake-amount encoding.
func I128Val(hi int64, lo uint64) SCVal { return SCVal{Type: TypeI128, I128Hi: hi, I128Lo: lo} }

// Encode writes the XDR-ish encoding of v to buf.
func Encode(buf *bytes.Buffer, v SCVal) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(v.Type)); err != nil {
		return err
	}
	switch v.Type {
	case TypeU32:
		return binary.Write(buf, binary.BigEndian, v.U32)
	case TypeI128:
		if err := binary.Write(buf, binary.BigEndian, v.I128Hi); err != nil {
			return err
		}
		return binary.Write(buf, binary.BigEndian, v.I128Lo)
	case TypeBytes:
		return writeOpaque(buf, v.Bytes)
	case TypeSymbol:
		return writeOpaque(buf, []byte(v.Symbol))
	case TypeVec:
		if err := binary.Write(buf, binary.BigEndian, uint32(len(v.Vec))); err != nil {
			return err
		}
		for _, item := range v.Vec {
			if err := Encode(buf, item); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		if err := binary.Write(buf, binary.BigEndian, uint32(len(v.Map))); err != nil {
			return err
		}
		for _, entry := range v.Map {
			if err := Encode(buf, entry.Key); err != nil {
				return err
			}
			if err := Encode(buf, entry.Val); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("xdrmini: encode: unsupported type %d", v.Type)
	}
}

// writeOpaque writes a 4-byte big-endian length followed by the bytes,
// padded to a 4-byte boundary with zeros, matching XDR's opaque<> rule.
func writeOpaque(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	if _, err := buf.Write(b); err != nil {
		return err
	}
	if pad := (4 - len(b)%4) % 4; pad > 0 {
		if _, err := buf.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads one SCVal from r, advancing it past the value's bytes
// (including padding).
func Decode(r *bytes.Reader) (SCVal, error) {
	var typ uint32
	if err := binary.Read(r, binary.BigEndian, &typ); err != nil {
		return SCVal{}, err
	}
	switch SCValType(typ) {
	case TypeU32:
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return SCVal{}, err
		}
		return SCVal{Type: TypeU32, U32: v}, nil
	case TypeI128:
		var hi int64
		var lo uint64
		if err := binary.Read(r, binary.BigEndian, &hi); err != nil {
			return SCVal{}, err
		}
		if err := binary.Read(r, binary.BigEndian, &lo); err != nil {
			return SCVal{}, err
		}
		return SCVal{Type: TypeI128, I128Hi: hi, I128Lo: lo}, nil
	case TypeBytes:
		b, err := readOpaque(r)
		if err != nil {
			return SCVal{}, err
		}
		return SCVal{Type: TypeBytes, Bytes: b}, nil
	case TypeSymbol:
		b, err := readOpaque(r)
		if err != nil {
			return SCVal{}, err
		}
		return SCVal{Type: TypeSymbol, Symbol: string(b)}, nil
	case TypeVec:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return SCVal{}, err
		}
		items := make([]SCVal, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := Decode(r)
			if err != nil {
				return SCVal{}, err
			}
			items = append(items, item)
		}
		return SCVal{Type: TypeVec, Vec: items}, nil
	case TypeMap:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return SCVal{}, err
		}
		entries := make([]SCMapEntry, 0, n)
		for i := uint32(0); i < n; i++ {
			key, err := Decode(r)
			if err != nil {
				return SCVal{}, err
			}
			val, err := Decode(r)
			if err != nil {
				return SCVal{}, err
			}
			entries = append(entries, SCMapEntry{Key: key, Val: val})
		}
		return SCVal{Type: TypeMap, Map: entries}, nil
	default:
		return SCVal{}, fmt.Errorf("xdrmini: decode: unsupported type %d", typ)
	}
}

func readOpaque(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	if pad := (4 - int(n)%4) % 4; pad > 0 {
		skip := make([]byte, pad)
		if _, err := r.Read(skip); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// FindSymbolEntry looks up the value keyed by the given symbol in an
// SCMap, matching the FarmIndex lookup pattern in §4.1.
func FindSymbolEntry(m SCVal, symbol string) (SCVal, bool) {
	if m.Type != TypeMap {
		return SCVal{}, false
	}
	for _, entry := range m.Map {
		if entry.Key.Type == TypeSymbol && entry.Key.Symbol == symbol {
			return entry.Val, true
		}
	}
	return SCVal{}, false
}
