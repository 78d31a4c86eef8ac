// Package stellarkey decodes StrKey-encoded Stellar account and seed
// strings into raw key material. No Stellar SDK exists anywhere in the
// retrieved example pack (see DESIGN.md), so this is a small hand-rolled
// base32 + CRC16-XModem implementation rather than a fabricated
// dependency.
package stellarkey

import (
	"crypto/ed25519"
	"encoding/base32"
	"fmt"
)

const (
	versionByteAccountID byte = 6 << 3  // 'G...'
	versionByteSeed       byte = 18 << 3 // 'S...'
)

// DecodeAccountID decodes a "G..." StrKey into its raw 32-byte ed25519
// public key.
func DecodeAccountID(s string) ([32]byte, error) {
	return decode(s, versionByteAccountID)
}

// DecodeSeed decodes an "S..." StrKey into its raw 32-byte ed25519 seed.
func DecodeSeed(s string) ([32]byte, error) {
	return decode(s, versionByteSeed)
}

func decode(s string, wantVersion byte) ([32]byte, error) {
	var out [32]byte
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("stellarkey: base32 decode: %w", err)
	}
	if len(raw) != 1+32+2 {
		return out, fmt.Errorf("stellarkey: unexpected decoded length %d", len(raw))
	}
	version := raw[0]
	if version != wantVersion {
		return out, fmt.Errorf("stellarkey: version byte %#x, want %#x", version, wantVersion)
	}
	payload := raw[1:33]
	wantChecksum := raw[33:35]
	gotChecksum := crc16XModem(raw[:33])
	if gotChecksum[0] != wantChecksum[0] || gotChecksum[1] != wantChecksum[1] {
		return out, fmt.Errorf("stellarkey: checksum mismatch")
	}
	copy(out[:], payload)
	return out, nil
}

// PublicKeyHexFromSeed derives the raw 32-byte ed25519 public key, as
// lowercase hex, from an "S..." StrKey secret seed. This is what §4.5
// step 1 calls "the 32-byte raw public key of the farmer's signing
// material".
func PublicKeyHexFromSeed(strkeySeed string) (string, error) {
	seed, err := DecodeSeed(strkeySeed)
	if err != nil {
		return "", err
	}
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	return fmt.Sprintf("%x", []byte(pub)), nil
}

// Sign signs payload with the ed25519 key derived from an "S..." StrKey
// secret seed.
func Sign(strkeySeed string, payload []byte) ([]byte, error) {
	seed, err := DecodeSeed(strkeySeed)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed[:])
	return ed25519.Sign(priv, payload), nil
}

// EncodeAccountID encodes a raw 32-byte ed25519 public key as a "G..."
// StrKey.
func EncodeAccountID(pub [32]byte) string {
	return encode(versionByteAccountID, pub)
}

// EncodeSeed encodes a raw 32-byte ed25519 seed as an "S..." StrKey.
func EncodeSeed(seed [32]byte) string {
	return encode(versionByteSeed, seed)
}

func encode(version byte, payload [32]byte) string {
	raw := make([]byte, 0, 1+32+2)
	raw = append(raw, version)
	raw = append(raw, payload[:]...)
	checksum := crc16XModem(raw)
	raw = append(raw, checksum[0], checksum[1])
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
}

// crc16XModem computes the XModem variant of CRC-16 used by StrKey,
// little-endian.
func crc16XModem(data []byte) [2]byte {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return [2]byte{byte(crc), byte(crc >> 8)}
}
