package stellarkey

import (
	"crypto/ed25519"
	"testing"
)

func TestEncodeDecodeAccountIDRoundTrip(t *testing.T) {
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i)
	}

	encoded := EncodeAccountID(pub)
	if encoded[0] != 'G' {
		t.Fatalf("EncodeAccountID prefix = %q, want G...", encoded[:1])
	}

	decoded, err := DecodeAccountID(encoded)
	if err != nil {
		t.Fatalf("DecodeAccountID: %v", err)
	}
	if decoded != pub {
		t.Errorf("decoded = %x, want %x", decoded, pub)
	}
}

func TestEncodeDecodeSeedRoundTrip(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(31 - i)
	}

	encoded := EncodeSeed(seed)
	if encoded[0] != 'S' {
		t.Fatalf("EncodeSeed prefix = %q, want S...", encoded[:1])
	}

	decoded, err := DecodeSeed(encoded)
	if err != nil {
		t.Fatalf("DecodeSeed: %v", err)
	}
	if decoded != seed {
		t.Errorf("decoded = %x, want %x", decoded, seed)
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	var seed [32]byte
	encoded := EncodeSeed(seed)
	if _, err := DecodeAccountID(encoded); err == nil {
		t.Error("expected version mismatch error decoding a seed as an account id")
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	var pub [32]byte
	encoded := EncodeAccountID(pub)
	tampered := []byte(encoded)
	// flip the last character, which lives inside the checksum
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}
	if _, err := DecodeAccountID(string(tampered)); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestPublicKeyHexFromSeed(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i * 3)
	}
	strkeySeed := EncodeSeed(seed)

	hexKey, err := PublicKeyHexFromSeed(strkeySeed)
	if err != nil {
		t.Fatalf("PublicKeyHexFromSeed: %v", err)
	}
	if len(hexKey) != 64 {
		t.Errorf("hex key length = %d, want 64", len(hexKey))
	}

	priv := ed25519.NewKeyFromSeed(seed[:])
	wantPub := priv.Public().(ed25519.PublicKey)
	if hexKey != hexEncode(wantPub) {
		t.Errorf("hex key = %s, want %s", hexKey, hexEncode(wantPub))
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
