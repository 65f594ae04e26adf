package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5A}, 20)
	addr := NewAddress(WillVaultPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(WillVaultPrefix)+"1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != WillVaultPrefix {
		t.Fatalf("prefix mismatch: %q", decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("payload mismatch: %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatalf("garbage input must fail")
	}
	if _, err := DecodeAddress(""); err == nil {
		t.Fatalf("empty input must fail")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5A}, 20)
	foreign := NewAddress(AddressPrefix("cosmos"), raw).String()
	if _, err := DecodeAddress(foreign); err == nil {
		t.Fatalf("foreign prefix must be rejected")
	}
	if !strings.Contains(foreign, "cosmos1") {
		t.Fatalf("test encoding broken: %q", foreign)
	}
}

func TestIsZero(t *testing.T) {
	var zero [20]byte
	if !MustAddress(zero).IsZero() {
		t.Fatalf("all-zero payload should be the null identity")
	}
	nonZero := zero
	nonZero[19] = 1
	if MustAddress(nonZero).IsZero() {
		t.Fatalf("non-zero payload misreported as null")
	}
}
