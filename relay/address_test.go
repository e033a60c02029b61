package relay

import (
	"net"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	addr := Address{IP: [4]byte{203, 0, 113, 7}, Port: 54321}
	encoded := addr.Encode(nil)
	if len(encoded) != AddressSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), AddressSize)
	}

	decoded, rest, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if decoded != addr {
		t.Fatalf("decoded = %+v, want %+v", decoded, addr)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %d bytes, want 0", len(rest))
	}
}

func TestAddressEncodeAppendsToPrefix(t *testing.T) {
	addr := Address{IP: [4]byte{10, 0, 0, 1}, Port: 1}
	prefix := []byte{0xFF}
	out := addr.Encode(prefix)
	if len(out) != 1+AddressSize {
		t.Fatalf("len = %d, want %d", len(out), 1+AddressSize)
	}
	if out[0] != 0xFF {
		t.Fatalf("prefix byte clobbered: %x", out[0])
	}
}

func TestDecodeAddressShort(t *testing.T) {
	_, _, err := DecodeAddress([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error decoding short address")
	}
}

func TestAddressFromUDPRejectsIPv6(t *testing.T) {
	v6 := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 80}
	if _, err := AddressFromUDP(v6); err == nil {
		t.Fatal("expected error for IPv6 address")
	}
}

func TestAddressFromUDPRoundTrip(t *testing.T) {
	udp := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 2), Port: 9000}
	addr, err := AddressFromUDP(udp)
	if err != nil {
		t.Fatalf("AddressFromUDP: %v", err)
	}
	back := addr.UDPAddr()
	if !back.IP.Equal(udp.IP) || back.Port != udp.Port {
		t.Fatalf("round trip mismatch: got %v, want %v", back, udp)
	}
}

func TestAddressIsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	nonzero := Address{Port: 1}
	if nonzero.IsZero() {
		t.Fatal("nonzero port should not report IsZero")
	}
}
