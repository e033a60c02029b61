package relay

import (
	"encoding/binary"
	"net"

	"github.com/cockroachdb/errors"
)

// AddressSize is the wire size of an Address: 4 bytes of IPv4 plus a
// 2-byte port, matching the transport's native address encoding.
const AddressSize = 6

// ErrShortAddress is returned when decoding an Address from fewer than
// AddressSize bytes.
var ErrShortAddress = errors.New("relay: short address")

// Address is an opaque endpoint identifier: comparable for equality and
// serializable in a fixed 6-byte wire form. It is used as a map key
// throughout the relay, so it is a plain value type rather than a pointer.
type Address struct {
	IP   [4]byte
	Port uint16
}

// AddressFromUDP converts a *net.UDPAddr into an Address. Only IPv4 is
// supported, matching the 6-byte wire form.
func AddressFromUDP(a *net.UDPAddr) (Address, error) {
	ip4 := a.IP.To4()
	if ip4 == nil {
		return Address{}, errors.Newf("relay: address %s is not IPv4", a.String())
	}
	var addr Address
	copy(addr.IP[:], ip4)
	addr.Port = uint16(a.Port)
	return addr, nil
}

// UDPAddr converts an Address back into a *net.UDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	ip := make(net.IP, 4)
	copy(ip, a.IP[:])
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}
}

// String renders the Address in host:port form for logging.
func (a Address) String() string {
	return a.UDPAddr().String()
}

// IsZero reports whether a is the zero Address (no IP, no port).
func (a Address) IsZero() bool {
	return a.IP == [4]byte{} && a.Port == 0
}

// Encode appends the 6-byte wire form of a to dst and returns the result.
func (a Address) Encode(dst []byte) []byte {
	dst = append(dst, a.IP[:]...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	return append(dst, portBuf[:]...)
}

// DecodeAddress reads a 6-byte Address from the front of src, returning
// the parsed Address and the remaining unread bytes.
func DecodeAddress(src []byte) (Address, []byte, error) {
	if len(src) < AddressSize {
		return Address{}, nil, ErrShortAddress
	}
	var addr Address
	copy(addr.IP[:], src[0:4])
	addr.Port = binary.BigEndian.Uint16(src[4:6])
	return addr, src[AddressSize:], nil
}
