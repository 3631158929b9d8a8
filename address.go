package trojan

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
)

// AddrType is the Trojan wire ATYP tag (spec §4.1).
type AddrType byte

const (
	// AddrNone is the zero value: an Address with no variant set yet.
	AddrNone AddrType = 0
	AddrIPv4 AddrType = 0x01
	AddrDomain AddrType = 0x03
	AddrIPv6 AddrType = 0x04
)

// Address is a tagged value carrying one of {None, V4, V6, Hostname}. Once a
// non-None variant is assigned via one of the constructors it must not be
// mutated; callers needing a different address build a new Address.
type Address struct {
	typ  AddrType
	ip   net.IP // 4 bytes for V4, 16 bytes for V6
	host string // set only for AddrDomain
	port uint16
}

// Type reports which variant is populated.
func (a Address) Type() AddrType { return a.typ }

// Port returns the 16-bit port, valid for any non-None variant.
func (a Address) Port() uint16 { return a.port }

// Host returns a string form suitable for net.JoinHostPort / SNI / dialing.
func (a Address) Host() string {
	switch a.typ {
	case AddrIPv4, AddrIPv6:
		return a.ip.String()
	case AddrDomain:
		return a.host
	default:
		return ""
	}
}

// String renders "host:port", empty for the None variant.
func (a Address) String() string {
	if a.typ == AddrNone {
		return ""
	}
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.port)))
}

// NewV4Address builds an IPv4 Address from 4 octets and a port.
func NewV4Address(octets [4]byte, port uint16) Address {
	ip := make(net.IP, 4)
	copy(ip, octets[:])
	return Address{typ: AddrIPv4, ip: ip, port: port}
}

// NewV6Address builds an IPv6 Address from 16 bytes and a port.
func NewV6Address(bytes [16]byte, port uint16) Address {
	ip := make(net.IP, 16)
	copy(ip, bytes[:])
	return Address{typ: AddrIPv6, ip: ip, port: port}
}

// NewHostnameAddress builds a domain Address. host must be non-empty,
// whitespace-free, and at most 255 bytes once encoded as UTF-8 — the same
// invariant the wire format enforces (spec §3).
func NewHostnameAddress(host string, port uint16) (Address, error) {
	if host == "" {
		return Address{}, Invalidf("empty hostname")
	}
	if strings.ContainsAny(host, " \t\r\n") {
		return Address{}, Invalidf("hostname contains whitespace: %q", host)
	}
	if len(host) > 255 {
		return Address{}, Invalidf("hostname too long: %d bytes", len(host))
	}
	return Address{typ: AddrDomain, host: host, port: port}, nil
}

// NewAddressFromHostPort builds the appropriate Address variant from a
// host and a port, preferring the IPv4/IPv6 literal encodings when host
// parses as an IP.
func NewAddressFromHostPort(host string, port uint16) (Address, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			var b [4]byte
			copy(b[:], v4)
			return NewV4Address(b, port), nil
		}
		v6 := ip.To16()
		if v6 == nil {
			return Address{}, Invalidf("unparseable ip literal: %q", host)
		}
		var b [16]byte
		copy(b[:], v6)
		return NewV6Address(b, port), nil
	}
	return NewHostnameAddress(host, port)
}

// EncodedLen reports the number of bytes Encode will append for a, not
// counting the leading cmd byte or trailing CRLF (those belong to the
// handshake framing in handshake.go).
func (a Address) EncodedLen() int {
	switch a.typ {
	case AddrIPv4:
		return 1 + 4 + 2
	case AddrIPv6:
		return 1 + 16 + 2
	case AddrDomain:
		return 1 + 1 + len(a.host) + 2
	default:
		return 0
	}
}

// Encode appends the ATYP|ADDR|PORT wire encoding of a to dst and returns
// the result. a must not be the None variant.
func (a Address) Encode(dst []byte) []byte {
	switch a.typ {
	case AddrIPv4:
		dst = append(dst, byte(AddrIPv4))
		dst = append(dst, a.ip.To4()...)
	case AddrIPv6:
		dst = append(dst, byte(AddrIPv6))
		dst = append(dst, a.ip.To16()...)
	case AddrDomain:
		dst = append(dst, byte(AddrDomain), byte(len(a.host)))
		dst = append(dst, a.host...)
	default:
		return dst
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.port)
	return append(dst, portBuf[:]...)
}

// DecodeAddress parses an ATYP|ADDR|PORT sequence from the front of b.
// It returns the parsed Address and the number of bytes consumed. On a
// short read it returns a KindIncomplete *Error carrying the exact number
// of additional bytes needed, per spec §4.1, so the caller can await more
// input without re-parsing the bytes already seen. On an unknown ATYP it
// returns a KindInvalid *Error.
func DecodeAddress(b []byte) (Address, int, error) {
	if len(b) < 1 {
		return Address{}, 0, Incomplete(1)
	}
	switch AddrType(b[0]) {
	case AddrIPv4:
		const n = 1 + 4 + 2
		if len(b) < n {
			return Address{}, 0, Incomplete(n - len(b))
		}
		var octets [4]byte
		copy(octets[:], b[1:5])
		port := binary.BigEndian.Uint16(b[5:7])
		return NewV4Address(octets, port), n, nil
	case AddrIPv6:
		const n = 1 + 16 + 2
		if len(b) < n {
			return Address{}, 0, Incomplete(n - len(b))
		}
		var bytes16 [16]byte
		copy(bytes16[:], b[1:17])
		port := binary.BigEndian.Uint16(b[17:19])
		return NewV6Address(bytes16, port), n, nil
	case AddrDomain:
		if len(b) < 2 {
			return Address{}, 0, Incomplete(2 - len(b))
		}
		l := int(b[1])
		if l == 0 {
			return Address{}, 0, Invalidf("zero-length domain")
		}
		n := 1 + 1 + l + 2
		if len(b) < n {
			return Address{}, 0, Incomplete(n - len(b))
		}
		host := string(b[2 : 2+l])
		port := binary.BigEndian.Uint16(b[2+l : 2+l+2])
		addr, err := NewHostnameAddress(host, port)
		if err != nil {
			return Address{}, 0, err
		}
		return addr, n, nil
	default:
		return Address{}, 0, Invalidf("unknown address type 0x%02x", b[0])
	}
}

