package trojan

import (
	"errors"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	hostAddr, err := NewHostnameAddress("example.com", 443)
	if err != nil {
		t.Fatalf("NewHostnameAddress: %v", err)
	}
	cases := []Address{
		NewV4Address([4]byte{192, 168, 0, 1}, 80),
		NewV6Address([16]byte{0: 0x20, 1: 0x01, 15: 1}, 8080),
		hostAddr,
	}
	for _, want := range cases {
		enc := want.Encode(nil)
		got, n, err := DecodeAddress(enc)
		if err != nil {
			t.Fatalf("DecodeAddress(%x): %v", enc, err)
		}
		if n != len(enc) {
			t.Fatalf("consumed %d, want %d", n, len(enc))
		}
		if got.Type() != want.Type() || got.Host() != want.Host() || got.Port() != want.Port() {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestDecodeAddressIncompleteReportsExactShortfall(t *testing.T) {
	full := NewV4Address([4]byte{10, 0, 0, 1}, 1080).Encode(nil)
	for n := 0; n < len(full); n++ {
		_, _, err := DecodeAddress(full[:n])
		var te *Error
		if !errors.As(err, &te) || te.Kind != KindIncomplete {
			t.Fatalf("DecodeAddress(%d bytes): want Incomplete, got %v", n, err)
		}
		if n+te.Missing != len(full) {
			t.Fatalf("DecodeAddress(%d bytes): missing=%d, want %d", n, te.Missing, len(full)-n)
		}
		// Feeding exactly the missing bytes must now succeed.
		_, consumed, err := DecodeAddress(full[:n+te.Missing])
		if err != nil {
			t.Fatalf("decode after supplying missing bytes: %v", err)
		}
		if consumed != len(full) {
			t.Fatalf("consumed %d, want %d", consumed, len(full))
		}
	}
}

func TestDecodeAddressUnknownType(t *testing.T) {
	_, _, err := DecodeAddress([]byte{0x02, 0, 0, 0, 0, 0, 0})
	var te *Error
	if !errors.As(err, &te) || te.Kind != KindInvalid {
		t.Fatalf("want Invalid, got %v", err)
	}
}

func TestDecodeAddressZeroLengthDomain(t *testing.T) {
	_, _, err := DecodeAddress([]byte{byte(AddrDomain), 0})
	var te *Error
	if !errors.As(err, &te) || te.Kind != KindInvalid {
		t.Fatalf("want Invalid for zero-length domain, got %v", err)
	}
}

func TestNewHostnameAddressRejectsWhitespaceAndLength(t *testing.T) {
	if _, err := NewHostnameAddress("", 80); err == nil {
		t.Fatal("want error for empty host")
	}
	if _, err := NewHostnameAddress("has space.com", 80); err == nil {
		t.Fatal("want error for whitespace host")
	}
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NewHostnameAddress(string(long), 80); err == nil {
		t.Fatal("want error for 256-byte host")
	}
}
