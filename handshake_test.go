package trojan

import (
	"bytes"
	"testing"
)

func TestBuildHandshakeMatchesSpecS1(t *testing.T) {
	// spec.md S1: HEX(SHA224("pw")) 0D 0A 01 01 C0 A8 00 01 00 50 0D 0A
	cred := HashPassword("pw")
	target := NewV4Address([4]byte{0xC0, 0xA8, 0x00, 0x01}, 0x0050)
	frame := BuildHandshake(cred, target, nil)

	want := append([]byte(cred.Hex()), 0x0D, 0x0A, 0x01, 0x01, 0xC0, 0xA8, 0x00, 0x01, 0x00, 0x50, 0x0D, 0x0A)
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %x, want %x", frame, want)
	}
}

func TestBuildHandshakeMatchesSpecS2(t *testing.T) {
	// spec.md S2: handshake address section 01 03 0B example.com 01 BB
	cred := HashPassword("pw")
	target, err := NewHostnameAddress("example.com", 443)
	if err != nil {
		t.Fatal(err)
	}
	frame := BuildHandshake(cred, target, nil)
	addrSection := frame[len(cred.Hex())+2:]
	var want []byte
	want = append(want, 0x01, 0x03, 0x0B)
	want = append(want, "example.com"...)
	want = append(want, 0x01, 0xBB)
	if !bytes.Equal(addrSection[:len(want)], want) {
		t.Fatalf("address section = %x, want %x", addrSection[:len(want)], want)
	}
}

func TestBuildHandshakeAppendsPreReadAfterSingleFrame(t *testing.T) {
	cred := HashPassword("pw")
	target := NewV4Address([4]byte{1, 2, 3, 4}, 80)
	preRead := []byte("GET / HTTP/1.1\r\n\r\n")
	frame := BuildHandshake(cred, target, preRead)
	if !bytes.HasSuffix(frame, preRead) {
		t.Fatalf("frame does not end with pre-read payload")
	}
}

func TestParseHandshakeAddressRoundTrip(t *testing.T) {
	target := NewV4Address([4]byte{8, 8, 8, 8}, 53)
	encoded := append([]byte{byte(CmdConnect)}, target.Encode(nil)...)
	cmd, addr, n, err := ParseHandshakeAddress(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != CmdConnect || n != len(encoded) {
		t.Fatalf("cmd=%v n=%d", cmd, n)
	}
	if addr.Host() != "8.8.8.8" || addr.Port() != 53 {
		t.Fatalf("addr=%v", addr)
	}
}

func TestParseHandshakeAddressRejectsBadCommand(t *testing.T) {
	_, _, _, err := ParseHandshakeAddress([]byte{0x02, 0x01, 1, 2, 3, 4, 0, 80})
	if err == nil {
		t.Fatal("want error for bad command")
	}
}
