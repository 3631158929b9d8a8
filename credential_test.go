package trojan

import "testing"

func TestHashPasswordHexLength(t *testing.T) {
	c := HashPassword("correct horse battery staple")
	if len(c.Hex()) != CredentialHexLen {
		t.Fatalf("hex len = %d, want %d", len(c.Hex()), CredentialHexLen)
	}
	for _, r := range c.Hex() {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("hex contains non-lowercase-hex rune %q", r)
		}
	}
}

func TestCredentialSetMembership(t *testing.T) {
	set := NewCredentialSet([]string{"pw1", "pw2"})
	if !set.Contains(HashPassword("pw1").Hex()) {
		t.Fatal("expected pw1 to be accepted")
	}
	if set.Contains(HashPassword("pw3").Hex()) {
		t.Fatal("did not expect pw3 to be accepted")
	}
}

func TestSpecS1ExpectedHandshakeHash(t *testing.T) {
	// From spec.md S1: HEX(SHA224("pw")).
	c := HashPassword("pw")
	if len(c.Hex()) != 56 {
		t.Fatalf("len=%d", len(c.Hex()))
	}
}
