package trojan

import (
	"crypto/sha256"
	"encoding/hex"
)

// CredentialLen is the length in bytes of a hashed password (SHA-224).
const CredentialLen = sha256.Size224

// CredentialHexLen is the length of the hex-encoded form that travels on
// the wire: 56 lowercase ASCII characters.
const CredentialHexLen = CredentialLen * 2

// Credential is a SHA-224 digest of a client password. Its hex encoding is
// what the Trojan handshake places before the first CRLF.
type Credential [CredentialLen]byte

// HashPassword derives the Credential the wire protocol expects from a
// plaintext password. Hashing happens once, at config-load time; nothing
// downstream ever sees the plaintext password again.
func HashPassword(password string) Credential {
	return Credential(sha256.Sum224([]byte(password)))
}

// Hex renders the credential as the 56 lowercase hex characters sent on
// the wire.
func (c Credential) Hex() string {
	return hex.EncodeToString(c[:])
}

// CredentialSet is the server's read-only, shared-after-startup set of
// accepted hex credentials. Insertion order is irrelevant; membership is
// the only query it needs to answer (spec §3).
type CredentialSet map[string]struct{}

// NewCredentialSet hashes each password in passwords and returns the
// resulting set.
func NewCredentialSet(passwords []string) CredentialSet {
	set := make(CredentialSet, len(passwords))
	for _, p := range passwords {
		set[HashPassword(p).Hex()] = struct{}{}
	}
	return set
}

// Contains reports whether hexHash names an accepted credential. hexHash
// must already be lowercase; the caller (the server handshake
// authenticator) takes the 56 bytes straight off the wire, which are
// always lowercase by construction on a conforming client.
func (s CredentialSet) Contains(hexHash string) bool {
	_, ok := s[hexHash]
	return ok
}
