package trojan

// Cmd is the Trojan handshake command byte. Only CONNECT is implemented;
// UDP ASSOCIATE is future work (spec §3, ConnKind.UDPFuture).
type Cmd byte

const CmdConnect Cmd = 0x01

// ConnKind distinguishes the two handshake purposes a parsed inbound
// request can carry. Only TCP is wired end to end today.
type ConnKind int

const (
	ConnTCP ConnKind = iota
	ConnUDPFuture
)

// ConnectionRequest is the parsed result of an inbound handshake: a
// target address plus whatever bytes the parser had to consume beyond the
// handshake itself (e.g. a plain HTTP request line+headers) that must be
// replayed to the outbound side before live copying begins.
type ConnectionRequest struct {
	Kind    ConnKind
	Target  Address
	PreRead []byte
}

// crlf is the two-byte line terminator used throughout the handshake
// framing (after the credential hash and after the address).
var crlf = [2]byte{'\r', '\n'}

// BuildHandshake assembles the full Trojan client handshake frame:
//
//	HEX(SHA224(password)) | CRLF | cmd | atyp | addr | port | CRLF | pre_read
//
// The whole frame is returned as one contiguous slice so the caller can
// hand it to a single Write call — required by spec §4.4 step 3 so the
// hash and payload never cross a packet boundary a passive observer could
// fingerprint.
func BuildHandshake(cred Credential, target Address, preRead []byte) []byte {
	hexHash := cred.Hex()
	out := make([]byte, 0, len(hexHash)+2+1+target.EncodedLen()+2+len(preRead))
	out = append(out, hexHash...)
	out = append(out, crlf[:]...)
	out = append(out, byte(CmdConnect))
	out = target.Encode(out)
	out = append(out, crlf[:]...)
	out = append(out, preRead...)
	return out
}

// ParseHandshakeAddress decodes the cmd|atyp|addr|port portion that
// follows the credential hash and its CRLF. It returns the command, the
// target address, and the number of bytes consumed from b (not including
// the trailing CRLF, which the caller — the server authenticator — checks
// separately since it needs to distinguish a missing CRLF from a missing
// address).
func ParseHandshakeAddress(b []byte) (Cmd, Address, int, error) {
	if len(b) < 1 {
		return 0, Address{}, 0, Incomplete(1)
	}
	cmd := Cmd(b[0])
	if cmd != CmdConnect {
		return 0, Address{}, 0, Invalidf("unsupported command 0x%02x", b[0])
	}
	addr, n, err := DecodeAddress(b[1:])
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindIncomplete {
			return 0, Address{}, 0, Incomplete(e.Missing)
		}
		return 0, Address{}, 0, err
	}
	return cmd, addr, 1 + n, nil
}

