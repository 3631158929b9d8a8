// Package http implements the resumable HTTP-CONNECT inbound parser of
// spec.md §4.2: a single parser instance that tolerates arbitrary read
// fragmentation and, once complete, reports whether the request was a
// CONNECT (HTTPS tunnel) or a plain proxied HTTP request together with
// the target address.
package http

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/relayforge/trojan"
)

// Result is the outcome of a completed parse.
type Result struct {
	IsHTTPS bool
	Target  trojan.Address
	// Raw is nil for CONNECT. For plain HTTP (IsHTTPS=false) it is the
	// full buffer the parser consumed, request line and headers included,
	// and becomes the pre-read payload forwarded verbatim to the origin
	// (spec.md §4.2).
	Raw []byte
}

// Parser is a resumable state machine: call Feed after every read; it
// returns trojan.KindIncomplete until CRLFCRLF (end of headers) has been
// seen, without mutating any externally visible state beyond its internal
// cursor (spec.md §4.2).
type Parser struct {
	buf []byte
}

// Feed appends data to the parser's internal buffer and attempts to
// complete the parse. It is safe to call repeatedly as more bytes arrive;
// data already submitted is never re-requested.
func (p *Parser) Feed(data []byte) (*Result, error) {
	p.buf = append(p.buf, data...)

	headerEnd := bytes.Index(p.buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, trojan.Incomplete(1)
	}
	headerBlock := p.buf[:headerEnd+4]

	reader := bufio.NewReader(bytes.NewReader(headerBlock))
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, trojan.Invalidf("malformed request line: %w", err)
	}
	requestLine = strings.TrimRight(requestLine, "\r\n")
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		return nil, trojan.Invalidf("malformed request line %q", requestLine)
	}
	method, authority := fields[0], fields[1]
	isHTTPS := strings.EqualFold(method, "CONNECT")

	tp := textproto.NewReader(reader)
	headers, err := tp.ReadMIMEHeader()
	if err != nil && len(headers) == 0 {
		return nil, trojan.Invalidf("malformed headers: %w", err)
	}

	hostPort := authority
	if !isHTTPS {
		hostPort = strings.TrimPrefix(hostPort, "http://")
		if i := strings.Index(hostPort, "/"); i >= 0 {
			hostPort = hostPort[:i]
		}
	}
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" || !strings.Contains(hostPort, ".") && !strings.Contains(hostPort, ":") {
		if h := headers.Get("Host"); h != "" {
			hostPort = strings.TrimSpace(h)
		}
	}
	if hostPort == "" {
		return nil, trojan.Invalidf("no authority or Host header in request")
	}

	host, portStr, ok := splitHostPort(hostPort)
	if !ok {
		host = hostPort
		if isHTTPS {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, trojan.Invalidf("invalid port %q: %w", portStr, err)
	}

	target, err := trojan.NewAddressFromHostPort(host, uint16(port))
	if err != nil {
		return nil, err
	}

	res := &Result{IsHTTPS: isHTTPS, Target: target}
	if isHTTPS {
		res.Raw = nil
	} else {
		res.Raw = append([]byte(nil), p.buf...)
	}
	return res, nil
}

// ConnectReply is the exact bytes to write in response to a successful
// CONNECT (spec.md §6).
const ConnectReply = "HTTP/1.1 200 Connection established\r\n\r\n"

// splitHostPort splits "host:port" while tolerating bracketed IPv6
// literals, returning ok=false when there is no ":port" suffix so the
// caller can apply the is_https-dependent default.
func splitHostPort(hostPort string) (host, port string, ok bool) {
	if strings.HasPrefix(hostPort, "[") {
		if i := strings.Index(hostPort, "]"); i >= 0 {
			host = hostPort[1:i]
			rest := hostPort[i+1:]
			if strings.HasPrefix(rest, ":") {
				return host, rest[1:], true
			}
			return host, "", false
		}
	}
	i := strings.LastIndex(hostPort, ":")
	if i < 0 {
		return hostPort, "", false
	}
	// Bare IPv6 literal without brackets and without a port looks like
	// "::1" — more than one colon and no brackets means "don't treat the
	// last colon as a port separator".
	if strings.Count(hostPort, ":") > 1 {
		return hostPort, "", false
	}
	return hostPort[:i], hostPort[i+1:], true
}
