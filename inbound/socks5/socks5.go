// Package socks5 implements the resumable, two-stage SOCKS5 inbound
// parser of spec.md §4.3: a greeting stage (method negotiation, NO-AUTH
// only) followed by a request stage (CONNECT only), each tolerating
// arbitrary read fragmentation.
package socks5

import (
	"github.com/relayforge/trojan"
)

const (
	version5    = 0x05
	methodNone  = 0x00
	methodNoAcc = 0xFF

	cmdConnect = 0x01

	repSucceeded     = 0x00
	repCmdNotSupport = 0x07
)

// Stage tracks which half of the handshake the Parser is in.
type Stage int

const (
	StageGreeting Stage = iota
	StageRequest
	StageDone
)

// Parser is a resumable SOCKS5 greeting+request state machine.
type Parser struct {
	stage Stage
	buf   []byte
}

// GreetingResult is returned once the greeting stage completes
// successfully; Reply must be written back to the client verbatim.
type GreetingResult struct {
	Reply []byte // always {0x05, 0x00} on success
}

// RequestResult is returned once the request stage completes; Reply must
// be written back to the client verbatim before relaying begins.
type RequestResult struct {
	Target trojan.Address
	Reply  []byte // 0x05 0x00 0x00 0x01 0.0.0.0 0 on success
}

// FeedGreeting consumes bytes for the greeting stage. On success it
// returns a GreetingResult whose Reply must be sent to the client; the
// caller then switches to FeedRequest for subsequent bytes. A SOCKS
// version mismatch fails with KindInvalid. If the client does not offer
// NO-AUTH the error is a *RejectedMethodsError (not a *trojan.Error),
// whose Reply {0x05, 0xFF} the caller must write before closing.
func (p *Parser) FeedGreeting(data []byte) (*GreetingResult, error) {
	p.buf = append(p.buf, data...)
	if len(p.buf) < 2 {
		return nil, trojan.Incomplete(2 - len(p.buf))
	}
	if p.buf[0] != version5 {
		return nil, trojan.Invalidf("unsupported SOCKS version 0x%02x", p.buf[0])
	}
	n := int(p.buf[1])
	total := 2 + n
	if len(p.buf) < total {
		return nil, trojan.Incomplete(total - len(p.buf))
	}
	methods := p.buf[2:total]
	p.buf = p.buf[total:]

	offered := false
	for _, m := range methods {
		if m == methodNone {
			offered = true
			break
		}
	}
	if !offered {
		return nil, &RejectedMethodsError{Reply: []byte{version5, methodNoAcc}}
	}
	p.stage = StageRequest
	return &GreetingResult{Reply: []byte{version5, methodNone}}, nil
}

// RejectedMethodsError means the client did not offer NO-AUTH; Reply is
// the {0x05, 0xFF} response the caller must write before closing.
type RejectedMethodsError struct {
	Reply []byte
}

func (e *RejectedMethodsError) Error() string { return "socks5: no acceptable auth method offered" }

// CommandNotSupportedError means the client asked for something other
// than CONNECT; Reply is the {… 0x07 …} response the caller must write
// before closing (spec.md §4.3).
type CommandNotSupportedError struct {
	Reply []byte
}

func (e *CommandNotSupportedError) Error() string { return "socks5: command not supported" }

// FeedRequest consumes bytes for the request stage, following a
// successful FeedGreeting.
func (p *Parser) FeedRequest(data []byte) (*RequestResult, error) {
	p.buf = append(p.buf, data...)
	if len(p.buf) < 4 {
		return nil, trojan.Incomplete(4 - len(p.buf))
	}
	if p.buf[0] != version5 {
		return nil, trojan.Invalidf("unsupported SOCKS version 0x%02x", p.buf[0])
	}
	cmd := p.buf[1]
	// p.buf[2] is RSV, always 0x00, not validated strictly.
	target, n, err := trojan.DecodeAddress(p.buf[3:])
	if err != nil {
		if te, ok := err.(*trojan.Error); ok && te.Kind == trojan.KindIncomplete {
			return nil, trojan.Incomplete(te.Missing)
		}
		return nil, err
	}
	p.buf = p.buf[3+n:]
	p.stage = StageDone

	if cmd != cmdConnect {
		return nil, &CommandNotSupportedError{
			Reply: []byte{version5, repCmdNotSupport, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
		}
	}

	reply := []byte{version5, repSucceeded, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	return &RequestResult{Target: target, Reply: reply}, nil
}
