package socks5

import (
	"bytes"
	"errors"
	"testing"

	"github.com/relayforge/trojan"
)

func TestSpecS1ConnectToIPv4(t *testing.T) {
	var p Parser
	greet, err := p.FeedGreeting([]byte{0x05, 0x01, 0x00})
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if !bytes.Equal(greet.Reply, []byte{0x05, 0x00}) {
		t.Fatalf("greeting reply = %x", greet.Reply)
	}

	req, err := p.FeedRequest([]byte{0x05, 0x01, 0x00, 0x01, 0xC0, 0xA8, 0x00, 0x01, 0x00, 0x50})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !bytes.Equal(req.Reply, []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}) {
		t.Fatalf("request reply = %x", req.Reply)
	}
	if req.Target.Host() != "192.168.0.1" || req.Target.Port() != 80 {
		t.Fatalf("target = %v", req.Target)
	}
}

func TestSpecS5InvalidVersion(t *testing.T) {
	var p Parser
	_, err := p.FeedGreeting([]byte{0x04, 0x01, 0x00})
	var te *trojan.Error
	if !errors.As(err, &te) || te.Kind != trojan.KindInvalid {
		t.Fatalf("want KindInvalid, got %v", err)
	}
}

func TestGreetingRejectsWhenNoAuthNotOffered(t *testing.T) {
	var p Parser
	_, err := p.FeedGreeting([]byte{0x05, 0x01, 0x02})
	var rme *RejectedMethodsError
	if !errors.As(err, &rme) {
		t.Fatalf("want *RejectedMethodsError, got %v", err)
	}
	if !bytes.Equal(rme.Reply, []byte{0x05, 0xFF}) {
		t.Fatalf("reply = %x", rme.Reply)
	}
}

func TestRequestRejectsUnsupportedCommand(t *testing.T) {
	var p Parser
	if _, err := p.FeedGreeting([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	_, err := p.FeedRequest([]byte{0x05, 0x02, 0x00, 0x01, 1, 2, 3, 4, 0, 80})
	var cns *CommandNotSupportedError
	if !errors.As(err, &cns) {
		t.Fatalf("want *CommandNotSupportedError, got %v", err)
	}
	if cns.Reply[1] != 0x07 {
		t.Fatalf("reply code = %x", cns.Reply[1])
	}
}

func TestResumableByteAtATime(t *testing.T) {
	greeting := []byte{0x05, 0x01, 0x00}
	request := []byte{0x05, 0x01, 0x00, 0x03, 0x0B, 'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm', 0x01, 0xBB}

	var whole Parser
	if _, err := whole.FeedGreeting(greeting); err != nil {
		t.Fatal(err)
	}
	wantReq, err := whole.FeedRequest(request)
	if err != nil {
		t.Fatal(err)
	}

	var stream Parser
	for i := range greeting {
		_, err := stream.FeedGreeting(greeting[i : i+1])
		if err != nil {
			var te *trojan.Error
			if errors.As(err, &te) && te.Kind == trojan.KindIncomplete {
				continue
			}
			t.Fatalf("greeting byte %d: %v", i, err)
		}
	}
	var gotReq *RequestResult
	for i := range request {
		res, err := stream.FeedRequest(request[i : i+1])
		if err != nil {
			var te *trojan.Error
			if errors.As(err, &te) && te.Kind == trojan.KindIncomplete {
				continue
			}
			t.Fatalf("request byte %d: %v", i, err)
		}
		gotReq = res
		break
	}
	if gotReq == nil || gotReq.Target.String() != wantReq.Target.String() {
		t.Fatalf("byte-at-a-time request = %+v, want %+v", gotReq, wantReq)
	}
}
