package http

import (
	"errors"
	"testing"

	"github.com/relayforge/trojan"
)

func TestParseConnectRequest(t *testing.T) {
	req := []byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	var p Parser
	res, err := p.Feed(req)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !res.IsHTTPS {
		t.Fatal("expected IsHTTPS=true")
	}
	if res.Target.Host() != "example.com" || res.Target.Port() != 443 {
		t.Fatalf("target = %v", res.Target)
	}
	if res.Raw != nil {
		t.Fatalf("CONNECT should carry no pre-read payload, got %q", res.Raw)
	}
}

func TestParsePlainHTTPRequestCarriesWholeBufferAsPreRead(t *testing.T) {
	req := []byte("GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	var p Parser
	res, err := p.Feed(req)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if res.IsHTTPS {
		t.Fatal("expected IsHTTPS=false")
	}
	if res.Target.Host() != "example.com" || res.Target.Port() != 80 {
		t.Fatalf("target = %v", res.Target)
	}
	if string(res.Raw) != string(req) {
		t.Fatalf("pre-read = %q, want %q", res.Raw, req)
	}
}

func TestParseIsResumableByteAtATime(t *testing.T) {
	req := []byte("CONNECT example.com:8443 HTTP/1.1\r\nHost: example.com:8443\r\nX-Foo: bar\r\n\r\n")
	var whole Parser
	want, err := whole.Feed(req)
	if err != nil {
		t.Fatalf("whole feed: %v", err)
	}

	var stream Parser
	var got *Result
	for i := range req {
		res, err := stream.Feed(req[i : i+1])
		var te *trojan.Error
		if err != nil {
			if errors.As(err, &te) && te.Kind == trojan.KindIncomplete {
				continue
			}
			t.Fatalf("byte %d: unexpected error %v", i, err)
		}
		got = res
		break
	}
	if got == nil {
		t.Fatal("byte-at-a-time parse never completed")
	}
	if got.IsHTTPS != want.IsHTTPS || got.Target.String() != want.Target.String() {
		t.Fatalf("byte-at-a-time result %+v != whole-buffer result %+v", got, want)
	}
}

func TestParseHostHeaderFallback(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: example.org:8080\r\n\r\n")
	var p Parser
	res, err := p.Feed(req)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if res.Target.Host() != "example.org" || res.Target.Port() != 8080 {
		t.Fatalf("target = %v", res.Target)
	}
}
