package wsconn

import (
	"io"
	"net"
	"testing"
	"time"
)

// pipeRW adapts a net.Conn half of a net.Pipe to the io.ReadWriter the
// adapter expects, so these tests exercise real frame encode/decode
// without a real TLS+TCP handshake.
type pipeRW struct{ net.Conn }

func TestAdapterOneWriteOneFrameRoundTrip(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	client := wrap(pipeRW{clientSide}, true)
	server := wrap(pipeRW{serverSide}, false)

	msg := []byte("hello over websocket")
	done := make(chan error, 1)
	go func() {
		_, err := client.Write(msg)
		done <- err
	}()

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func TestAdapterCloseFrameTranslatesToEOF(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	client := wrap(pipeRW{clientSide}, true)
	server := wrap(pipeRW{serverSide}, false)

	go client.CloseWrite()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	clientSide.SetDeadline(deadline)
	serverSide.SetDeadline(deadline)
	_, err := server.Read(buf)
	if err != io.EOF {
		t.Fatalf("Read after close frame: %v, want io.EOF", err)
	}
}

func TestAdapterDoesNotCoalesceOrFragment(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	client := wrap(pipeRW{clientSide}, true)
	server := wrap(pipeRW{serverSide}, false)

	go func() {
		client.Write([]byte("one"))
		client.Write([]byte("two"))
	}()

	first := make([]byte, 3)
	if _, err := io.ReadFull(server, first); err != nil {
		t.Fatal(err)
	}
	if string(first) != "one" {
		t.Fatalf("first frame = %q, want one", first)
	}
	second := make([]byte, 3)
	if _, err := io.ReadFull(server, second); err != nil {
		t.Fatal(err)
	}
	if string(second) != "two" {
		t.Fatalf("second frame = %q, want two", second)
	}
}
