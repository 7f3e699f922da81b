package probe

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func TestCheckPortOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to parse listener addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	if err := CheckPort("127.0.0.1", port, 2*time.Second); err != nil {
		t.Errorf("expected open port, got %v", err)
	}
}

func TestCheckPortClosed(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	if err := CheckPort("127.0.0.1", port, 500*time.Millisecond); err == nil {
		t.Error("expected an error for a closed port")
	}
}
