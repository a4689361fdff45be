package redirect_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/wooshdev/feather/redirect"
	"github.com/wooshdev/feather/scheduler"
)

func TestServiceRedirectsToHTTPS(t *testing.T) {
	sched := scheduler.New(4, nil, nil)
	svc, nerr := redirect.New("127.0.0.1:0", "example.com", time.Second, sched, nil)
	if nerr != nil {
		t.Fatalf("New() error = %v", nerr)
	}
	defer svc.Close()

	done := make(chan struct{})
	go func() {
		_ = svc.Serve(context.Background())
		close(done)
	}()

	conn, err := net.Dial("tcp", svc.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /foo/bar?x=1 HTTP/1.1\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}

	if !strings.Contains(line, "301") {
		t.Fatalf("status line = %q, want 301", line)
	}

	svc.Close()
}

func TestReadMethodRejectsOversizedMethod(t *testing.T) {
	sched := scheduler.New(1, nil, nil)
	svc, nerr := redirect.New("127.0.0.1:0", "example.com", 200*time.Millisecond, sched, nil)
	if nerr != nil {
		t.Fatalf("New() error = %v", nerr)
	}
	defer svc.Close()

	go func() { _ = svc.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", svc.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(strings.Repeat("A", 64))); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("Read() after oversized method, want connection closed")
	}
}
