package httpone_test

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wooshdev/feather/cache"
	"github.com/wooshdev/feather/httpone"
	"github.com/wooshdev/feather/internal/httpwire"
)

func buildFiles(t *testing.T) *cache.FileCache {
	t.Helper()

	contentRoot := t.TempDir()
	cacheRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(contentRoot, "index.html"), []byte("<html>hi</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	files := cache.NewFileCache(nil, contentRoot, cacheRoot, 5, 22)
	if err := files.Build(); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return files
}

func TestServeReturns200ForKnownPath(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, false, nil)

	server, client := net.Pipe()
	defer client.Close()

	go h.Serve(context.Background(), server)

	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}

	if !strings.Contains(line, "200 OK") {
		t.Fatalf("status line = %q, want 200 OK", line)
	}
}

func TestServeAcceptsNonTokenTargetBytes(t *testing.T) {
	contentRoot := t.TempDir()
	cacheRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(contentRoot, "report(1),v2.html"), []byte("<html>r</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	files := cache.NewFileCache(nil, contentRoot, cacheRoot, 5, 22)
	if err := files.Build(); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	h := httpone.New(files, "feather-test", true, false, nil)

	server, client := net.Pipe()
	defer client.Close()

	go h.Serve(context.Background(), server)

	if _, err := client.Write([]byte("GET /report(1),v2.html HTTP/1.1\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}

	if !strings.Contains(line, "200 OK") {
		t.Fatalf("status line = %q, want 200 OK", line)
	}
}

func TestServeRejectsNulInTarget(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, false, nil)

	server, client := net.Pipe()
	defer client.Close()

	go h.Serve(context.Background(), server)

	if _, err := client.Write([]byte("GET /in\x00dex.html HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}

	if !strings.Contains(line, "404") {
		t.Fatalf("status line = %q, want 404", line)
	}
}

func TestServeReturns404ForUnknownPath(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, false, nil)

	server, client := net.Pipe()
	defer client.Close()

	go h.Serve(context.Background(), server)

	if _, err := client.Write([]byte("GET /missing.html HTTP/1.1\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}

	if !strings.Contains(line, "404") {
		t.Fatalf("status line = %q, want 404", line)
	}
}

func TestServeAcceptsLenientVersions(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, false, nil)

	cases := map[string]string{
		"HTTP/1.1": "200 OK",
		"HTTP/1.0": "200 OK",
		"HTTP/1.5": "200 OK",
		"HTTP/2.1": "200 OK",
		"HTTP/2.0": "404",
		"HTTP/0.9": "404",
	}

	for version, want := range cases {
		server, client := net.Pipe()

		go h.Serve(context.Background(), server)

		if _, err := client.Write([]byte("GET / " + version + "\r\nConnection: close\r\n\r\n")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(client).ReadString('\n')
		if err != nil {
			t.Fatalf("%s: ReadString() error = %v", version, err)
		}

		if !strings.Contains(line, want) {
			t.Errorf("%s: status line = %q, want %s", version, line, want)
		}

		_ = client.Close()
	}
}

func TestServeEmitsFixedPolicyHeaders(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, true, nil)

	server, client := net.Pipe()
	defer client.Close()

	go h.Serve(context.Background(), server)

	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)

	var head strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("ReadString() error = %v", err)
		}
		if line == "\r\n" {
			break
		}
		head.WriteString(line)
	}

	for _, want := range []string{
		"Connection: keep-alive",
		"Content-Encoding: br",
		"Referrer-Policy: no-referrer",
		"Server: feather-test",
		"Strict-Transport-Security: max-age=31536000",
		"X-Content-Type-Options: nosniff",
		"Content-Type: text/html;charset=utf-8",
	} {
		if !strings.Contains(head.String(), want) {
			t.Errorf("response headers missing %q:\n%s", want, head.String())
		}
	}
}

func TestServeAbandonsKeepAliveAfterMiss(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, false, nil)

	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(context.Background(), server)
	}()

	// Keep-alive requested, but the miss must still end the connection.
	if _, err := client.Write([]byte("GET /missing.html HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if !strings.Contains(line, "404") {
		t.Fatalf("status line = %q, want 404", line)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept the connection alive after a miss")
	}
}

func TestServeReturns304WhenNotModified(t *testing.T) {
	files := buildFiles(t)
	h := httpone.New(files, "feather-test", true, false, nil)

	result, ok := files.Lookup("/index.html", 0)
	if !ok {
		t.Fatal("expected /index.html in snapshot")
	}

	server, client := net.Pipe()
	defer client.Close()

	go h.Serve(context.Background(), server)

	req := "GET /index.html HTTP/1.1\r\nConnection: close\r\nIf-Modified-Since: " +
		httpwire.FormatDate(result.ModTime) + "\r\n\r\n"

	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}

	if !strings.Contains(line, "304") {
		t.Fatalf("status line = %q, want 304", line)
	}
}
