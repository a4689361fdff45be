package httptwo_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"golang.org/x/net/http2"

	"github.com/wooshdev/feather/httptwo"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []httptwo.Frame{
		{Type: http2.FrameSettings},
		{Length: 5, Type: http2.FramePriority, Flags: 0, Stream: 3, Payload: []byte{0, 0, 0, 1, 16}},
		{Length: 4, Type: http2.FrameWindowUpdate, Stream: 0x7FFFFFFF, Payload: []byte{0, 1, 0, 0}},
		{Length: 11, Type: http2.FrameGoAway, Payload: append(make([]byte, 8), "bye"...)},
	}

	for _, in := range frames {
		got, err := httptwo.ReadFrame(bytes.NewReader(in.Encode()))
		if err != nil {
			t.Fatalf("ReadFrame(Encode(%v)) error = %v", in.Type, err)
		}

		if got.Length != in.Length || got.Type != in.Type || got.Flags != in.Flags || got.Stream != in.Stream {
			t.Errorf("round trip header = %+v, want %+v", got, in)
		}
		if !bytes.Equal(got.Payload, in.Payload) {
			t.Errorf("round trip payload = %x, want %x", got.Payload, in.Payload)
		}
	}
}

func TestFrameReservedBitMaskedOnRead(t *testing.T) {
	raw := httptwo.Frame{Length: 0, Type: http2.FrameSettings, Stream: 1}.Encode()
	raw[5] |= 0x80

	got, err := httptwo.ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}

	if got.Stream != 1 {
		t.Fatalf("stream id = %d, want reserved bit masked to 1", got.Stream)
	}
}

// serveSession drives a Session over a pipe, returning the client half and
// a channel closed when Serve returns.
func serveSession(t *testing.T) (net.Conn, chan struct{}) {
	t.Helper()

	server, client := net.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer server.Close()
		_ = httptwo.NewSession(server, nil).Serve(context.Background())
	}()

	return client, done
}

func writePreface(t *testing.T, conn net.Conn) {
	t.Helper()

	if _, err := conn.Write([]byte(http2.ClientPreface)); err != nil {
		t.Fatalf("writing preface: %v", err)
	}
}

func readServerSettings(t *testing.T, conn net.Conn) {
	t.Helper()

	settings, err := httptwo.ReadFrame(conn)
	if err != nil {
		t.Fatalf("reading server settings: %v", err)
	}
	if settings.Type != http2.FrameSettings || settings.Length != 0 {
		t.Fatalf("server preface = %+v, want empty SETTINGS", settings)
	}
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session never terminated")
	}
}

func TestPrefaceMismatchTerminatesSession(t *testing.T) {
	client, done := serveSession(t)
	defer client.Close()

	// The server reads exactly len(http2.ClientPreface) bytes before
	// validating and closing on mismatch, so a write longer than that may
	// race with the close and return an error; what matters here is that
	// the session terminates, not that this write fully completes.
	_, _ = client.Write([]byte("GET / HTTP/1.1\r\nHost: no\r\n\r\n"))

	waitDone(t, done)
}

func TestPriorityOnStreamZeroSendsGoawayProtocolError(t *testing.T) {
	client, done := serveSession(t)
	defer client.Close()

	writePreface(t, client)
	readServerSettings(t, client)

	priority := httptwo.Frame{Length: 5, Type: http2.FramePriority, Stream: 0, Payload: make([]byte, 5)}
	if _, err := client.Write(priority.Encode()); err != nil {
		t.Fatalf("write priority: %v", err)
	}

	goaway, err := httptwo.ReadFrame(client)
	if err != nil {
		t.Fatalf("reading goaway: %v", err)
	}

	if goaway.Type != http2.FrameGoAway || goaway.Stream != 0 {
		t.Fatalf("frame = %+v, want GOAWAY on stream 0", goaway)
	}

	lastStream := binary.BigEndian.Uint32(goaway.Payload[0:4])
	code := http2.ErrCode(binary.BigEndian.Uint32(goaway.Payload[4:8]))

	if lastStream != 0 {
		t.Errorf("last-stream-id = %d, want 0", lastStream)
	}
	if code != http2.ErrCodeProtocol {
		t.Errorf("error code = %v, want PROTOCOL_ERROR", code)
	}

	waitDone(t, done)
}

func TestPriorityWrongLengthSendsGoawayFrameSizeError(t *testing.T) {
	client, done := serveSession(t)
	defer client.Close()

	writePreface(t, client)
	readServerSettings(t, client)

	priority := httptwo.Frame{Length: 4, Type: http2.FramePriority, Stream: 1, Payload: make([]byte, 4)}
	if _, err := client.Write(priority.Encode()); err != nil {
		t.Fatalf("write priority: %v", err)
	}

	goaway, err := httptwo.ReadFrame(client)
	if err != nil {
		t.Fatalf("reading goaway: %v", err)
	}

	if code := http2.ErrCode(binary.BigEndian.Uint32(goaway.Payload[4:8])); code != http2.ErrCodeFrameSize {
		t.Errorf("error code = %v, want FRAME_SIZE_ERROR", code)
	}

	waitDone(t, done)
}

func TestWindowUpdateWrongLengthTerminatesSession(t *testing.T) {
	client, done := serveSession(t)
	defer client.Close()

	writePreface(t, client)
	readServerSettings(t, client)

	update := httptwo.Frame{Length: 3, Type: http2.FrameWindowUpdate, Stream: 0, Payload: make([]byte, 3)}
	if _, err := client.Write(update.Encode()); err != nil {
		t.Fatalf("write window update: %v", err)
	}

	waitDone(t, done)
}

func TestWindowUpdateZeroIncrementOnStreamSendsRSTStream(t *testing.T) {
	client, done := serveSession(t)
	defer client.Close()

	writePreface(t, client)
	readServerSettings(t, client)

	update := httptwo.Frame{Length: 4, Type: http2.FrameWindowUpdate, Stream: 5, Payload: make([]byte, 4)}
	if _, err := client.Write(update.Encode()); err != nil {
		t.Fatalf("write window update: %v", err)
	}

	rst, err := httptwo.ReadFrame(client)
	if err != nil {
		t.Fatalf("reading rst_stream: %v", err)
	}

	if rst.Type != http2.FrameRSTStream || rst.Stream != 5 {
		t.Fatalf("frame = %+v, want RST_STREAM on stream 5", rst)
	}
	if code := http2.ErrCode(binary.BigEndian.Uint32(rst.Payload)); code != http2.ErrCodeProtocol {
		t.Errorf("error code = %v, want PROTOCOL_ERROR", code)
	}

	// The session must survive a stream-level error: GOAWAY still ends it.
	goaway := httptwo.Frame{Length: 8, Type: http2.FrameGoAway, Payload: make([]byte, 8)}
	if _, err := client.Write(goaway.Encode()); err != nil {
		t.Fatalf("write goaway: %v", err)
	}

	waitDone(t, done)
}

func TestUnknownFrameTypeIsIgnored(t *testing.T) {
	client, done := serveSession(t)
	defer client.Close()

	writePreface(t, client)
	readServerSettings(t, client)

	ping := httptwo.Frame{Length: 8, Type: http2.FramePing, Payload: make([]byte, 8)}
	if _, err := client.Write(ping.Encode()); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	goaway := httptwo.Frame{Length: 8, Type: http2.FrameGoAway, Payload: make([]byte, 8)}
	if _, err := client.Write(goaway.Encode()); err != nil {
		t.Fatalf("write goaway: %v", err)
	}

	waitDone(t, done)
}

func TestStreamStatesAreDistinct(t *testing.T) {
	states := []httptwo.StreamState{
		httptwo.StreamIdle,
		httptwo.StreamReservedLocal,
		httptwo.StreamReservedRemote,
		httptwo.StreamOpen,
		httptwo.StreamHalfClosedLocal,
		httptwo.StreamHalfClosedRemote,
		httptwo.StreamClosed,
	}

	seen := make(map[httptwo.StreamState]string)
	for _, s := range states {
		if prev, dup := seen[s]; dup {
			t.Fatalf("state %s shares value %d with %s", s, uint8(s), prev)
		}
		seen[s] = s.String()
	}
}
