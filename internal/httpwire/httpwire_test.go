package httpwire_test

import (
	"testing"
	"time"

	"github.com/wooshdev/feather/internal/httpwire"
)

func TestDateRoundTrip(t *testing.T) {
	in := time.Date(2026, time.July, 29, 12, 34, 56, 0, time.UTC)

	got, err := httpwire.ParseDate(httpwire.FormatDate(in))
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}

	if !got.Equal(in) {
		t.Fatalf("round trip = %v, want %v", got, in)
	}
}

func TestIsTokenChar(t *testing.T) {
	cases := map[byte]bool{
		'G': true, 'e': true, '9': true, '-': true, '_': true,
		' ': false, '\x01': false, ':': false, '/': false, '\x7f': false,
	}

	for b, want := range cases {
		if got := httpwire.IsTokenChar(b); got != want {
			t.Errorf("IsTokenChar(%q) = %v, want %v", b, got, want)
		}
	}
}
