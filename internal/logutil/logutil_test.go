package logutil

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	_, _, err := newLogger(loggerConfig{Format: "xml"}, io.Discard)
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, _, err := newLogger(loggerConfig{Level: "loud"}, io.Discard)
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLoggerTeesIntoBuffer(t *testing.T) {
	var out strings.Builder
	logger, buf, err := newLogger(loggerConfig{Level: "info", Format: "text"}, &out)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("exchange_done", "user_id", 42)

	if !strings.Contains(out.String(), "exchange_done") {
		t.Fatalf("primary sink missing record: %q", out.String())
	}
	tail := buf.Tail(10)
	if len(tail) != 1 || !strings.Contains(tail[0], "exchange_done") {
		t.Fatalf("buffer tail = %#v, want one exchange_done line", tail)
	}
}

func TestBufferKeepsOnlyRecentLines(t *testing.T) {
	b := NewBuffer(100)
	for i := 0; i < 150; i++ {
		_, _ = fmt.Fprintf(b, "line %d\n", i)
	}
	tail := b.Tail(100)
	if len(tail) != 100 {
		t.Fatalf("tail len = %d, want 100", len(tail))
	}
	if tail[0] != "line 50" || tail[99] != "line 149" {
		t.Fatalf("tail bounds = %q .. %q, want line 50 .. line 149", tail[0], tail[99])
	}
	if !strings.HasSuffix(b.Dump(), "line 149") {
		t.Fatalf("dump should end with newest line: %q", b.Dump())
	}
}

func TestBufferHandlesPartialWrites(t *testing.T) {
	b := NewBuffer(10)
	_, _ = b.Write([]byte("first ha"))
	_, _ = b.Write([]byte("lf\nsecond\n"))
	tail := b.Tail(10)
	if len(tail) != 2 || tail[0] != "first half" || tail[1] != "second" {
		t.Fatalf("tail = %#v, want [first half second]", tail)
	}
}
