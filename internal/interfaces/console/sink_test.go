package console

import (
	"bytes"
	"testing"
	"time"
)

func TestSinkSnapshot(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	_ = s.WriteLive("\rlive")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.WriteSnapshot(ts, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	want := "\rlive\n2024-01-02 03:04:05 a\n2024-01-02 03:04:05 b\n\n"
	if buf.String() != want {
		t.Fatalf("got %q", buf.String())
	}
}
