package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"perparb/internal/application/port"
)

// Sink writes console output. Live lines overwrite each other; snapshots are
// printed between blank lines.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSink() port.Sink { return NewWriterSink(os.Stdout) }

func NewWriterSink(w io.Writer) *Sink { return &Sink{w: w} }

func (s *Sink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.w, line) // no newline
	return err
}

// 打印快照行后留一个空行占位，下一次 live 刷新时覆盖
func (s *Sink) WriteSnapshot(ts time.Time, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := ts.Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(s.w, "%s %s\n", stamp, l); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(s.w, "\n")
	return err
}

func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.w, "\n")
	return err
}
