package port

import "time"

type Sink interface {
	// Live line: overwrite last line (no newline)
	WriteLive(line string) error
	// Snapshot block: timestamped lines, followed by an empty line for the next
	// live update
	WriteSnapshot(ts time.Time, lines []string) error
	// Normal newline (for logs)
	NewLine() error
}
