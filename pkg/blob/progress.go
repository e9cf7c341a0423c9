package blob

import (
	"fmt"
	"io"
	"time"
)

// ProgressFunc receives a status line and a completion fraction in [0, 1].
// Returning false aborts the operation and removes any partial output.
type ProgressFunc func(text string, fraction float64) bool

// reporter rate-limits progress callbacks so block loops don't spend their
// time formatting status lines.
type reporter struct {
	fn       ProgressFunc
	last     time.Time
	interval time.Duration
}

func newReporter(fn ProgressFunc) *reporter {
	return &reporter{fn: fn, interval: 200 * time.Millisecond}
}

// step invokes the callback unless one fired within the last interval.
// force bypasses the rate limit (used for the final report).
func (r *reporter) step(text string, fraction float64, force bool) error {
	if r.fn == nil {
		return nil
	}
	now := time.Now()
	if !force && now.Sub(r.last) < r.interval {
		return nil
	}
	r.last = now
	if !r.fn(text, fraction) {
		return ErrAborted
	}
	return nil
}

// ConsoleProgress returns a ProgressFunc that rewrites a single status line
// on w. It never requests an abort.
func ConsoleProgress(w io.Writer) ProgressFunc {
	return func(text string, fraction float64) bool {
		fmt.Fprintf(w, "\r%-48s %5.1f%%", text, fraction*100)
		return true
	}
}

// FormatSize returns a human-readable byte count.
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
