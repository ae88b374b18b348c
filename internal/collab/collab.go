// Copyright (c) 2025 Neomantra Corp

// Package collab provides minimal, concrete implementations of the
// collaborator contracts the core synchronizer consumes: a file locator, a
// clock source, and a diagnostics sink. None of this is core logic — it is
// the wiring a runnable command needs, kept outside the scsync package
// itself.
package collab

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/relvacode/iso8601"
	"go.uber.org/zap"

	"github.com/scquant/scsync"
)

// FileLocator resolves the four paths one (symbol, date) run needs: the
// two inputs, and the two `-SYNC` rewritten outputs.
type FileLocator struct {
	Dir string
}

// TradesInPath returns the TRADES input path for symbol on date.
func (f FileLocator) TradesInPath(symbol string, date time.Time) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s.scid", symbol))
}

// DepthInPath returns the DEPTH input path for symbol on date.
func (f FileLocator) DepthInPath(symbol string, date time.Time) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s.%s.depth", symbol, date.Format("2006-01-02")))
}

// TradesOutPath returns the rewritten TRADES output path.
func (f FileLocator) TradesOutPath(symbol string, date time.Time) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s-SYNC.scid", symbol))
}

// DepthOutPath returns the rewritten DEPTH output path.
func (f FileLocator) DepthOutPath(symbol string, date time.Time) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s-SYNC.%s.depth", symbol, date.Format("2006-01-02")))
}

// UTCClockSource gives the UTC day boundaries for a run, parsed from an
// ISO-8601 date string (the CLI's --date flag).
type UTCClockSource struct {
	Day time.Time // any instant within the target day; only the date is used
}

// NewUTCClockSourceFromString parses an ISO-8601 date/time string into a
// clock source pinned to that day's UTC boundaries.
func NewUTCClockSourceFromString(s string) (UTCClockSource, error) {
	t, err := iso8601.ParseString(s)
	if err != nil {
		return UTCClockSource{}, fmt.Errorf("parsing --date %q: %w", s, err)
	}
	return UTCClockSource{Day: t.UTC()}, nil
}

// DayBoundsNs returns [start, end) as internal nanosecond timestamps for
// the UTC day DEPTH files roll on.
func (c UTCClockSource) DayBoundsNs() (start, end int64) {
	y, m, d := c.Day.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return dayStart.UnixNano(), dayStart.AddDate(0, 0, 1).UnixNano()
}

// LoggingDiagnosticsSink forwards every anomaly to a zap logger at Warn,
// in addition to whatever in-process tally the caller also wants.
type LoggingDiagnosticsSink struct {
	Log *zap.Logger
}

// Observe implements scsync.DiagnosticsSink.
func (s LoggingDiagnosticsSink) Observe(a scsync.Anomaly) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Warn("anomaly",
		zap.String("kind", a.Kind.String()),
		zap.Int64("ns", a.Timestamp),
		zap.String("detail", a.Detail),
	)
}

// ChannelDiagnosticsSink fans anomalies out to a channel, consumed by
// cmd/scsync-tui's live dashboard. Sends are non-blocking: a full channel
// drops the anomaly from the dashboard feed without affecting the run,
// since the authoritative tally lives on the Book regardless.
type ChannelDiagnosticsSink struct {
	C chan scsync.Anomaly
}

// NewChannelDiagnosticsSink creates a sink with the given channel buffer.
func NewChannelDiagnosticsSink(buffer int) ChannelDiagnosticsSink {
	return ChannelDiagnosticsSink{C: make(chan scsync.Anomaly, buffer)}
}

// Observe implements scsync.DiagnosticsSink.
func (s ChannelDiagnosticsSink) Observe(a scsync.Anomaly) {
	select {
	case s.C <- a:
	default:
	}
}
