// Copyright (c) 2025 Neomantra Corp

package scsync

import "time"

// Time model.
//
// Internally every timestamp is a signed 64-bit count of nanoseconds since
// the Unix epoch (1970-01-01 00:00:00 UTC). Both on-disk formats instead
// carry "platform microseconds": a uint64 count of microseconds since
// 1899-12-30 00:00:00 UTC (the OLE Automation / spreadsheet epoch). The
// converters below are pure, total, and round-trip at microsecond
// resolution; they are the only place the epoch offset is named.

// platformEpochOffsetSeconds is the number of seconds between
// 1899-12-30 00:00:00 UTC and 1970-01-01 00:00:00 UTC.
const platformEpochOffsetSeconds int64 = 2209161600

const platformEpochOffsetMicros int64 = platformEpochOffsetSeconds * 1_000_000

const nanosPerMicro int64 = 1_000
const nanosPerMilli int64 = 1_000_000

// FromPlatformUs converts a platform-microsecond timestamp to the internal
// nanosecond timeline.
func FromPlatformUs(platformUs uint64) int64 {
	return (int64(platformUs) - platformEpochOffsetMicros) * nanosPerMicro
}

// ToPlatformUs converts an internal nanosecond timestamp back to the
// platform-microsecond encoding.
func ToPlatformUs(ns int64) uint64 {
	us := ns/nanosPerMicro + platformEpochOffsetMicros
	return uint64(us)
}

// MsOf returns the millisecond-grid index for an internal nanosecond
// timestamp: integer division by 1,000,000. This is the grid on which
// DEPTH batches align and on which trades are matched to them.
func MsOf(ns int64) int64 {
	return ns / nanosPerMilli
}

// NsOfMs returns the internal nanosecond timestamp at the start of
// millisecond index ms.
func NsOfMs(ms int64) int64 {
	return ms * nanosPerMilli
}

// Compose builds an internal nanosecond timestamp from a millisecond-grid
// index and a sub-millisecond tick in [0, 999]. Each tick is one
// microsecond, so it maps into the low microseconds of the platform
// encoding when the result is later converted with ToPlatformUs.
func Compose(ms int64, subMsTicks int) int64 {
	return NsOfMs(ms) + int64(subMsTicks)*nanosPerMicro
}

// ToTime converts an internal nanosecond timestamp to a time.Time in UTC,
// for logging and diagnostics only — the core never branches on wall time.
func ToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
