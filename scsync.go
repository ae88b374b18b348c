// Copyright (c) 2025 Neomantra Corp

// Package scsync decodes, re-synchronizes, and re-encodes a trading day's
// paired TRADES and DEPTH binary streams for a single futures contract.
//
// The two input formats are fixed-layout, little-endian, and produced by a
// retail trading platform: an intraday tick/bar stream (TRADES, one 40-byte
// record per tick or bar) and a per-day market-depth stream (DEPTH, a
// 64-byte header followed by 24-byte records grouped into END_OF_BATCH-
// terminated batches). scsync rewrites both onto a single, strictly
// monotonic nanosecond timeline: every input trade is preserved exactly
// once, depth batches and trades are interleaved deterministically, the
// best bid/offer carried in TRADES records is reconstructed from the depth
// book, and depth-only events are inserted into TRADES so both outputs
// describe the same sequence of events.
package scsync

// FIXED_PRICE... is deliberately absent: price on disk is float32, per the
// platform's format; scsync treats it as an opaque, totally-ordered key
// (see Book) rather than a scaled fixed-point integer.
