// Copyright (c) 2025 Neomantra Corp

package scsync

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TradesHeaderSize is the size, in bytes, of the TRADES file header. Its
// contents are opaque to the core and are reproduced verbatim on rewrite.
const TradesHeaderSize = 56

// TradesRecordSize is the size, in bytes, of one TRADES record on disk:
// <QffffIIII> little-endian.
const TradesRecordSize = 40

// Sentinel bit-patterns carried in a TRADES record's open field. Compared
// bitwise, never as floating-point numbers.
const (
	sentinelSingleTrade   uint32 = 0x00000000
	sentinelFirstSubTrade uint32 = 0xFAE6E78A
	sentinelLastSubTrade  uint32 = 0xFAE6E84E
	sentinelDepthInjected uint32 = 0x7FC0DEAD
)

// TradesKind classifies a TRADES record by the bit pattern of its open field.
type TradesKind int

const (
	TradesSingleTrade TradesKind = iota
	TradesFirstSubTrade
	TradesLastSubTrade
	TradesAggregate
	TradesDepthInjected
)

func (k TradesKind) String() string {
	switch k {
	case TradesSingleTrade:
		return "SINGLE_TRADE"
	case TradesFirstSubTrade:
		return "FIRST_SUB_TRADE"
	case TradesLastSubTrade:
		return "LAST_SUB_TRADE"
	case TradesDepthInjected:
		return "DEPTH_INJECTED"
	default:
		return "AGGREGATE"
	}
}

// TradesRecord is one decoded 40-byte TRADES record, plus its file-order
// index for tie-breaking.
type TradesRecord struct {
	PlatformUs  uint64
	Open        float32
	High        float32
	Low         float32
	Close       float32
	NumTrades   uint32
	TotalVolume uint32
	BidVolume   uint32
	AskVolume   uint32

	Seq int // 0-based index in file order
}

// Kind classifies the record by bitwise comparison of Open against the
// three trade sentinels and the depth-injected marker; anything else is
// AGGREGATE.
func (r TradesRecord) Kind() TradesKind {
	switch math.Float32bits(r.Open) {
	case sentinelSingleTrade:
		return TradesSingleTrade
	case sentinelFirstSubTrade:
		return TradesFirstSubTrade
	case sentinelLastSubTrade:
		return TradesLastSubTrade
	case sentinelDepthInjected:
		return TradesDepthInjected
	default:
		return TradesAggregate
	}
}

// NewDepthInjectedTrade builds the zero-volume TRADES record inserted for
// every depth batch, whether or not trades attach to it, carrying the distinguishing NaN
// payload rather than any of the three trade sentinels.
func NewDepthInjectedTrade(platformUs uint64, bestAsk, bestBid float32) TradesRecord {
	return TradesRecord{
		PlatformUs: platformUs,
		Open:       math.Float32frombits(sentinelDepthInjected),
		High:       bestAsk,
		Low:        bestBid,
		Close:      0.0,
	}
}

// decodeTradesRecord parses one 40-byte little-endian TRADES record.
func decodeTradesRecord(b []byte) TradesRecord {
	return TradesRecord{
		PlatformUs:  binary.LittleEndian.Uint64(b[0:8]),
		Open:        math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		High:        math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
		Low:         math.Float32frombits(binary.LittleEndian.Uint32(b[16:20])),
		Close:       math.Float32frombits(binary.LittleEndian.Uint32(b[20:24])),
		NumTrades:   binary.LittleEndian.Uint32(b[24:28]),
		TotalVolume: binary.LittleEndian.Uint32(b[28:32]),
		BidVolume:   binary.LittleEndian.Uint32(b[32:36]),
		AskVolume:   binary.LittleEndian.Uint32(b[36:40]),
	}
}

// encodeTradesRecord serializes r into the given 40-byte buffer.
func encodeTradesRecord(r TradesRecord, b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], r.PlatformUs)
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(r.Open))
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(r.High))
	binary.LittleEndian.PutUint32(b[16:20], math.Float32bits(r.Low))
	binary.LittleEndian.PutUint32(b[20:24], math.Float32bits(r.Close))
	binary.LittleEndian.PutUint32(b[24:28], r.NumTrades)
	binary.LittleEndian.PutUint32(b[28:32], r.TotalVolume)
	binary.LittleEndian.PutUint32(b[32:36], r.BidVolume)
	binary.LittleEndian.PutUint32(b[36:40], r.AskVolume)
}

// TradesScanner is a pull-based, lazy decoder of a TRADES stream: read the
// header once, then call Next repeatedly until it returns false, checking
// Err to distinguish clean EOF from a truncated stream.
type TradesScanner struct {
	r      io.Reader
	header [TradesHeaderSize]byte
	buf    [TradesRecordSize]byte
	rec    TradesRecord
	err    error
	count  int
}

// NewTradesScanner reads the 56-byte TRADES header and returns a scanner
// positioned at the first record.
func NewTradesScanner(r io.Reader) (*TradesScanner, error) {
	s := &TradesScanner{r: r}
	n, err := io.ReadFull(r, s.header[:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: header: %s", ErrTruncatedStream, unexpectedBytesError(n, TradesHeaderSize))
		}
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return s, nil
}

// Header returns the raw, opaque 56-byte TRADES header.
func (s *TradesScanner) Header() []byte {
	return s.header[:]
}

// Next advances to the next record, returning false at clean EOF or on
// error; callers must check Err after a false return.
func (s *TradesScanner) Next() bool {
	if s.err != nil {
		return false
	}
	n, err := io.ReadFull(s.r, s.buf[:])
	if err != nil {
		if err == io.EOF {
			return false
		}
		if err == io.ErrUnexpectedEOF {
			s.err = fmt.Errorf("%w: record %d: %s", ErrTruncatedStream, s.count, unexpectedBytesError(n, TradesRecordSize))
		} else {
			s.err = fmt.Errorf("%w: %v", ErrIoError, err)
		}
		return false
	}
	s.rec = decodeTradesRecord(s.buf[:])
	s.rec.Seq = s.count
	s.count++
	return true
}

// Record returns the most recently decoded record.
func (s *TradesScanner) Record() TradesRecord {
	return s.rec
}

// Err returns the first error encountered, or nil after a clean EOF.
func (s *TradesScanner) Err() error {
	return s.err
}

// Count returns the number of records successfully decoded so far.
func (s *TradesScanner) Count() int {
	return s.count
}

// TradesEncoder writes a TRADES stream: the 56-byte header once, then one
// 40-byte record per call to WriteRecord.
type TradesEncoder struct {
	w     io.Writer
	buf   [TradesRecordSize]byte
	count int
}

// NewTradesEncoder writes header verbatim and returns an encoder ready for
// WriteRecord.
func NewTradesEncoder(w io.Writer, header []byte) (*TradesEncoder, error) {
	if len(header) != TradesHeaderSize {
		return nil, fmt.Errorf("%w: header: %s", ErrIoError, unexpectedBytesError(len(header), TradesHeaderSize))
	}
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return &TradesEncoder{w: w}, nil
}

// WriteRecord serializes and writes one record.
func (e *TradesEncoder) WriteRecord(r TradesRecord) error {
	encodeTradesRecord(r, e.buf[:])
	if _, err := e.w.Write(e.buf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	e.count++
	return nil
}

// Count returns the number of records written so far.
func (e *TradesEncoder) Count() int {
	return e.count
}
