// Copyright (c) 2025 Neomantra Corp

package scsync

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// DepthHeaderSize is the size, in bytes, of the DEPTH file header.
const DepthHeaderSize = 64

// DepthRecordSize is the size, in bytes, of one DEPTH record on disk:
// <QBBHfII> little-endian.
const DepthRecordSize = 24

// depthMagic is the required first word of a DEPTH header, the ASCII bytes
// "SCDD" read little-endian.
const depthMagic uint32 = 0x44444353

// DepthCommand identifies the book operation a DEPTH record carries.
type DepthCommand uint8

const (
	ClearBook      DepthCommand = 1
	AddBidLevel    DepthCommand = 2
	AddAskLevel    DepthCommand = 3
	ModifyBidLevel DepthCommand = 4
	ModifyAskLevel DepthCommand = 5
	DeleteBidLevel DepthCommand = 6
	DeleteAskLevel DepthCommand = 7
)

func (c DepthCommand) String() string {
	switch c {
	case ClearBook:
		return "CLEAR_BOOK"
	case AddBidLevel:
		return "ADD_BID_LEVEL"
	case AddAskLevel:
		return "ADD_ASK_LEVEL"
	case ModifyBidLevel:
		return "MODIFY_BID_LEVEL"
	case ModifyAskLevel:
		return "MODIFY_ASK_LEVEL"
	case DeleteBidLevel:
		return "DELETE_BID_LEVEL"
	case DeleteAskLevel:
		return "DELETE_ASK_LEVEL"
	default:
		return fmt.Sprintf("DepthCommand(%d)", uint8(c))
	}
}

// BookSide identifies which side of the book a command touches.
type BookSide int

const (
	NeitherSide BookSide = iota
	BidSide
	AskSide
)

// Side reports which book side the command applies to; CLEAR_BOOK applies
// to neither side specifically, since it empties both.
func (c DepthCommand) Side() BookSide {
	switch c {
	case AddBidLevel, ModifyBidLevel, DeleteBidLevel:
		return BidSide
	case AddAskLevel, ModifyAskLevel, DeleteAskLevel:
		return AskSide
	default:
		return NeitherSide
	}
}

// flagEndOfBatch is bit 0 of a DEPTH record's flags byte.
const flagEndOfBatch uint8 = 1 << 0

// DepthHeader is the 64-byte DEPTH file header. Padding is opaque and
// reproduced verbatim on rewrite.
type DepthHeader struct {
	Magic      uint32
	HeaderSize uint32
	RecordSize uint32
	Reserved   uint32
	Padding    [48]byte
}

// DepthRecord is one decoded 24-byte DEPTH record, plus bookkeeping used by
// the synchronizer to preserve original ordering.
type DepthRecord struct {
	PlatformUs uint64
	Command    DepthCommand
	Flags      uint8
	NumOrders  uint16
	Price      float32
	Quantity   uint32
	Reserved   uint32

	Seq int // 0-based index in file order
}

// EndOfBatch reports whether this record terminates its batch.
func (r DepthRecord) EndOfBatch() bool {
	return r.Flags&flagEndOfBatch != 0
}

func decodeDepthHeader(b []byte) (DepthHeader, error) {
	h := DepthHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		HeaderSize: binary.LittleEndian.Uint32(b[4:8]),
		RecordSize: binary.LittleEndian.Uint32(b[8:12]),
		Reserved:   binary.LittleEndian.Uint32(b[12:16]),
	}
	copy(h.Padding[:], b[16:64])
	if h.Magic != depthMagic {
		return h, ErrBadMagic
	}
	if h.HeaderSize != DepthHeaderSize {
		return h, ErrBadHeaderSize
	}
	if h.RecordSize != DepthRecordSize {
		return h, ErrBadRecordSize
	}
	return h, nil
}

func encodeDepthHeader(h DepthHeader, b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.HeaderSize)
	binary.LittleEndian.PutUint32(b[8:12], h.RecordSize)
	binary.LittleEndian.PutUint32(b[12:16], h.Reserved)
	copy(b[16:64], h.Padding[:])
}

func decodeDepthRecord(b []byte) DepthRecord {
	return DepthRecord{
		PlatformUs: binary.LittleEndian.Uint64(b[0:8]),
		Command:    DepthCommand(b[8]),
		Flags:      b[9],
		NumOrders:  binary.LittleEndian.Uint16(b[10:12]),
		Price:      math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
		Quantity:   binary.LittleEndian.Uint32(b[16:20]),
		Reserved:   binary.LittleEndian.Uint32(b[20:24]),
	}
}

func encodeDepthRecord(r DepthRecord, b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], r.PlatformUs)
	b[8] = byte(r.Command)
	b[9] = r.Flags
	binary.LittleEndian.PutUint16(b[10:12], r.NumOrders)
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(r.Price))
	binary.LittleEndian.PutUint32(b[16:20], r.Quantity)
	binary.LittleEndian.PutUint32(b[20:24], 0) // reserved must be zero on write
}

// DepthBatch is a maximal contiguous run of DEPTH records sharing a
// platform-microsecond timestamp and terminated by END_OF_BATCH. Within a
// batch, all bid-side records precede all ask-side records.
type DepthBatch struct {
	PlatformUs uint64
	Records    []DepthRecord
	Seq        int // 0-based batch index in file order
}

// DepthScanner is a pull-based, lazy decoder of a DEPTH stream: read the
// header once, then call Next repeatedly to pull one batch at a time.
type DepthScanner struct {
	r      io.Reader
	header DepthHeader
	raw    [DepthHeaderSize]byte
	buf    [DepthRecordSize]byte
	batch  DepthBatch
	err    error
	recSeq int
	batSeq int
}

// NewDepthScanner reads and validates the 64-byte DEPTH header.
func NewDepthScanner(r io.Reader) (*DepthScanner, error) {
	s := &DepthScanner{r: r}
	n, err := io.ReadFull(r, s.raw[:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: header: %s", ErrTruncatedStream, unexpectedBytesError(n, DepthHeaderSize))
		}
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	h, err := decodeDepthHeader(s.raw[:])
	if err != nil {
		return nil, err
	}
	s.header = h
	return s, nil
}

// Header returns the validated, decoded DEPTH header.
func (s *DepthScanner) Header() DepthHeader {
	return s.header
}

func (s *DepthScanner) readRecord() (DepthRecord, bool, error) {
	n, err := io.ReadFull(s.r, s.buf[:])
	if err != nil {
		if err == io.EOF {
			return DepthRecord{}, false, nil
		}
		if err == io.ErrUnexpectedEOF {
			return DepthRecord{}, false, fmt.Errorf("%w: record %d: %s", ErrTruncatedStream, s.recSeq, unexpectedBytesError(n, DepthRecordSize))
		}
		return DepthRecord{}, false, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	rec := decodeDepthRecord(s.buf[:])
	rec.Seq = s.recSeq
	s.recSeq++
	return rec, true, nil
}

// Next pulls the next complete batch, validating bid-before-ask ordering
// within it. Returns false at clean EOF or on error; check Err afterward.
func (s *DepthScanner) Next() bool {
	if s.err != nil {
		return false
	}
	var records []DepthRecord
	sawAsk := false
	for {
		rec, ok, err := s.readRecord()
		if err != nil {
			s.err = err
			return false
		}
		if !ok {
			if len(records) == 0 {
				return false
			}
			s.err = fmt.Errorf("%w: batch %d ended without END_OF_BATCH", ErrTruncatedStream, s.batSeq)
			return false
		}
		if rec.Command.Side() == BidSide && sawAsk {
			s.err = ErrMalformedBatch
			return false
		}
		if rec.Command.Side() == AskSide {
			sawAsk = true
		}
		records = append(records, rec)
		if rec.EndOfBatch() {
			break
		}
	}
	s.batch = DepthBatch{
		PlatformUs: records[0].PlatformUs,
		Records:    records,
		Seq:        s.batSeq,
	}
	s.batSeq++
	return true
}

// Batch returns the most recently decoded batch.
func (s *DepthScanner) Batch() DepthBatch {
	return s.batch
}

// Err returns the first error encountered, or nil after a clean EOF.
func (s *DepthScanner) Err() error {
	return s.err
}

// RecordCount returns the number of individual records decoded so far.
func (s *DepthScanner) RecordCount() int {
	return s.recSeq
}

// DepthEncoder writes a DEPTH stream: the 64-byte header once, then batches
// of records with END_OF_BATCH set on each batch's last record.
type DepthEncoder struct {
	w     io.Writer
	buf   [DepthRecordSize]byte
	count int
}

// NewDepthEncoder writes header verbatim and returns an encoder ready for
// WriteBatch.
func NewDepthEncoder(w io.Writer, header DepthHeader) (*DepthEncoder, error) {
	var raw [DepthHeaderSize]byte
	encodeDepthHeader(header, raw[:])
	if _, err := w.Write(raw[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return &DepthEncoder{w: w}, nil
}

// WriteBatch writes records in order, forcing END_OF_BATCH on the last one
// and reserved to zero on every one, regardless of their input flags.
func (e *DepthEncoder) WriteBatch(records []DepthRecord) error {
	for i, r := range records {
		r.Reserved = 0
		if i == len(records)-1 {
			r.Flags |= flagEndOfBatch
		} else {
			r.Flags &^= flagEndOfBatch
		}
		encodeDepthRecord(r, e.buf[:])
		if _, err := e.w.Write(e.buf[:]); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		e.count++
	}
	return nil
}

// Count returns the number of records written so far.
func (e *DepthEncoder) Count() int {
	return e.count
}
