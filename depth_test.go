// Copyright (c) 2025 Neomantra Corp

package scsync_test

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/scquant/scsync"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func encodeHeaderForTest(h scsync.DepthHeader, b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.HeaderSize)
	binary.LittleEndian.PutUint32(b[8:12], h.RecordSize)
	binary.LittleEndian.PutUint32(b[12:16], h.Reserved)
}

func writeRawDepthRecord(buf *bytes.Buffer, r scsync.DepthRecord) {
	var b [scsync.DepthRecordSize]byte
	binary.LittleEndian.PutUint64(b[0:8], r.PlatformUs)
	b[8] = byte(r.Command)
	b[9] = r.Flags
	binary.LittleEndian.PutUint16(b[10:12], r.NumOrders)
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(r.Price))
	binary.LittleEndian.PutUint32(b[16:20], r.Quantity)
	binary.LittleEndian.PutUint32(b[20:24], r.Reserved)
	buf.Write(b[:])
}

func validDepthHeader() scsync.DepthHeader {
	return scsync.DepthHeader{
		Magic:      0x44444353, // "SCDD"
		HeaderSize: scsync.DepthHeaderSize,
		RecordSize: scsync.DepthRecordSize,
	}
}

var _ = Describe("DepthScanner", func() {
	It("rejects a bad magic", func() {
		h := validDepthHeader()
		h.Magic = 0
		var buf bytes.Buffer
		enc, err := scsync.NewDepthEncoder(&buf, h)
		Expect(err).To(BeNil())
		_ = enc
		_, err = scsync.NewDepthScanner(bytes.NewReader(buf.Bytes()))
		Expect(err).To(MatchError(scsync.ErrBadMagic))
	})

	It("decodes a snapshot batch and preserves bid-before-ask ordering", func() {
		h := validDepthHeader()
		var buf bytes.Buffer
		enc, err := scsync.NewDepthEncoder(&buf, h)
		Expect(err).To(BeNil())

		records := []scsync.DepthRecord{
			{PlatformUs: 1000, Command: scsync.ClearBook},
			{PlatformUs: 1000, Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1},
			{PlatformUs: 1000, Command: scsync.AddAskLevel, Price: 100.25, Quantity: 3, NumOrders: 1},
		}
		Expect(enc.WriteBatch(records)).To(Succeed())

		scanner, err := scsync.NewDepthScanner(bytes.NewReader(buf.Bytes()))
		Expect(err).To(BeNil())
		Expect(scanner.Next()).To(BeTrue())
		batch := scanner.Batch()
		Expect(batch.Records).To(HaveLen(3))
		Expect(batch.Records[1].Command).To(Equal(scsync.AddBidLevel))
		Expect(batch.Records[2].Command).To(Equal(scsync.AddAskLevel))
		Expect(batch.Records[2].EndOfBatch()).To(BeTrue())
		Expect(batch.Records[2].Reserved).To(Equal(uint32(0)))
		Expect(scanner.Next()).To(BeFalse())
		Expect(scanner.Err()).To(BeNil())
	})

	It("reports MalformedBatch when a bid command follows an ask command", func() {
		h := validDepthHeader()
		var raw [scsync.DepthHeaderSize]byte
		encodeHeaderForTest(h, raw[:])

		var buf bytes.Buffer
		buf.Write(raw[:])
		writeRawDepthRecord(&buf, scsync.DepthRecord{PlatformUs: 1000, Command: scsync.AddAskLevel, Price: 100.25, Quantity: 1})
		writeRawDepthRecord(&buf, scsync.DepthRecord{PlatformUs: 1000, Command: scsync.AddBidLevel, Price: 100.00, Quantity: 1, Flags: 1})

		scanner, err := scsync.NewDepthScanner(bytes.NewReader(buf.Bytes()))
		Expect(err).To(BeNil())
		Expect(scanner.Next()).To(BeFalse())
		Expect(scanner.Err()).To(MatchError(scsync.ErrMalformedBatch))
	})
})
