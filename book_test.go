// Copyright (c) 2025 Neomantra Corp

package scsync_test

import (
	"github.com/scquant/scsync"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Book", func() {
	It("tracks best bid and best ask as levels are added", func() {
		b := scsync.NewBook(nil)
		b.Apply(scsync.DepthRecord{Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1})
		b.Apply(scsync.DepthRecord{Command: scsync.AddBidLevel, Price: 99.75, Quantity: 2, NumOrders: 1})
		b.Apply(scsync.DepthRecord{Command: scsync.AddAskLevel, Price: 100.25, Quantity: 3, NumOrders: 1})

		bid, ok := b.BestBid()
		Expect(ok).To(BeTrue())
		Expect(float64(100.00)).To(BeNumerically("~", mustFloat64(bid.Price), 1e-6))

		ask, ok := b.BestAsk()
		Expect(ok).To(BeTrue())
		Expect(float64(100.25)).To(BeNumerically("~", mustFloat64(ask.Price), 1e-6))
	})

	It("treats a DELETE against a missing price as an anomaly, not a panic", func() {
		b := scsync.NewBook(nil)
		b.Apply(scsync.DepthRecord{Command: scsync.DeleteBidLevel, Price: 50.00})
		Expect(b.Anomalies().Snapshot()[scsync.AnomalyDeleteMissing]).To(Equal(1))
	})

	It("treats an ADD over an existing price as a MODIFY plus an anomaly", func() {
		b := scsync.NewBook(nil)
		b.Apply(scsync.DepthRecord{Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1})
		b.Apply(scsync.DepthRecord{Command: scsync.AddBidLevel, Price: 100.00, Quantity: 9, NumOrders: 2})

		qty, numOrders, ok := b.DepthOf(scsync.BidSide, 100.00)
		Expect(ok).To(BeTrue())
		Expect(qty).To(Equal(uint32(9)))
		Expect(numOrders).To(Equal(uint16(2)))
		Expect(b.Anomalies().Snapshot()[scsync.AnomalyAddOverExisting]).To(Equal(1))
	})

	It("empties both sides on CLEAR_BOOK", func() {
		b := scsync.NewBook(nil)
		b.Apply(scsync.DepthRecord{Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1})
		b.Apply(scsync.DepthRecord{Command: scsync.ClearBook})
		_, ok := b.BestBid()
		Expect(ok).To(BeFalse())
	})

	It("clones independently of the source book", func() {
		b := scsync.NewBook(nil)
		b.Apply(scsync.DepthRecord{Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1})
		clone := b.Clone()
		clone.Apply(scsync.DepthRecord{Command: scsync.DeleteBidLevel, Price: 100.00})

		_, ok := clone.BestBid()
		Expect(ok).To(BeFalse())
		_, ok = b.BestBid()
		Expect(ok).To(BeTrue())
	})
})

func mustFloat64(v interface{ Float64() (float64, bool) }) float64 {
	f, _ := v.Float64()
	return f
}
