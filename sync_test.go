// Copyright (c) 2025 Neomantra Corp

package scsync_test

import (
	"bytes"
	"math"

	"github.com/scquant/scsync"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fixedClock struct {
	start, end int64
}

func (c fixedClock) DayBoundsNs() (int64, int64) { return c.start, c.end }

func newTradesScanner(records ...scsync.TradesRecord) *scsync.TradesScanner {
	var header [scsync.TradesHeaderSize]byte
	var buf bytes.Buffer
	enc, _ := scsync.NewTradesEncoder(&buf, header[:])
	for _, r := range records {
		_ = enc.WriteRecord(r)
	}
	s, _ := scsync.NewTradesScanner(bytes.NewReader(buf.Bytes()))
	return s
}

func newDepthScanner(batches ...[]scsync.DepthRecord) *scsync.DepthScanner {
	h := validDepthHeader()
	var buf bytes.Buffer
	enc, _ := scsync.NewDepthEncoder(&buf, h)
	for _, batch := range batches {
		_ = enc.WriteBatch(batch)
	}
	s, _ := scsync.NewDepthScanner(bytes.NewReader(buf.Bytes()))
	return s
}

var dayClock = fixedClock{start: 0, end: 24 * 3600 * 1_000_000_000}

// dayUs is 1970-01-01T00:00:00Z in platform microseconds, the start of
// dayClock's day; fixture timestamps are offsets from it.
const dayUs uint64 = 2209161600 * 1_000_000

var _ = Describe("Synchronizer", func() {
	It("handles an empty day: one CLEAR_BOOK batch, no trades", func() {
		depth := newDepthScanner([]scsync.DepthRecord{
			{PlatformUs: dayUs, Command: scsync.ClearBook},
		})
		trades := newTradesScanner()

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))
		Expect(result.DepthOutCount).To(Equal(1))
		Expect(result.TradeOutCount).To(Equal(1)) // one injected record

		var injected *scsync.TradesRecord
		for _, e := range result.EmittedEvents {
			if e.Kind == scsync.EventTrade {
				r := e.Trade
				injected = &r
			}
		}
		Expect(injected).ToNot(BeNil())
		Expect(injected.Kind()).To(Equal(scsync.TradesDepthInjected))
		Expect(injected.High).To(Equal(float32(0)))
		Expect(injected.Low).To(Equal(float32(0)))
	})

	It("resolves a single trade inside a single batch and overwrites BBO", func() {
		depth := newDepthScanner([]scsync.DepthRecord{
			{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1},
			{PlatformUs: dayUs + 1_000_000, Command: scsync.AddAskLevel, Price: 100.25, Quantity: 3, NumOrders: 1},
			{PlatformUs: dayUs + 1_000_000, Command: scsync.DeleteAskLevel, Price: 100.25},
		})
		trades := newTradesScanner(scsync.TradesRecord{
			PlatformUs:  dayUs + 1_000_050,
			Open:        0,
			Close:       100.25,
			TotalVolume: 3,
			NumTrades:   1,
		})

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))

		var tradeEvent *scsync.TradesRecord
		for _, e := range result.EmittedEvents {
			if e.Kind == scsync.EventTrade && e.Trade.Kind() == scsync.TradesSingleTrade {
				r := e.Trade
				tradeEvent = &r
			}
		}
		Expect(tradeEvent).ToNot(BeNil())
		Expect(tradeEvent.Low).To(Equal(float32(100.00)))
	})

	It("produces a strictly monotonic nanosecond timeline", func() {
		depth := newDepthScanner(
			[]scsync.DepthRecord{{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 101.00, Quantity: 1, NumOrders: 1}},
			[]scsync.DepthRecord{{PlatformUs: dayUs + 1_000_000, Command: scsync.ModifyBidLevel, Price: 101.00, Quantity: 2, NumOrders: 1}},
		)
		trades := newTradesScanner()

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())

		var prev int64 = -1
		for _, e := range result.EmittedEvents {
			Expect(e.Nanosecond).To(BeNumerically(">", prev))
			prev = e.Nanosecond
		}
	})

	It("attaches a trade to the second of two same-millisecond batches by volume+count and ticks them 0..4", func() {
		// Batch 0: ADD_BID 101.00 qty=1 (delta=1 against the trade's volume).
		// Batch 1: MODIFY_BID 101.00 qty=3 (delta=2, one modification — the
		// trade's volume=2, num_trades=1 match only this one exactly).
		depth := newDepthScanner(
			[]scsync.DepthRecord{{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 101.00, Quantity: 1, NumOrders: 1}},
			[]scsync.DepthRecord{{PlatformUs: dayUs + 1_000_000, Command: scsync.ModifyBidLevel, Price: 101.00, Quantity: 3, NumOrders: 1}},
		)
		trades := newTradesScanner(scsync.TradesRecord{
			PlatformUs:  dayUs + 1_000_050,
			Close:       101.00,
			TotalVolume: 2,
			NumTrades:   1,
		})

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))
		Expect(result.EmittedEvents).To(HaveLen(5)) // 2 depth + 2 injected + 1 trade

		base := result.EmittedEvents[0].Nanosecond
		var ticks []int64
		for _, e := range result.EmittedEvents {
			ticks = append(ticks, (e.Nanosecond-base)/1000)
		}
		Expect(ticks).To(Equal([]int64{0, 1, 2, 3, 4}))

		// The trade is the last event, which only happens if it attached to
		// the second batch (processed last), not the first.
		last := result.EmittedEvents[4]
		Expect(last.Kind).To(Equal(scsync.EventTrade))
		Expect(last.Trade.Kind()).To(Equal(scsync.TradesSingleTrade))

		// Its on-disk PlatformUs must carry the newly assigned tick, not the
		// original counter value — the original is meaningless and must not
		// survive the rewrite.
		Expect(last.Trade.PlatformUs).To(Equal(scsync.ToPlatformUs(last.Nanosecond)))
		Expect(last.Trade.PlatformUs).ToNot(Equal(dayUs + 1_000_050))
	})

	It("resolves a trade to a bracketing batch without counting it as UnresolvedTrade", func() {
		// Neither batch's net quantity change at 100.25 matches the trade's
		// volume (there is no level at that price at all), but the book's
		// best-bid/best-ask bracket 100.25 after the first batch, so it
		// should win by bracket — the deliberate, documented fallback, not
		// the "no batch matched at all" one.
		depth := newDepthScanner(
			[]scsync.DepthRecord{
				{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1},
				{PlatformUs: dayUs + 1_000_000, Command: scsync.AddAskLevel, Price: 100.50, Quantity: 5, NumOrders: 1},
			},
			[]scsync.DepthRecord{{PlatformUs: dayUs + 1_000_000, Command: scsync.ModifyBidLevel, Price: 100.00, Quantity: 6, NumOrders: 1}},
		)
		trades := newTradesScanner(scsync.TradesRecord{
			PlatformUs:  dayUs + 1_000_090,
			Close:       100.25,
			TotalVolume: 999,
			NumTrades:   1,
		})

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))
		Expect(result.Anomalies[scsync.AnomalyUnresolvedTrade]).To(Equal(0))

		// Bracket-resolved means it attached to the first batch, so it
		// appears before the second batch's depth record in the timeline.
		var tradeIdx, secondBatchIdx int = -1, -1
		for i, e := range result.EmittedEvents {
			if e.Kind == scsync.EventTrade && e.Trade.Kind() == scsync.TradesSingleTrade {
				tradeIdx = i
			}
			if e.Kind == scsync.EventDepthRecord && e.Depth.Command == scsync.ModifyBidLevel {
				secondBatchIdx = i
			}
		}
		Expect(tradeIdx).ToNot(Equal(-1))
		Expect(secondBatchIdx).ToNot(Equal(-1))
		Expect(tradeIdx).To(BeNumerically("<", secondBatchIdx))
	})

	It("hosts orphan trades in a synthetic batch that doesn't inflate depth/batch counts", func() {
		depth := newDepthScanner() // no depth batches at all
		trades := newTradesScanner(scsync.TradesRecord{
			PlatformUs: dayUs + 1_000_050,
			Open:       0,
			Close:      100.00,
		})

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))
		Expect(result.Anomalies[scsync.AnomalyOrphanTradeBucket]).To(Equal(1))

		// The synthetic hosting batch writes no depth records and gets no
		// injected TRADES record of its own — only the real trade survives.
		Expect(result.DepthOutCount).To(Equal(0))
		Expect(result.DepthBatchCount).To(Equal(0))
		Expect(result.TradeOutCount).To(Equal(1))
		Expect(result.EmittedEvents).To(HaveLen(1))
		Expect(result.EmittedEvents[0].Kind).To(Equal(scsync.EventTrade))
		Expect(result.EmittedEvents[0].Trade.Kind()).To(Equal(scsync.TradesSingleTrade))
	})

	It("carries an unbundled aggregate's sub-trades through in order, with BBO overwrite and sentinel preservation", func() {
		depth := newDepthScanner([]scsync.DepthRecord{
			{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1},
			{PlatformUs: dayUs + 1_000_000, Command: scsync.AddAskLevel, Price: 100.25, Quantity: 3, NumOrders: 1},
		})
		first := scsync.TradesRecord{PlatformUs: dayUs + 1_000_010, Open: math.Float32frombits(0xFAE6E78A), Close: 100.10}
		sub1 := scsync.TradesRecord{PlatformUs: dayUs + 1_000_020, Close: 100.15}
		sub2 := scsync.TradesRecord{PlatformUs: dayUs + 1_000_030, Close: 100.20}
		last := scsync.TradesRecord{PlatformUs: dayUs + 1_000_040, Open: math.Float32frombits(0xFAE6E84E), High: 999, Low: 888, Close: 100.25}
		trades := newTradesScanner(first, sub1, sub2, last)

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))

		var tradeEvents []scsync.TradesRecord
		for _, e := range result.EmittedEvents {
			if e.Kind == scsync.EventTrade || e.Kind == scsync.EventAggregateBar {
				tradeEvents = append(tradeEvents, e.Trade)
			}
		}
		Expect(tradeEvents).To(HaveLen(5)) // injected record + 4 sub-trades, in order

		Expect(tradeEvents[0].Kind()).To(Equal(scsync.TradesDepthInjected))

		Expect(tradeEvents[1].Kind()).To(Equal(scsync.TradesFirstSubTrade))
		Expect(tradeEvents[1].High).To(Equal(float32(100.25)))
		Expect(tradeEvents[1].Low).To(Equal(float32(100.00)))
		Expect(math.Float32bits(tradeEvents[1].Open)).To(Equal(uint32(0xFAE6E78A)))

		Expect(tradeEvents[2].Kind()).To(Equal(scsync.TradesSingleTrade))
		Expect(tradeEvents[2].High).To(Equal(float32(100.25)))
		Expect(tradeEvents[2].Low).To(Equal(float32(100.00)))

		Expect(tradeEvents[3].Kind()).To(Equal(scsync.TradesSingleTrade))
		Expect(tradeEvents[3].High).To(Equal(float32(100.25)))
		Expect(tradeEvents[3].Low).To(Equal(float32(100.00)))

		Expect(tradeEvents[4].Kind()).To(Equal(scsync.TradesLastSubTrade))
		Expect(tradeEvents[4].High).To(Equal(float32(999)))
		Expect(tradeEvents[4].Low).To(Equal(float32(888)))
		Expect(math.Float32bits(tradeEvents[4].Open)).To(Equal(uint32(0xFAE6E84E)))
	})

	It("keeps a snapshot batch's levels and flags a later MODIFY on an unlisted price as ModifyMissing", func() {
		depth := newDepthScanner(
			[]scsync.DepthRecord{
				{PlatformUs: dayUs + 1_000_000, Command: scsync.ClearBook},
				{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 100.00, Quantity: 5, NumOrders: 1},
				{PlatformUs: dayUs + 1_000_000, Command: scsync.AddBidLevel, Price: 99.75, Quantity: 3, NumOrders: 1},
				{PlatformUs: dayUs + 1_000_000, Command: scsync.AddAskLevel, Price: 100.50, Quantity: 4, NumOrders: 1},
				{PlatformUs: dayUs + 1_000_000, Command: scsync.AddAskLevel, Price: 100.25, Quantity: 2, NumOrders: 1},
			},
			[]scsync.DepthRecord{
				{PlatformUs: dayUs + 2_000_000, Command: scsync.ModifyBidLevel, Price: 98.00, Quantity: 1, NumOrders: 1},
			},
		)
		trades := newTradesScanner()

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusComplete))
		Expect(result.Anomalies[scsync.AnomalyModifyMissing]).To(Equal(1))

		qty, _, ok := sync.Book().DepthOf(scsync.BidSide, 98.00)
		Expect(ok).To(BeTrue())
		Expect(qty).To(Equal(uint32(1)))

		bestBid, ok := sync.Book().BestBid()
		Expect(ok).To(BeTrue())
		Expect(float64(100.00)).To(BeNumerically("~", mustFloat64(bestBid.Price), 1e-6))
	})

	It("marks a truncated TRADES stream as PartiallyComplete once a bucket has been emitted", func() {
		depth := newDepthScanner([]scsync.DepthRecord{
			{PlatformUs: dayUs, Command: scsync.ClearBook},
		})

		var header [scsync.TradesHeaderSize]byte
		var buf bytes.Buffer
		buf.Write(header[:])
		buf.Write(make([]byte, scsync.TradesRecordSize+17)) // one full record + 17 trailing bytes
		trades, err := scsync.NewTradesScanner(bytes.NewReader(buf.Bytes()))
		Expect(err).To(BeNil())

		sync := scsync.NewSynchronizer(trades, depth, dayClock, nil, nil)
		result, err := sync.Run()
		Expect(err).To(BeNil())
		Expect(result.Status).To(Equal(scsync.StatusPartiallyComplete))
	})
})
