// Copyright (c) 2025 Neomantra Corp

package scsync

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// priceLevel is one resting level of the book: a price and the order
// metadata sitting at it. Price is a decimal.Decimal rather than the
// on-disk float32 so that book ordering and equality are exact.
type priceLevel struct {
	Price     decimal.Decimal
	Quantity  uint32
	NumOrders uint16
}

func lessAscending(a, b priceLevel) bool {
	return a.Price.LessThan(b.Price)
}

func lessDescending(a, b priceLevel) bool {
	return b.Price.LessThan(a.Price)
}

// Book is an in-memory, price-indexed order book for one side-paired
// instrument: two btree.BTreeG sides ordered bid-descending and
// ask-ascending, each keyed on an exact decimal price. It persists for the
// lifetime of one (contract, day) run and is advanced by applying decoded
// DEPTH records.
type Book struct {
	bids *btree.BTreeG[priceLevel]
	asks *btree.BTreeG[priceLevel]
	log  *zap.Logger

	anomalies *AnomalyTally
}

// NewBook constructs an empty Book. A nil logger is valid; anomalies are
// still tallied even when nothing is logged.
func NewBook(log *zap.Logger) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{
		bids:      btree.NewG(32, lessDescending),
		asks:      btree.NewG(32, lessAscending),
		log:       log,
		anomalies: NewAnomalyTally(),
	}
}

// Anomalies returns the running, bucketed anomaly tally.
func (b *Book) Anomalies() *AnomalyTally {
	return b.anomalies
}

// Clear empties both sides of the book.
func (b *Book) Clear() {
	b.bids.Clear(false)
	b.asks.Clear(false)
}

func (b *Book) sideTree(side BookSide) *btree.BTreeG[priceLevel] {
	if side == BidSide {
		return b.bids
	}
	return b.asks
}

// Apply dispatches a decoded DEPTH record against the book, per the
// ADD/MODIFY/DELETE contract: an ADD onto an occupied price is treated as a
// MODIFY; a MODIFY or DELETE against an absent price is repaired and
// counted as an anomaly rather than failing the run.
func (b *Book) Apply(rec DepthRecord) {
	if rec.Command == ClearBook {
		b.Clear()
		return
	}
	side := rec.Command.Side()
	tree := b.sideTree(side)
	price := decimal.NewFromFloat32(rec.Price)
	key := priceLevel{Price: price}

	switch rec.Command {
	case AddBidLevel, AddAskLevel:
		if existing, found := tree.Get(key); found {
			b.anomalies.Inc(AnomalyAddOverExisting)
			b.log.Warn("depth: ADD over existing price treated as MODIFY",
				zap.String("side", sideName(side)), zap.String("price", price.String()),
				zap.Uint32("existing_qty", existing.Quantity))
		}
		b.upsert(tree, rec, price)
	case ModifyBidLevel, ModifyAskLevel:
		if _, found := tree.Get(key); !found {
			b.anomalies.Inc(AnomalyModifyMissing)
			b.log.Warn("depth: MODIFY against missing price, inserting",
				zap.String("side", sideName(side)), zap.String("price", price.String()))
		}
		b.upsert(tree, rec, price)
	case DeleteBidLevel, DeleteAskLevel:
		if _, found := tree.Get(key); !found {
			b.anomalies.Inc(AnomalyDeleteMissing)
			b.log.Warn("depth: DELETE against missing price, ignoring",
				zap.String("side", sideName(side)), zap.String("price", price.String()))
			return
		}
		tree.Delete(key)
	}

	if rec.Quantity == 0 && (rec.Command == AddBidLevel || rec.Command == AddAskLevel || rec.Command == ModifyBidLevel || rec.Command == ModifyAskLevel) {
		b.anomalies.Inc(AnomalyNegativeOrZeroQuantity)
	}
	b.checkCrossed()
}

func (b *Book) upsert(tree *btree.BTreeG[priceLevel], rec DepthRecord, price decimal.Decimal) {
	tree.ReplaceOrInsert(priceLevel{
		Price:     price,
		Quantity:  rec.Quantity,
		NumOrders: rec.NumOrders,
	})
}

func (b *Book) checkCrossed() {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if bidOk && askOk && !bid.Price.LessThan(ask.Price) {
		b.anomalies.Inc(AnomalyCrossedBook)
		b.log.Warn("depth: crossed book", zap.String("best_bid", bid.Price.String()), zap.String("best_ask", ask.Price.String()))
	}
}

// BestBid returns the highest-priced resting bid level, if any.
func (b *Book) BestBid() (priceLevel, bool) {
	return b.bids.Min()
}

// BestAsk returns the lowest-priced resting ask level, if any.
func (b *Book) BestAsk() (priceLevel, bool) {
	return b.asks.Min()
}

// BestBidAskFloat32 returns best-bid and best-ask as float32 prices, with
// 0.0 for an empty side — the shape the rewritten TRADES records need for
// their high/low overwrite.
func (b *Book) BestBidAskFloat32() (bestBid, bestAsk float32) {
	if lvl, ok := b.BestBid(); ok {
		f, _ := lvl.Price.Float64()
		bestBid = float32(f)
	}
	if lvl, ok := b.BestAsk(); ok {
		f, _ := lvl.Price.Float64()
		bestAsk = float32(f)
	}
	return
}

// DepthOf returns the resting quantity and order count at price on the
// given side.
func (b *Book) DepthOf(side BookSide, priceF32 float32) (qty uint32, numOrders uint16, ok bool) {
	lvl, found := b.sideTree(side).Get(priceLevel{Price: decimal.NewFromFloat32(priceF32)})
	if !found {
		return 0, 0, false
	}
	return lvl.Quantity, lvl.NumOrders, true
}

// Clone returns a deep copy of the book, used by the synchronizer to
// speculatively apply a candidate batch during trade-to-batch resolution
// without disturbing the authoritative book.
func (b *Book) Clone() *Book {
	c := NewBook(b.log)
	b.bids.Ascend(func(lvl priceLevel) bool {
		c.bids.ReplaceOrInsert(lvl)
		return true
	})
	b.asks.Ascend(func(lvl priceLevel) bool {
		c.asks.ReplaceOrInsert(lvl)
		return true
	})
	return c
}

func sideName(side BookSide) string {
	switch side {
	case BidSide:
		return "bid"
	case AskSide:
		return "ask"
	default:
		return "neither"
	}
}
