// Copyright (c) 2025 Neomantra Corp

package scsync

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// RunStatus is the terminal state of a Synchronizer run.
type RunStatus int

const (
	StatusComplete RunStatus = iota
	StatusPartiallyComplete
	StatusFailed
)

func (s RunStatus) String() string {
	switch s {
	case StatusComplete:
		return "Complete"
	case StatusPartiallyComplete:
		return "PartiallyComplete"
	default:
		return "Failed"
	}
}

// runState is the synchronizer's internal state machine: Init until Run
// starts, Streaming while buckets are processed, then Draining and Done as
// Run returns. Headers are validated by the scanners before construction,
// and the synchronizer itself writes no output files.
type runState int

const (
	stateInit runState = iota
	stateStreaming
	stateDraining
	stateDone
)

// RunResult summarizes a completed or partially-completed run.
type RunResult struct {
	Status           RunStatus
	Reason           string
	TradeOutCount    int
	DepthOutCount    int
	DepthBatchCount  int
	Anomalies        map[AnomalyKind]int
	EmittedEvents    []UnifiedEvent // in emission order, for the verifier/manifest
}

// Synchronizer is the pairing engine: it consumes decoded TRADES and DEPTH
// streams in timestamp order, maintains a Book, resolves trades into
// depth batches at millisecond granularity, and emits a single ordered
// UnifiedEvent sequence from which the two rewritten outputs are derived.
//
// It is single-threaded and pull-based end to end: both scanners are
// advanced only as the current bucket demands, and nothing here blocks on
// anything but sequential reads from the two scanners.
type Synchronizer struct {
	trades *TradesScanner
	depth  *DepthScanner
	book   *Book
	sink   DiagnosticsSink
	log    *zap.Logger
	clock  ClockSource

	state runState

	pendingTrade *TradesRecord
	tradesDone   bool
	pendingBatch *DepthBatch
	depthDone    bool

	events         []UnifiedEvent
	batchesEmitted int // real depth batches written to the rewritten DEPTH stream; zero-record synthetic orphan-bucket batches don't count, since nothing is written for them
	result         RunResult
}

// ClockSource supplies the UTC day boundaries a run validates DEPTH
// timestamps against.
type ClockSource interface {
	DayBoundsNs() (start, end int64)
}

// NewSynchronizer constructs a Synchronizer over two already-header-
// validated scanners. A nil sink or logger is valid.
func NewSynchronizer(trades *TradesScanner, depth *DepthScanner, clock ClockSource, sink DiagnosticsSink, log *zap.Logger) *Synchronizer {
	if sink == nil {
		sink = noopDiagnosticsSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		trades: trades,
		depth:  depth,
		book:   NewBook(log),
		sink:   sink,
		log:    log,
		clock:  clock,
		state:  stateInit,
	}
}

// Book exposes the running book, primarily so callers and the verifier can
// inspect its state after a run.
func (s *Synchronizer) Book() *Book {
	return s.book
}

func (s *Synchronizer) observe(kind AnomalyKind, ns int64, detail string) {
	s.book.Anomalies().Inc(kind)
	s.sink.Observe(Anomaly{Kind: kind, Timestamp: ns, Detail: detail})
}

func (s *Synchronizer) fillTrade() error {
	if s.pendingTrade != nil || s.tradesDone {
		return nil
	}
	if s.trades.Next() {
		rec := s.trades.Record()
		s.pendingTrade = &rec
		return nil
	}
	if err := s.trades.Err(); err != nil {
		return err
	}
	s.tradesDone = true
	return nil
}

func (s *Synchronizer) fillBatch() error {
	if s.pendingBatch != nil || s.depthDone {
		return nil
	}
	if s.depth.Next() {
		b := s.depth.Batch()
		start, end := int64(0), int64(0)
		if s.clock != nil {
			start, end = s.clock.DayBoundsNs()
		}
		ns := FromPlatformUs(b.PlatformUs)
		if s.clock != nil && (ns < start || ns >= end) {
			return fmt.Errorf("%w: batch %d at %d", ErrOutsideRunDay, b.Seq, ns)
		}
		s.pendingBatch = &b
		return nil
	}
	if err := s.depth.Err(); err != nil {
		return err
	}
	s.depthDone = true
	return nil
}

// Run drives the full state machine to completion, returning the final
// result. On a TruncatedStream mid-run the result is PartiallyComplete
// rather than an error, provided at least one bucket was already emitted.
func (s *Synchronizer) Run() (RunResult, error) {
	s.state = stateStreaming
	for {
		if err := s.fillTrade(); err != nil {
			return s.finishOnError(err)
		}
		if err := s.fillBatch(); err != nil {
			return s.finishOnError(err)
		}
		if s.pendingTrade == nil && s.pendingBatch == nil {
			break
		}

		bucketMs, ok := s.nextBucketMs()
		if !ok {
			break
		}
		if err := s.processBucket(bucketMs); err != nil {
			return s.finishOnError(err)
		}
	}
	s.state = stateDraining
	s.state = stateDone
	s.result = RunResult{
		Status:          StatusComplete,
		TradeOutCount:   s.countTradeEvents(),
		DepthOutCount:   s.countDepthEvents(),
		DepthBatchCount: s.batchesEmitted,
		Anomalies:       s.book.Anomalies().Snapshot(),
		EmittedEvents:   s.events,
	}
	return s.result, nil
}

func (s *Synchronizer) finishOnError(err error) (RunResult, error) {
	if len(s.events) > 0 && errors.Is(err, ErrTruncatedStream) {
		s.state = stateDraining
		s.state = stateDone
		s.result = RunResult{
			Status:          StatusPartiallyComplete,
			Reason:          err.Error(),
			TradeOutCount:   s.countTradeEvents(),
			DepthOutCount:   s.countDepthEvents(),
			DepthBatchCount: s.batchesEmitted,
			Anomalies:       s.book.Anomalies().Snapshot(),
			EmittedEvents:   s.events,
		}
		s.log.Warn("run ended with PartiallyComplete", zap.Error(err))
		return s.result, nil
	}
	s.result = RunResult{Status: StatusFailed, Reason: err.Error()}
	return s.result, err
}

func (s *Synchronizer) countTradeEvents() int {
	n := 0
	for _, e := range s.events {
		if e.Kind == EventTrade || e.Kind == EventAggregateBar {
			n++
		}
	}
	return n
}

func (s *Synchronizer) countDepthEvents() int {
	n := 0
	for _, e := range s.events {
		if e.Kind == EventDepthRecord {
			n++
		}
	}
	return n
}

// nextBucketMs returns the millisecond grid index of the earliest pending
// item across both streams.
func (s *Synchronizer) nextBucketMs() (int64, bool) {
	var ms int64
	have := false
	if s.pendingTrade != nil {
		ms = MsOf(FromPlatformUs(s.pendingTrade.PlatformUs))
		have = true
	}
	if s.pendingBatch != nil {
		bms := MsOf(FromPlatformUs(s.pendingBatch.PlatformUs))
		if !have || bms < ms {
			ms = bms
			have = true
		}
	}
	return ms, have
}

// bucket groups every pending trade and batch whose millisecond matches m,
// pulling further items from both scanners while they still fall in m.
type bucket struct {
	ms      int64
	batches []DepthBatch
	trades  []TradesRecord
}

func (s *Synchronizer) collectBucket(m int64) (bucket, error) {
	b := bucket{ms: m}
	for {
		if s.pendingBatch != nil && MsOf(FromPlatformUs(s.pendingBatch.PlatformUs)) == m {
			b.batches = append(b.batches, *s.pendingBatch)
			s.pendingBatch = nil
			if err := s.fillBatch(); err != nil {
				return b, err
			}
			continue
		}
		if s.pendingTrade != nil && MsOf(FromPlatformUs(s.pendingTrade.PlatformUs)) == m {
			b.trades = append(b.trades, *s.pendingTrade)
			s.pendingTrade = nil
			if err := s.fillTrade(); err != nil {
				return b, err
			}
			continue
		}
		break
	}
	return b, nil
}

// msIsEmpty reports whether millisecond m currently has no pending item in
// either stream. Called only with m set one past the bucket just collected,
// to decide whether that bucket may spill overflow ticks into it.
func (s *Synchronizer) msIsEmpty(m int64) bool {
	if s.pendingTrade != nil && MsOf(FromPlatformUs(s.pendingTrade.PlatformUs)) == m {
		return false
	}
	if s.pendingBatch != nil && MsOf(FromPlatformUs(s.pendingBatch.PlatformUs)) == m {
		return false
	}
	return true
}

// bucketEventCount returns how many UnifiedEvents processBucket will emit
// for b once trades are resolved: one per depth record, one injected trade
// per real (non-synthetic) batch, and one per attached real trade. A
// zero-record synthetic batch (see the OrphanTradeBucket case below) writes
// no depth record and gets no injected trade of its own.
func bucketEventCount(b bucket, attached map[int][]TradesRecord) int {
	n := 0
	for _, batch := range b.batches {
		n += len(batch.Records) + len(attached[batch.Seq])
		if len(batch.Records) > 0 {
			n++
		}
	}
	return n
}

func (s *Synchronizer) processBucket(m int64) error {
	b, collectErr := s.collectBucket(m)

	if len(b.batches) == 0 && len(b.trades) > 0 {
		s.observe(AnomalyOrphanTradeBucket, NsOfMs(m), fmt.Sprintf("%d orphan trades at ms=%d", len(b.trades), m))
		b.batches = append(b.batches, DepthBatch{PlatformUs: ToPlatformUs(NsOfMs(m))})
	}

	attached := s.resolveTrades(b)

	total := bucketEventCount(b, attached)
	spillover := total > 1000 && s.msIsEmpty(m+1)
	ticker := &bucketTicker{ms: m, spillover: spillover}

	for _, batch := range b.batches {
		synthetic := len(batch.Records) == 0
		if !synthetic {
			s.batchesEmitted++
		}
		for i, rec := range batch.Records {
			ns, overflowed := ticker.next()
			if overflowed {
				s.observe(AnomalyBucketOverflow, NsOfMs(m), fmt.Sprintf("batch %d overflowed bucket ms=%d", batch.Seq, m))
			}
			s.book.Apply(rec)
			s.events = append(s.events, UnifiedEvent{
				Nanosecond: ns,
				Kind:       EventDepthRecord,
				Depth:      rec,
				BatchSeq:   batch.Seq,
				BatchLast:  i == len(batch.Records)-1,
			})
		}

		if !synthetic {
			bestBid, bestAsk := s.book.BestBidAskFloat32()
			ns, overflowed := ticker.next()
			if overflowed {
				s.observe(AnomalyBucketOverflow, NsOfMs(m), fmt.Sprintf("injected record for batch %d overflowed bucket ms=%d", batch.Seq, m))
			}
			injected := NewDepthInjectedTrade(ToPlatformUs(ns), bestAsk, bestBid)
			s.events = append(s.events, UnifiedEvent{
				Nanosecond: ns,
				Kind:       EventTrade,
				Trade:      injected,
			})
		}

		for _, tr := range attached[batch.Seq] {
			if tr.Kind() == TradesSingleTrade || tr.Kind() == TradesFirstSubTrade {
				bid, ask := s.book.BestBidAskFloat32()
				tr.High = ask
				tr.Low = bid
			}
			ns, overflowed := ticker.next()
			if overflowed {
				s.observe(AnomalyBucketOverflow, NsOfMs(m), fmt.Sprintf("trade seq %d overflowed bucket ms=%d", tr.Seq, m))
			}
			kind := EventTrade
			if tr.Kind() == TradesAggregate {
				kind = EventAggregateBar
			}
			tr.PlatformUs = ToPlatformUs(ns)
			s.events = append(s.events, UnifiedEvent{
				Nanosecond: ns,
				Kind:       kind,
				Trade:      tr,
			})
		}
	}
	return collectErr
}

// resolveTrades attaches each trade in the bucket to exactly one batch,
// keyed by batch.Seq, preserving each trade's original file order within
// its batch's list.
func (s *Synchronizer) resolveTrades(b bucket) map[int][]TradesRecord {
	attached := make(map[int][]TradesRecord)
	if len(b.batches) == 1 {
		only := b.batches[0].Seq
		attached[only] = append(attached[only], b.trades...)
		return attached
	}

	consumed := make(map[int]bool)
	before := s.book.Clone()
	for _, tr := range b.trades {
		winner, outcome := s.matchTrade(tr, b.batches, before, consumed)
		if outcome == matchUnresolved {
			s.observe(AnomalyUnresolvedTrade, NsOfMs(b.ms), fmt.Sprintf("trade seq %d unresolved at ms=%d", tr.Seq, b.ms))
		}
		attached[winner] = append(attached[winner], tr)
		consumed[winner] = true
	}
	return attached
}

// matchOutcome classifies how matchTrade resolved a trade: an exact score
// match, a best-bid/best-ask bracket (spec §4.5 rule 4's first fallback,
// not itself an anomaly), or the rule's final fallback to the bucket's
// last batch, which is the only outcome that counts as UnresolvedTrade.
type matchOutcome int

const (
	matchExact matchOutcome = iota
	matchBracketed
	matchUnresolved
)

// matchTrade walks batches in order, scoring each against tr using a
// speculative clone of the book, and returns the first exact match. If
// none match, it falls back to the batch whose best-bid/best-ask bracket
// the trade price, else the bucket's last batch.
func (s *Synchronizer) matchTrade(tr TradesRecord, batches []DepthBatch, before *Book, consumed map[int]bool) (int, matchOutcome) {
	running := before.Clone()
	type candidate struct {
		seq       int
		bracketed bool
	}
	var candidates []candidate

	for _, batch := range batches {
		pre := running.Clone()
		for _, rec := range batch.Records {
			running.Apply(rec)
		}
		if !consumed[batch.Seq] && scoreMatch(tr, pre, running, batch) {
			return batch.Seq, matchExact
		}
		bid, ask := running.BestBidAskFloat32()
		bracketed := bid <= tr.Close && tr.Close <= ask && bid != 0 && ask != 0
		candidates = append(candidates, candidate{seq: batch.Seq, bracketed: bracketed})
	}

	for _, c := range candidates {
		if c.bracketed {
			return c.seq, matchBracketed
		}
	}
	return batches[len(batches)-1].Seq, matchUnresolved
}

// scoreMatch compares the trade's reported volume and modification count
// against what the batch actually did at the trade's price, on whichever
// side actually moved.
func scoreMatch(tr TradesRecord, before, after *Book, batch DepthBatch) bool {
	price := tr.Close
	bidBefore, _, _ := before.DepthOf(BidSide, price)
	bidAfter, _, _ := after.DepthOf(BidSide, price)
	askBefore, _, _ := before.DepthOf(AskSide, price)
	askAfter, _, _ := after.DepthOf(AskSide, price)

	bidDelta := absDiffUint32(bidBefore, bidAfter)
	askDelta := absDiffUint32(askBefore, askAfter)
	delta := bidDelta + askDelta
	if delta == 0 {
		return false
	}
	if delta != tr.TotalVolume {
		return false
	}

	side := BidSide
	if askDelta > bidDelta {
		side = AskSide
	}
	return modificationCount(batch, side, price) == tr.NumTrades
}

// modificationCount counts the batch's MODIFY/DELETE records on side at
// price, the quantity scoreMatch checks against the trade's num_trades.
func modificationCount(batch DepthBatch, side BookSide, price float32) uint32 {
	var n uint32
	for _, rec := range batch.Records {
		if rec.Price != price || rec.Command.Side() != side {
			continue
		}
		switch rec.Command {
		case ModifyBidLevel, ModifyAskLevel, DeleteBidLevel, DeleteAskLevel:
			n++
		}
	}
	return n
}

func absDiffUint32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// bucketTicker hands out strictly increasing nanosecond timestamps for the
// events of one bucket. A bucket gets 1000 microsecond-spaced ticks within
// millisecond ms; if that's not enough and ms+1 is empty in both streams
// (spillover == true), the next 1000 events get ms+1's own ticks instead.
// Only once both are exhausted does it fall back to packing further
// instants into the unused nanosecond range just past whichever
// millisecond it last used, strictly increasing and always short of the
// following millisecond's own first tick, so it can never collide with a
// later, genuinely-occupied bucket.
type bucketTicker struct {
	ms        int64
	cursor    int
	spillover bool
}

func (t *bucketTicker) next() (ns int64, overflowed bool) {
	c := t.cursor
	t.cursor++

	if c < 1000 {
		return Compose(t.ms, c), false
	}
	if t.spillover && c < 2000 {
		return Compose(t.ms+1, c-1000), false
	}

	// Last resort: pack into the unused nanosecond range just past the
	// last ms (or ms+1, if spillover already ran) actually used above,
	// so the sequence keeps increasing instead of jumping backward.
	packMs := t.ms
	extra := c - 1000
	if t.spillover {
		packMs = t.ms + 1
		extra = c - 2000
	}
	if extra > 998 {
		extra = 998
	}
	return Compose(packMs, 999) + int64(extra) + 1, true
}
