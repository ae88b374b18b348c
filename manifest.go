// Copyright (c) 2025 Neomantra Corp

package scsync

import (
	"fmt"
	"hash/fnv"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	json "github.com/segmentio/encoding/json"
)

// Manifest is the end-of-run summary written alongside the two rewritten
// outputs: record counts, the anomaly tally, the rolling checksum, and the
// bit pattern downstream tooling can use to recognize depth-injected
// TRADES records.
type Manifest struct {
	Status               string         `json:"status"`
	Reason               string         `json:"reason,omitempty"`
	TradeInCount         int            `json:"trade_in_count"`
	DepthInCount         int            `json:"depth_in_count"`
	TradeOutCount        int            `json:"trade_out_count"`
	DepthOutCount        int            `json:"depth_out_count"`
	DepthBatchCount      int            `json:"depth_batch_count"`
	Anomalies            map[string]int `json:"anomalies"`
	RollingHash          uint64         `json:"rolling_hash"`
	DepthInjectedPattern uint32         `json:"depth_injected_open_pattern"`
}

// BuildManifest turns a RunResult into its serializable Manifest, computing
// the rolling hash over the emitted event sequence. tradeInCount and
// depthInCount are the record counts the scanners actually consumed from
// the two input streams, recorded alongside the output counts so a reader
// of the manifest can check the record-count invariant without re-reading
// either file.
func BuildManifest(result RunResult, tradeInCount, depthInCount int) Manifest {
	anomalies := make(map[string]int, len(result.Anomalies))
	for k, v := range result.Anomalies {
		anomalies[k.String()] = v
	}
	return Manifest{
		Status:               result.Status.String(),
		Reason:               result.Reason,
		TradeInCount:         tradeInCount,
		DepthInCount:         depthInCount,
		TradeOutCount:        result.TradeOutCount,
		DepthOutCount:        result.DepthOutCount,
		DepthBatchCount:      result.DepthBatchCount,
		Anomalies:            anomalies,
		RollingHash:          rollingHash(result.EmittedEvents),
		DepthInjectedPattern: sentinelDepthInjected,
	}
}

// rollingHash folds (ns_timestamp, kind, key_fields) for every emitted
// event, in emission order, into a single 64-bit FNV-1a hash.
func rollingHash(events []UnifiedEvent) uint64 {
	h := fnv.New64a()
	var buf [32]byte
	for _, e := range events {
		n := 0
		putUint64(buf[n:], uint64(e.Nanosecond))
		n += 8
		buf[n] = byte(e.Kind)
		n++
		switch e.Kind {
		case EventDepthRecord:
			buf[n] = byte(e.Depth.Command)
			n++
			putUint32(buf[n:], float32bits(e.Depth.Price))
			n += 4
			putUint32(buf[n:], e.Depth.Quantity)
			n += 4
		default:
			putUint32(buf[n:], float32bits(e.Trade.Open))
			n += 4
			putUint32(buf[n:], float32bits(e.Trade.Close))
			n += 4
		}
		h.Write(buf[:n])
	}
	return h.Sum64()
}

// WriteManifest marshals m as indented JSON and writes it to path.
func WriteManifest(path string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %v", ErrIoError, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("%w: write manifest: %v", ErrIoError, err)
	}
	return nil
}

// Summary renders a one-line, human-readable description of the manifest,
// suitable for a run's final log line.
func (m Manifest) Summary() string {
	return fmt.Sprintf("status=%s trades=%s depth=%s batches=%s anomalies=%s hash=%x",
		m.Status,
		humanize.Comma(int64(m.TradeOutCount)),
		humanize.Comma(int64(m.DepthOutCount)),
		humanize.Comma(int64(m.DepthBatchCount)),
		humanize.Comma(int64(totalAnomalies(m.Anomalies))),
		m.RollingHash,
	)
}

func totalAnomalies(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

// Verify re-reads the two rewritten outputs and checks the invariants a
// correct run must satisfy: headers parse, output record counts match the
// manifest's expectations, the rewritten counts tie back to what was
// actually read from the two inputs (tradeInCount, depthInCount — no
// record dropped or duplicated across the rewrite), and every DEPTH record's
// reserved field is zero. It also checks that the run's emitted event
// sequence (result.EmittedEvents, not the re-read files) is strictly
// monotonic in nanoseconds.
func Verify(tradesPath, depthPath string, result RunResult, tradeInCount, depthInCount int) error {
	tf, err := os.Open(tradesPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	defer tf.Close()
	ts, err := NewTradesScanner(tf)
	if err != nil {
		return err
	}
	tradeCount := 0
	for ts.Next() {
		tradeCount++
	}
	if err := ts.Err(); err != nil {
		return err
	}

	df, err := os.Open(depthPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	defer df.Close()
	ds, err := NewDepthScanner(df)
	if err != nil {
		return err
	}
	depthCount := 0
	batchCount := 0
	for ds.Next() {
		batchCount++
		for _, rec := range ds.Batch().Records {
			if rec.Reserved != 0 {
				return fmt.Errorf("depth record %d: reserved field not zero", rec.Seq)
			}
			depthCount++
		}
	}
	if err := ds.Err(); err != nil {
		return err
	}

	if result.Status == StatusComplete {
		if depthCount != result.DepthOutCount {
			return fmt.Errorf("depth_out_count mismatch: file has %d, run emitted %d", depthCount, result.DepthOutCount)
		}
		if tradeCount != result.TradeOutCount {
			return fmt.Errorf("trade_out_count mismatch: file has %d, run emitted %d", tradeCount, result.TradeOutCount)
		}
		if batchCount != result.DepthBatchCount {
			return fmt.Errorf("depth_batch_count mismatch: file has %d, run emitted %d", batchCount, result.DepthBatchCount)
		}
	}

	// Tie the rewrite back to the inputs: every DEPTH record read must
	// appear exactly once in the output, and every TRADES record read must
	// appear exactly once plus one injected record per depth batch.
	if depthCount != depthInCount {
		return fmt.Errorf("depth_out_count mismatch: output has %d depth records, input had %d", depthCount, depthInCount)
	}
	if tradeCount != tradeInCount+batchCount {
		return fmt.Errorf("trade_out_count mismatch: output has %d trade records, expected input %d plus %d injected batch records", tradeCount, tradeInCount, batchCount)
	}

	if err := checkMonotonic(result.EmittedEvents); err != nil {
		return err
	}
	return nil
}

func checkMonotonic(events []UnifiedEvent) error {
	var prev int64
	have := false
	for _, e := range events {
		if have && e.Nanosecond <= prev {
			return fmt.Errorf("non-monotonic timeline at ns=%d (previous ns=%d)", e.Nanosecond, prev)
		}
		prev = e.Nanosecond
		have = true
	}
	return nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}
