// Copyright (c) 2025 Neomantra Corp

// Command scsync synchronizes one day's TRADES and DEPTH files for a single
// futures contract, writing rewritten, time-aligned copies of both plus a
// JSON run manifest.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/neomantra/ymdflag"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scquant/scsync"
	"github.com/scquant/scsync/internal/collab"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dir     string
		symbol  string
		dateYMD uint32
		zstdOut bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "scsync",
		Short: "Synchronize a day's TRADES and DEPTH files onto one timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := scsync.NewDefaultLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			date := ymdflag.YMDToTime(dateYMD)
			locator := collab.FileLocator{Dir: dir}
			clock := collab.UTCClockSource{Day: date}
			sink := collab.LoggingDiagnosticsSink{Log: log}

			return runOne(log, locator, clock, sink, symbol, date, zstdOut)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory holding the input and output files")
	cmd.Flags().StringVar(&symbol, "symbol", "", "contract symbol, e.g. ESZ4 (required)")
	cmd.Flags().Uint32Var(&dateYMD, "date", ymdflag.TimeToYMD(time.Now().UTC()), "day to synchronize, YYYYMMDD (UTC)")
	cmd.Flags().BoolVar(&zstdOut, "zstd", false, "zstd-compress the rewritten outputs (the manifest is written uncompressed)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level console logging")
	cmd.MarkFlagRequired("symbol")

	return cmd
}

func runOne(log *zap.Logger, locator collab.FileLocator, clock collab.UTCClockSource, sink collab.LoggingDiagnosticsSink, symbol string, date time.Time, zstdOut bool) error {
	tradesInPath := locator.TradesInPath(symbol, date)
	depthInPath := locator.DepthInPath(symbol, date)
	tradesOutPath := locator.TradesOutPath(symbol, date)
	depthOutPath := locator.DepthOutPath(symbol, date)

	tradesIn, tradesCloser, err := scsync.MakeCompressedReader(tradesInPath, false)
	if err != nil {
		return fmt.Errorf("opening %s: %w", tradesInPath, err)
	}
	defer closeReader(tradesCloser)

	depthIn, depthCloser, err := scsync.MakeCompressedReader(depthInPath, false)
	if err != nil {
		return fmt.Errorf("opening %s: %w", depthInPath, err)
	}
	defer closeReader(depthCloser)

	tradesScanner, err := scsync.NewTradesScanner(tradesIn)
	if err != nil {
		return fmt.Errorf("reading %s: %w", tradesInPath, err)
	}
	depthScanner, err := scsync.NewDepthScanner(depthIn)
	if err != nil {
		return fmt.Errorf("reading %s: %w", depthInPath, err)
	}

	synchronizer := scsync.NewSynchronizer(tradesScanner, depthScanner, clock, sink, log)
	result, err := synchronizer.Run()
	if err != nil {
		return fmt.Errorf("synchronizing %s/%s: %w", symbol, date.Format("2006-01-02"), err)
	}
	log.Info("run finished", zap.String("status", result.Status.String()), zap.String("symbol", symbol))

	tradesOutTmp := tradesOutPath + ".tmp"
	depthOutTmp := depthOutPath + ".tmp"

	if err := writeOutputs(tradesScanner, depthScanner, result, tradesOutTmp, depthOutTmp, zstdOut); err != nil {
		os.Remove(tradesOutTmp)
		os.Remove(depthOutTmp)
		return err
	}
	if err := os.Rename(tradesOutTmp, tradesOutPath); err != nil {
		return fmt.Errorf("%w: %v", scsync.ErrOutputRenameFail, err)
	}
	if err := os.Rename(depthOutTmp, depthOutPath); err != nil {
		return fmt.Errorf("%w: %v", scsync.ErrOutputRenameFail, err)
	}

	tradeInCount := tradesScanner.Count()
	depthInCount := depthScanner.RecordCount()

	manifest := scsync.BuildManifest(result, tradeInCount, depthInCount)
	manifestPath := tradesOutPath + ".manifest.json"
	if err := scsync.WriteManifest(manifestPath, manifest); err != nil {
		return err
	}
	log.Info("manifest written", zap.String("path", manifestPath), zap.String("summary", manifest.Summary()))

	if err := scsync.Verify(tradesOutPath, depthOutPath, result, tradeInCount, depthInCount); err != nil {
		log.Error("verification failed", zap.Error(err))
		return err
	}
	return nil
}

func writeOutputs(tradesScanner *scsync.TradesScanner, depthScanner *scsync.DepthScanner, result scsync.RunResult, tradesOutPath, depthOutPath string, zstdOut bool) error {
	tradesOut, tradesCloser, err := scsync.MakeCompressedWriter(tradesOutPath, zstdOut)
	if err != nil {
		return err
	}
	defer closeIfCloser(tradesCloser)

	depthOut, depthCloser, err := scsync.MakeCompressedWriter(depthOutPath, zstdOut)
	if err != nil {
		return err
	}
	defer closeIfCloser(depthCloser)

	tradesEnc, err := scsync.NewTradesEncoder(tradesOut, tradesScanner.Header())
	if err != nil {
		return err
	}
	depthEnc, err := scsync.NewDepthEncoder(depthOut, depthScanner.Header())
	if err != nil {
		return err
	}

	var pendingBatch []scsync.DepthRecord
	currentBatch := -1
	for _, e := range result.EmittedEvents {
		switch e.Kind {
		case scsync.EventDepthRecord:
			if e.BatchSeq != currentBatch && len(pendingBatch) > 0 {
				if err := depthEnc.WriteBatch(pendingBatch); err != nil {
					return err
				}
				pendingBatch = nil
			}
			currentBatch = e.BatchSeq
			pendingBatch = append(pendingBatch, e.Depth)
			if e.BatchLast {
				if err := depthEnc.WriteBatch(pendingBatch); err != nil {
					return err
				}
				pendingBatch = nil
			}
		default:
			if err := tradesEnc.WriteRecord(e.Trade); err != nil {
				return err
			}
		}
	}
	if len(pendingBatch) > 0 {
		if err := depthEnc.WriteBatch(pendingBatch); err != nil {
			return err
		}
	}
	return nil
}

func closeIfCloser(closer func()) {
	if closer != nil {
		closer()
	}
}

func closeReader(closer io.Closer) {
	if closer != nil {
		closer.Close()
	}
}
