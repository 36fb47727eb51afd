package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/tidwall/pretty"

	"github.com/mohamedkhairy/momentum-screener/internal/app"
	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/internal/screener"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
	"github.com/mohamedkhairy/momentum-screener/pkg/magnitude"
)

func main() {
	sample := flag.Int("sample", 0, "number of tickers to sample (0 uses SAMPLE_SIZE)")
	symbols := flag.String("symbols", "", "comma-separated symbols to scan instead of sampling")
	asJSON := flag.Bool("json", false, "print the batch as JSON")
	all := flag.Bool("all", false, "print every scanned row, not only matches")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout stays machine readable
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	screenerApp, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to assemble screener: %v\n", err)
		os.Exit(1)
	}
	defer screenerApp.Close()

	opts := screener.RunOptions{SampleSize: *sample}
	var batch *models.ScanBatch
	if targets := splitSymbols(*symbols); len(targets) > 0 {
		batch, err = screenerApp.Pipeline.RunScanWithTargetSet(ctx, targets, opts)
	} else {
		batch, err = screenerApp.Pipeline.RunScan(ctx, opts)
	}
	if batch == nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		err = printJSON(os.Stdout, batch)
	} else {
		err = printTable(os.Stdout, batch, *all)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		os.Exit(1)
	}
	if batch.Error != "" {
		os.Exit(1)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func printJSON(w io.Writer, batch *models.ScanBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

// rankRows orders rows by change descending with matches first
func rankRows(batch *models.ScanBatch, all bool) []models.ScanRow {
	var rows []models.ScanRow
	if all {
		rows = append(rows, batch.Rows...)
	} else {
		rows = batch.Matches()
	}
	screener.SortRows(rows, screener.SortByChange)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].MatchesCriteria && !rows[j].MatchesCriteria
	})
	return rows
}

func printTable(w io.Writer, batch *models.ScanBatch, all bool) error {
	fmt.Fprintf(w, "Batch %s  policy=%s  rows=%d  matches=%d\n",
		batch.ID, batch.Policy, len(batch.Rows), len(batch.Matches()))
	if batch.Fallback {
		fmt.Fprintln(w, "Ticker source unavailable, fallback universe used")
	}
	for _, warning := range batch.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if batch.Error != "" {
		fmt.Fprintf(w, "error: %s\n", batch.Error)
	}

	rows := rankRows(batch, all)
	if len(rows) == 0 {
		fmt.Fprintln(w, "No matching symbols")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSYMBOL\tPRICE\tCHANGE%\tVOLUME\tREL VOL\tFLOAT\tMATCH\tCATALYST")
	for _, r := range rows {
		match := ""
		if r.MatchesCriteria {
			match = "yes"
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%+.2f\t%s\t%.1fx\t%s\t%s\t%s\n",
			r.Symbol,
			r.Price,
			r.ChangePct,
			magnitude.Format(r.Volume),
			r.RelVolume,
			r.Float,
			match,
			r.Catalyst,
		)
	}
	return tw.Flush()
}
