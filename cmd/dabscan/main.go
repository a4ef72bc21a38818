// Command dabscan scans a raw MPEG-2 transport stream file for DAB/DAB+
// ensembles, printing every service discovered as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	dab "github.com/L-S-D/libdvbdab"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		timeoutMs = flag.Uint("timeout-ms", 30000, "overall scan timeout in milliseconds")
		pid       = flag.Uint("pid", 0, "restrict to a single PID (used with -format)")
		format    = flag.String("format", "", "force a single-PID format: mpe, bbf, or gse (default: auto-scan all PIDs)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dabscan [flags] <ts-file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	start := time.Now()
	var (
		results []dab.DiscoveredEnsemble
		err     error
	)

	if *format == "" {
		slog.Info("scanning transport stream", "path", path, "timeout_ms", *timeoutMs)
		results, err = dab.ScanTSFile(path, *timeoutMs)
	} else {
		f, ferr := parseFormat(*format)
		if ferr != nil {
			fmt.Fprintln(os.Stderr, ferr)
			os.Exit(2)
		}
		slog.Info("scanning single PID", "path", path, "pid", *pid, "format", *format, "timeout_ms", *timeoutMs)
		results, err = dab.DiscoverEnsembles(path, f, uint16(*pid), *timeoutMs)
	}

	if err != nil {
		slog.Error("scan failed", "error", err)
		os.Exit(1)
	}

	slog.Info("scan complete", "ensembles", len(results), "elapsed", time.Since(start))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		slog.Error("failed to encode results", "error", err)
		os.Exit(1)
	}
}

func parseFormat(s string) (dab.Format, error) {
	switch s {
	case "mpe":
		return dab.FormatMPE, nil
	case "bbf":
		return dab.FormatBBF, nil
	case "gse":
		return dab.FormatGSE, nil
	default:
		return 0, fmt.Errorf("dabscan: unknown format %q (want mpe, bbf, or gse)", s)
	}
}
