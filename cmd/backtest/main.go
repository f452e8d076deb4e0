// Backtest Runner CLI
// Simulates a strategy tree on historical data and reports performance
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Belfering/QuantNexus-sub009/internal/marketdata"
	"github.com/Belfering/QuantNexus-sub009/pkg/engine"
	"github.com/Belfering/QuantNexus-sub009/pkg/series"
	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	treeFile = flag.String("tree", "", "Path to strategy tree JSON file")
	dataDir  = flag.String("data", "./data", "Directory of <TICKER>.csv files")

	initialCapital = flag.Float64("capital", 10000.0, "Initial capital in USD")
	costBps        = flag.Float64("cost", 0.0, "Round-trip transaction cost in basis points of turnover")
	timing         = flag.String("timing", "closeToClose", "Return timing (closeToClose, openToOpen, closeToOpen, openToClose)")
	benchmark      = flag.String("benchmark", "", "Benchmark ticker for beta-based ratios (optional)")

	outputFile = flag.String("output", "", "Output file for results (optional)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *treeFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -tree flag is required")
		flag.Usage()
		os.Exit(1)
	}

	tree, err := loadTree(*treeFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy tree")
	}

	log.Info().
		Str("tree", *treeFile).
		Strs("tickers", tree.Tickers()).
		Float64("capital", *initialCapital).
		Str("timing", *timing).
		Msg("Starting backtest")

	if err := runBacktest(context.Background(), tree); err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	log.Info().Msg("Backtest completed successfully")
}

// ============================================================================
// BACKTEST EXECUTION
// ============================================================================

func runBacktest(ctx context.Context, tree *strategy.Tree) error {
	tickers := tree.Tickers()
	if *benchmark != "" {
		tickers = append(tickers, *benchmark)
	}

	provider := marketdata.NewCSVProvider(*dataDir)
	cache, err := series.NewCache(provider, tickers)
	if err != nil {
		return fmt.Errorf("failed to load market data: %w", err)
	}

	log.Info().
		Int("tickers", len(tickers)).
		Int("days", cache.Days()).
		Msg("Loaded market data")

	runConfig := engine.RunConfig{
		InitialCapital: *initialCapital,
		CostBps:        *costBps,
		Timing:         engine.Timing(*timing),
		Benchmark:      *benchmark,
	}
	if !runConfig.Timing.Valid() {
		return fmt.Errorf("invalid timing: %q", *timing)
	}

	runner := engine.NewRunner(cache, tree, runConfig)
	result, err := runner.Run(ctx, 0, cache.Days())
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	metrics, err := engine.CalculateMetrics(result, 0, len(result.Days))
	if err != nil {
		return fmt.Errorf("failed to calculate metrics: %w", err)
	}

	report := generateReport(metrics, runConfig)
	fmt.Println(report)

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(report), 0644); err != nil {
			log.Warn().Err(err).Str("file", *outputFile).Msg("Failed to write output file")
		} else {
			log.Info().Str("file", *outputFile).Msg("Report written to file")
		}
	}

	return nil
}

// loadTree reads and validates a strategy tree document
func loadTree(path string) (*strategy.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree file: %w", err)
	}

	var tree strategy.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse tree file: %w", err)
	}

	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return &tree, nil
}
