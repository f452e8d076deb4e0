// Package marketdata supplies daily OHLCV bars to the series cache.
// The only implementation reads one CSV file per ticker from a data
// directory.
package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
)

// CSVProvider loads bars from <dir>/<TICKER>.csv files.
// CSV format: date,open,high,low,close,volume with a header row;
// date is YYYY-MM-DD.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider over a data directory
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

// Bars reads and parses the ticker's file. A missing file maps to
// series.ErrNoData so callers can distinguish absent tickers from
// corrupt ones.
func (p *CSVProvider) Bars(ticker string) ([]series.Bar, error) {
	path := filepath.Join(p.dir, ticker+".csv")
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", series.ErrNoData, ticker)
		}
		return nil, fmt.Errorf("failed to open data file for %s: %w", ticker, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header row
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header for %s: %w", ticker, err)
	}
	expected := []string{"date", "open", "high", "low", "close", "volume"}
	if len(header) < len(expected) {
		return nil, fmt.Errorf("invalid CSV header for %s: expected %v, got %v", ticker, expected, header)
	}

	var bars []series.Bar
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record for %s at line %d: %w", ticker, lineNum, err)
		}
		lineNum++

		if len(record) < 6 {
			log.Warn().Str("ticker", ticker).Int("line", lineNum).Msg("Skipping incomplete CSV record")
			continue
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[0]))
		if err != nil {
			log.Warn().Str("ticker", ticker).Int("line", lineNum).Str("date", record[0]).Msg("Failed to parse date, skipping")
			continue
		}

		fields := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			fields[i], err = strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				log.Warn().Str("ticker", ticker).Int("line", lineNum).Str("field", expected[i+1]).Msg("Failed to parse value, skipping")
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		bars = append(bars, series.Bar{
			Date:   date,
			Open:   fields[0],
			High:   fields[1],
			Low:    fields[2],
			Close:  fields[3],
			Volume: fields[4],
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", series.ErrNoData, ticker)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	log.Debug().
		Str("ticker", ticker).
		Int("bars", len(bars)).
		Time("start", bars[0].Date).
		Time("end", bars[len(bars)-1].Date).
		Msg("Loaded bars from CSV")

	return bars, nil
}

// Tickers lists every ticker present in the data directory
func (p *CSVProvider) Tickers() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	var tickers []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		tickers = append(tickers, strings.TrimSuffix(name, ".csv"))
	}
	sort.Strings(tickers)
	return tickers, nil
}
