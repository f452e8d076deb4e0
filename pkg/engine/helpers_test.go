package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// stubProvider serves fixed bars per ticker
type stubProvider struct {
	bars map[string][]series.Bar
}

func (p stubProvider) Bars(ticker string) ([]series.Bar, error) {
	bars, ok := p.bars[ticker]
	if !ok {
		return nil, series.ErrNoData
	}
	return bars, nil
}

// barsFromCloses builds one bar per close, open equal to close, on
// consecutive dates
func barsFromCloses(closes []float64) []series.Bar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]series.Bar, len(closes))
	for i, c := range closes {
		bars[i] = series.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

// newTestCache builds a cache over per-ticker close sequences; all
// sequences must have equal length so the calendars align fully
func newTestCache(t *testing.T, closes map[string][]float64) *series.Cache {
	t.Helper()
	bars := make(map[string][]series.Bar, len(closes))
	tickers := make([]string, 0, len(closes))
	for ticker, c := range closes {
		bars[ticker] = barsFromCloses(c)
		tickers = append(tickers, ticker)
	}
	cache, err := series.NewCache(stubProvider{bars: bars}, tickers)
	require.NoError(t, err)
	return cache
}

func leaf(id, ticker string) *strategy.Node {
	return &strategy.Node{
		ID:   id,
		Kind: strategy.KindLeafPosition,
		Leaf: &strategy.LeafSpec{Ticker: ticker},
	}
}

func priceLine(id string, comb strategy.Combinator, ticker string, cmp strategy.Comparator, threshold float64) strategy.ConditionLine {
	return strategy.ConditionLine{
		ID:         id,
		Combinator: comb,
		Ticker:     ticker,
		Metric:     series.MetricPrice,
		Comparator: cmp,
		Threshold:  &threshold,
	}
}

func constSlice(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
