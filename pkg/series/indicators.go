package series

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"gonum.org/v1/gonum/stat"
)

// MACD periods are the conventional 12/26/9; PPO shares the 12/26 pair.
const (
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
)

// tradingDaysPerYear is used to annualize daily return volatility
const tradingDaysPerYear = 252

// compute builds the full aligned indicator series for one key.
// Every output has the same length as bars, with NaN before warm-up.
func compute(metric Metric, window int, bars []Bar) ([]float64, error) {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	switch metric {
	case MetricPrice:
		return closes, nil

	case MetricOpen:
		opens := make([]float64, len(bars))
		for i, b := range bars {
			opens[i] = b.Open
		}
		return opens, nil

	case MetricSMA:
		return runStream(trend.NewSmaWithPeriod[float64](window).Compute, closes), nil

	case MetricEMA:
		return runStream(trend.NewEmaWithPeriod[float64](window).Compute, closes), nil

	case MetricRSI:
		return relativeStrength(closes, window), nil

	case MetricWMA:
		return weightedMA(closes, window), nil

	case MetricHull:
		return hullMA(closes, window), nil

	case MetricMomentum:
		return rateOfChange(closes, window), nil

	case MetricVolatility:
		return realizedVolatility(closes, window), nil

	case MetricDrawdown:
		return rollingDrawdown(closes, window), nil

	case MetricRegSlope:
		return regressionSlope(closes, window), nil

	case MetricAroonUp, MetricAroonDown, MetricAroonOsc:
		return aroon(metric, bars, window), nil

	case MetricMACD, MetricMACDSignal:
		return macdSeries(metric, closes), nil

	case MetricPPO:
		return ppoSeries(closes), nil

	case MetricMFI:
		return moneyFlowIndex(bars, window), nil

	case MetricOBVRoC:
		return obvRateOfChange(bars, window), nil

	case MetricVWAPRatio:
		return vwapRatio(bars), nil

	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
}

// runStream feeds values through a cinar/indicator stage and realigns the
// shortened output to the input length with leading NaNs.
func runStream(stage func(<-chan float64) <-chan float64, values []float64) []float64 {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	collected := make([]float64, 0, len(values))
	for v := range stage(in) {
		collected = append(collected, v)
	}

	out := nanSlice(len(values))
	copy(out[len(values)-len(collected):], collected)
	return out
}

// relativeStrength is Wilder's RSI. A fully flat window has zero
// average gain and zero average loss, which cinar's stream leaves as
// 0/0 NaN; a warmed-up window must always read as a defined value, so
// that case maps to the neutral 50.
func relativeStrength(closes []float64, window int) []float64 {
	in := make(chan float64, len(closes))
	for _, v := range closes {
		in <- v
	}
	close(in)

	collected := make([]float64, 0, len(closes))
	for v := range momentum.NewRsiWithPeriod[float64](window).Compute(in) {
		collected = append(collected, v)
	}

	out := nanSlice(len(closes))
	start := len(closes) - len(collected)
	for i, v := range collected {
		if math.IsNaN(v) {
			v = 50.0
		}
		out[start+i] = v
	}
	return out
}

// macdSeries computes the MACD line or its signal line.
// cinar/indicator emits the two streams in lockstep.
func macdSeries(metric Metric, closes []float64) []float64 {
	in := make(chan float64, len(closes))
	for _, v := range closes {
		in <- v
	}
	close(in)

	macdChan, signalChan := trend.NewMacdWithPeriod[float64](macdFastPeriod, macdSlowPeriod, macdSignalPeriod).Compute(in)

	var collected []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		if metric == MetricMACD {
			collected = append(collected, m)
		} else {
			collected = append(collected, s)
		}
	}

	out := nanSlice(len(closes))
	copy(out[len(closes)-len(collected):], collected)
	return out
}

// ppoSeries is the percentage price oscillator: (EMA12-EMA26)/EMA26 * 100.
// Not available in cinar/indicator v2, so we build it from two EMA stages.
func ppoSeries(closes []float64) []float64 {
	fast := runStream(trend.NewEmaWithPeriod[float64](macdFastPeriod).Compute, closes)
	slow := runStream(trend.NewEmaWithPeriod[float64](macdSlowPeriod).Compute, closes)

	out := nanSlice(len(closes))
	for i := range closes {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) || slow[i] == 0 {
			continue
		}
		out[i] = (fast[i] - slow[i]) / slow[i] * 100.0
	}
	return out
}

// weightedMA is a linearly weighted moving average (newest bar weighted highest)
func weightedMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 1 {
		return out
	}
	denom := float64(window*(window+1)) / 2.0
	for i := window - 1; i < len(values); i++ {
		var sum float64
		for j := 0; j < window; j++ {
			sum += values[i-j] * float64(window-j)
		}
		out[i] = sum / denom
	}
	return out
}

// hullMA is the Hull moving average: WMA(2*WMA(n/2) - WMA(n), sqrt(n))
func hullMA(values []float64, window int) []float64 {
	if window < 2 {
		return nanSlice(len(values))
	}
	half := weightedMA(values, window/2)
	full := weightedMA(values, window)

	diff := nanSlice(len(values))
	for i := range values {
		if !math.IsNaN(half[i]) && !math.IsNaN(full[i]) {
			diff[i] = 2.0*half[i] - full[i]
		}
	}

	smooth := int(math.Round(math.Sqrt(float64(window))))
	if smooth < 1 {
		smooth = 1
	}

	// The diff series has its own warm-up prefix; run the final WMA over
	// the available suffix only.
	start := 0
	for start < len(diff) && math.IsNaN(diff[start]) {
		start++
	}
	out := nanSlice(len(values))
	if start >= len(diff) {
		return out
	}
	tail := weightedMA(diff[start:], smooth)
	copy(out[start:], tail)
	return out
}

// rateOfChange is percent change over window days
func rateOfChange(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 1 {
		return out
	}
	for i := window; i < len(values); i++ {
		if values[i-window] == 0 {
			continue
		}
		out[i] = (values[i]/values[i-window] - 1.0) * 100.0
	}
	return out
}

// realizedVolatility is the annualized standard deviation of daily
// returns over the trailing window, in percent.
func realizedVolatility(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	returns := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns[i] = values[i]/values[i-1] - 1.0
		}
	}
	for i := window; i < len(values); i++ {
		sample := returns[i-window+1 : i+1]
		sd := stat.StdDev(sample, nil)
		out[i] = sd * math.Sqrt(tradingDaysPerYear) * 100.0
	}
	return out
}

// rollingDrawdown is the maximum peak-to-trough decline within the
// trailing window, as a positive percentage.
func rollingDrawdown(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		peak := values[i-window+1]
		var maxDD float64
		for j := i - window + 2; j <= i; j++ {
			if values[j] > peak {
				peak = values[j]
			}
			if peak > 0 {
				dd := (peak - values[j]) / peak
				if dd > maxDD {
					maxDD = dd
				}
			}
		}
		out[i] = maxDD * 100.0
	}
	return out
}

// regressionSlope fits closes over the trailing window against day
// offsets 0..window-1 and reports the fitted slope.
func regressionSlope(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	xs := make([]float64, window)
	for i := range xs {
		xs[i] = float64(i)
	}
	for i := window - 1; i < len(values); i++ {
		sample := values[i-window+1 : i+1]
		_, slope := stat.LinearRegression(xs, sample, nil, false)
		out[i] = slope
	}
	return out
}

// aroon computes Aroon up/down/oscillator over the trailing window
func aroon(metric Metric, bars []Bar, window int) []float64 {
	out := nanSlice(len(bars))
	if window < 1 {
		return out
	}
	for i := window; i < len(bars); i++ {
		sinceHigh, sinceLow := 0, 0
		high, low := bars[i].High, bars[i].Low
		for j := 1; j <= window; j++ {
			if bars[i-j].High > high {
				high = bars[i-j].High
				sinceHigh = j
			}
			if bars[i-j].Low < low {
				low = bars[i-j].Low
				sinceLow = j
			}
		}
		up := float64(window-sinceHigh) / float64(window) * 100.0
		down := float64(window-sinceLow) / float64(window) * 100.0
		switch metric {
		case MetricAroonUp:
			out[i] = up
		case MetricAroonDown:
			out[i] = down
		default:
			out[i] = up - down
		}
	}
	return out
}

// moneyFlowIndex is the volume-weighted RSI analogue over typical price
func moneyFlowIndex(bars []Bar, window int) []float64 {
	out := nanSlice(len(bars))
	if window < 1 {
		return out
	}
	tp := make([]float64, len(bars))
	for i, b := range bars {
		tp[i] = (b.High + b.Low + b.Close) / 3.0
	}
	for i := window; i < len(bars); i++ {
		var posFlow, negFlow float64
		for j := i - window + 1; j <= i; j++ {
			flow := tp[j] * bars[j].Volume
			if tp[j] > tp[j-1] {
				posFlow += flow
			} else if tp[j] < tp[j-1] {
				negFlow += flow
			}
		}
		if posFlow+negFlow == 0 {
			out[i] = 50.0
			continue
		}
		if negFlow == 0 {
			out[i] = 100.0
			continue
		}
		ratio := posFlow / negFlow
		out[i] = 100.0 - 100.0/(1.0+ratio)
	}
	return out
}

// obvRateOfChange is the percent change of on-balance volume over window days
func obvRateOfChange(bars []Bar, window int) []float64 {
	obv := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		obv[i] = obv[i-1]
		if bars[i].Close > bars[i-1].Close {
			obv[i] += bars[i].Volume
		} else if bars[i].Close < bars[i-1].Close {
			obv[i] -= bars[i].Volume
		}
	}
	return rateOfChange(obv, window)
}

// vwapRatio is close divided by the cumulative volume-weighted typical
// price from the start of the series.
func vwapRatio(bars []Bar) []float64 {
	out := nanSlice(len(bars))
	var cumPV, cumVol float64
	for i, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3.0
		cumPV += tp * b.Volume
		cumVol += b.Volume
		if cumVol == 0 {
			continue
		}
		vwap := cumPV / cumVol
		if vwap != 0 {
			out[i] = b.Close / vwap
		}
	}
	return out
}
