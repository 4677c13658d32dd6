// Package statarb is the Z-Score Engine: it tests pairs for cointegration
// and computes rolling z-scores and trading signals from tracked price
// history, per `spec.md` §4.3.
package statarb

import (
	"math"

	"github.com/flowbase/arb-engine/internal/arb"
)

// defaultWindow is the default cointegration lookback L, per `spec.md` §4.3.
const defaultWindow = 500

// adfCriticalValues are the augmented Dickey-Fuller-style critical values at
// 1%, 5%, 10%, per `spec.md` §4.3. Only the 1% value gates rejection.
var adfCriticalValues = [3]float64{-3.43, -2.86, -2.57}

// Engine tests pairs for cointegration and computes z-score signals.
type Engine struct {
	window          int
	entryThreshold  float64
	exitThreshold   float64
}

// New builds a Z-Score Engine with a cointegration lookback of window
// samples (defaulted to 500 when <= 0).
func New(window int, entryThreshold, exitThreshold float64) *Engine {
	if window <= 0 {
		window = defaultWindow
	}
	return &Engine{window: window, entryThreshold: entryThreshold, exitThreshold: exitThreshold}
}

// TestCointegration runs the five-step test from `spec.md` §4.3 over aligned
// price series for tokens A and B. pricesA and pricesB must be the same
// length, oldest-first.
func (e *Engine) TestCointegration(pricesA, pricesB []float64) arb.Cointegration {
	result := arb.Cointegration{Tested: true}

	n := len(pricesA)
	if n != len(pricesB) || n == 0 {
		return result
	}

	minSamples := int(0.8 * float64(e.window))
	if n < minSamples {
		return result
	}

	logA := make([]float64, n)
	logB := make([]float64, n)
	for i := 0; i < n; i++ {
		logA[i] = math.Log(pricesA[i])
		logB[i] = math.Log(pricesB[i])
	}

	slope, intercept, rSquared := olsRegression(logB, logA)
	result.Slope = slope
	result.Intercept = intercept
	result.RSquared = rSquared

	residuals := make([]float64, n)
	for i := 0; i < n; i++ {
		residuals[i] = logA[i] - (slope*logB[i] + intercept)
	}

	adfStat := adfStatistic(residuals)
	result.ADFStatistic = adfStat
	if adfStat > adfCriticalValues[0] {
		return result
	}

	halfLife := meanReversionHalfLife(residuals)
	result.HalfLife = halfLife
	if halfLife > 100 {
		return result
	}

	hurst := hurstExponent(residuals)
	result.HurstExponent = hurst
	if hurst > 0.7 {
		return result
	}

	result.IsCointegrated = true
	return result
}

// olsRegression performs a closed-form ordinary least squares regression of
// y on x, returning (slope, intercept, R-squared).
func olsRegression(x, y []float64) (slope, intercept, rSquared float64) {
	n := float64(len(x))
	if n == 0 {
		return 0, 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}

	meanX := sumX / n
	meanY := sumY / n

	denom := sumXX - n*meanX*meanX
	if denom == 0 {
		return 0, meanY, 0
	}

	slope = (sumXY - n*meanX*meanY) / denom
	intercept = meanY - slope*meanX

	var ssRes, ssTot float64
	for i := range x {
		predicted := slope*x[i] + intercept
		ssRes += (y[i] - predicted) * (y[i] - predicted)
		ssTot += (y[i] - meanY) * (y[i] - meanY)
	}
	if ssTot == 0 {
		rSquared = 0
	} else {
		rSquared = 1 - ssRes/ssTot
	}

	return slope, intercept, rSquared
}

// adfStatistic computes an augmented Dickey-Fuller-style statistic at lag 1:
// regress Δr_i on r_{i-1} and standardize the resulting slope by its
// standard error.
func adfStatistic(residuals []float64) float64 {
	n := len(residuals)
	if n < 3 {
		return 0
	}

	lagged := residuals[:n-1]
	delta := make([]float64, n-1)
	for i := 1; i < n; i++ {
		delta[i-1] = residuals[i] - residuals[i-1]
	}

	slope, intercept, _ := olsRegression(lagged, delta)

	var ssRes, sumLaggedSq, meanLagged float64
	for _, v := range lagged {
		meanLagged += v
	}
	meanLagged /= float64(len(lagged))

	for i, v := range lagged {
		predicted := slope*v + intercept
		ssRes += (delta[i] - predicted) * (delta[i] - predicted)
		sumLaggedSq += (v - meanLagged) * (v - meanLagged)
	}

	if len(lagged) <= 2 || sumLaggedSq == 0 {
		return 0
	}

	variance := ssRes / float64(len(lagged)-2)
	stdErr := math.Sqrt(variance / sumLaggedSq)
	if stdErr == 0 {
		return 0
	}

	return slope / stdErr
}

// meanReversionHalfLife computes halfLife = ln(2) / |lambda| with
// lambda = sum(delta_i * r_{i-1}) / sum(r_i^2), per `spec.md` §4.3.
func meanReversionHalfLife(residuals []float64) float64 {
	n := len(residuals)
	if n < 2 {
		return math.Inf(1)
	}

	var numerator, denominator float64
	for i := 1; i < n; i++ {
		delta := residuals[i] - residuals[i-1]
		numerator += delta * residuals[i-1]
		denominator += residuals[i-1] * residuals[i-1]
	}

	if denominator == 0 {
		return math.Inf(1)
	}

	lambda := numerator / denominator
	if lambda == 0 {
		return math.Inf(1)
	}

	return math.Log(2) / math.Abs(lambda)
}

// hurstExponent estimates the Hurst exponent via rescaled-range analysis on
// the cumulative demeaned residual series.
func hurstExponent(residuals []float64) float64 {
	n := len(residuals)
	if n < 10 {
		return 0.5
	}

	var mean float64
	for _, v := range residuals {
		mean += v
	}
	mean /= float64(n)

	cumulative := make([]float64, n)
	var running float64
	for i, v := range residuals {
		running += v - mean
		cumulative[i] = running
	}

	maxV, minV := cumulative[0], cumulative[0]
	for _, v := range cumulative {
		if v > maxV {
			maxV = v
		}
		if v < minV {
			minV = v
		}
	}
	r := maxV - minV

	var variance float64
	for _, v := range residuals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	s := math.Sqrt(variance)

	if s == 0 || r == 0 {
		return 0.5
	}

	rs := r / s
	return math.Log(rs) / math.Log(float64(n))
}

// Snapshot computes the rolling z-score and trading signal for a
// cointegrated pair at the current ratio, given its historical ratio
// sample ring, per `spec.md` §4.3.
func (e *Engine) Snapshot(coint arb.Cointegration, currentRatio float64, historicalRatios []float64) *arb.ZScoreSnapshot {
	minSamples := int(0.7 * float64(e.window))
	if len(historicalRatios) < minSamples {
		return nil
	}

	mean, stddev := meanStdDev(historicalRatios)

	if stddev == 0 {
		return &arb.ZScoreSnapshot{Signal: arb.SignalHold, Mean: mean, StdDev: 0}
	}

	z := (currentRatio - mean) / stddev

	signal := arb.SignalHold
	switch {
	case z > e.entryThreshold:
		signal = arb.SignalShortALongB
	case z < -e.entryThreshold:
		signal = arb.SignalLongAShortB
	case math.Abs(z) < e.exitThreshold:
		signal = arb.SignalClosePosition
	}

	confidence := confidenceFromSignal(z, coint.HurstExponent, coint.HalfLife)

	return &arb.ZScoreSnapshot{
		Z:          z,
		Mean:       mean,
		StdDev:     stddev,
		Signal:     signal,
		Confidence: confidence,
	}
}

// confidenceFromSignal implements `spec.md` §4.3's confidence formula.
func confidenceFromSignal(z, hurst, halfLife float64) float64 {
	confidence := math.Min(math.Abs(z)/4, 1)

	switch {
	case hurst < 0.4:
		confidence *= 1.2
	case hurst > 0.6:
		confidence *= 0.8
	}

	switch {
	case halfLife < 10:
		confidence *= 1.3
	case halfLife > 30:
		confidence *= 0.7
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func meanStdDev(values []float64) (mean, stddev float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}

	for _, v := range values {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	if n > 1 {
		variance /= n - 1
	}

	return mean, math.Sqrt(variance)
}
