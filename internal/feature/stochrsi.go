package feature

import "math"

// StochRSIParams configures ComputeStochRSI, mirroring
// original_source/features/indicators/stochrsi.py's compute_stoch_rsi().
type StochRSIParams struct {
	RSIPeriod   int    // default 14
	StochPeriod int    // default 14
	SmoothK     int    // default 3
	SmoothD     int    // default 3
	Method      Method // RSI smoothing method, default MethodWilder
	Fisher      bool   // also emit the Fisher-transformed %K
}

func (p StochRSIParams) withDefaults() StochRSIParams {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.StochPeriod <= 0 {
		p.StochPeriod = 14
	}
	if p.SmoothK <= 0 {
		p.SmoothK = 3
	}
	if p.SmoothD <= 0 {
		p.SmoothD = 3
	}
	if p.Method == "" {
		p.Method = MethodWilder
	}
	return p
}

// StochRSIResult holds the parallel output columns.
type StochRSIResult struct {
	RSI    []float64
	K      []float64
	D      []float64
	Fisher []float64 // nil unless requested
}

// computeRSI is the classic Wilder RSI: average gain / average loss over
// Period, smoothed by the selected method.
func computeRSI(close []float64, period int, method Method) []float64 {
	n := len(close)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	avgGain := smooth(gains, period, method)
	avgLoss := smooth(losses, period, method)

	rsi := fullNaN(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) {
			continue
		}
		if avgLoss[i] == 0 {
			rsi[i] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		rsi[i] = 100 - 100/(1+rs)
	}
	return rsi
}

// ComputeStochRSI ports compute_stoch_rsi(): the stochastic oscillator
// applied to RSI (rather than price), with %K/%D smoothing and an optional
// Fisher transform of %K for a more Gaussian-shaped signal.
func ComputeStochRSI(b *Bars, p StochRSIParams) *StochRSIResult {
	p = p.withDefaults()
	rsi := computeRSI(b.Close, p.RSIPeriod, p.Method)

	rsiHigh := rollingMax(rsi, p.StochPeriod)
	rsiLow := rollingMin(rsi, p.StochPeriod)

	n := b.Len()
	rawK := fullNaN(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(rsiHigh[i]) || math.IsNaN(rsiLow[i]) {
			continue
		}
		span := rsiHigh[i] - rsiLow[i]
		if span == 0 {
			rawK[i] = 0
			continue
		}
		rawK[i] = 100 * (rsi[i] - rsiLow[i]) / span
	}

	k := smooth(rawK, p.SmoothK, MethodSMA)
	d := smooth(k, p.SmoothD, MethodSMA)

	res := &StochRSIResult{RSI: rsi, K: k, D: d}
	if p.Fisher {
		fisher := fullNaN(n)
		for i, v := range k {
			if math.IsNaN(v) {
				continue
			}
			x := 2*(v/100) - 1
			x = clampUnit(x)
			fisher[i] = 0.5 * math.Log((1+x)/(1-x))
		}
		res.Fisher = fisher
	}
	return res
}

func clampUnit(x float64) float64 {
	const eps = 0.999
	if x > eps {
		return eps
	}
	if x < -eps {
		return -eps
	}
	return x
}

// StochRSIState is the streaming counterpart to ComputeStochRSI. Like
// IchimokuState, it retains a rolling window (size StochPeriod+warm-up) to
// support the %K/%D smoothing and Fisher transform rather than true O(1)
// memory, matching the original's buffered streaming state.
type StochRSIState struct {
	params StochRSIParams
	closes []float64
}

// NewStochRSIState constructs a streaming StochRSI tracker.
func NewStochRSIState(p StochRSIParams) *StochRSIState {
	return &StochRSIState{params: p.withDefaults()}
}

// Update feeds one close price and returns (rsi, k, d, fisher) as of this
// bar; fisher is NaN if Fisher was not requested.
func (s *StochRSIState) Update(close float64) (rsi, k, d, fisher float64) {
	s.closes = append(s.closes, close)
	maxLen := s.params.RSIPeriod + s.params.StochPeriod + s.params.SmoothK + s.params.SmoothD + 8
	if len(s.closes) > maxLen*2 {
		s.closes = s.closes[len(s.closes)-maxLen*2:]
	}
	bars := &Bars{Close: s.closes}
	full := ComputeStochRSI(bars, s.params)
	last := len(full.RSI) - 1
	rsi, k, d = full.RSI[last], full.K[last], full.D[last]
	if full.Fisher != nil {
		fisher = full.Fisher[last]
	} else {
		fisher = math.NaN()
	}
	return
}
