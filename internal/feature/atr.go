package feature

import "math"

// ATRParams configures ComputeATR, mirroring original_source's
// features/indicators/atr.py compute_atr() keyword arguments.
type ATRParams struct {
	Period  int    // default 14
	Method  Method // default MethodWilder
	NATR    bool   // also emit NATR = 100 * ATR / close
	Bands   bool   // also emit upper/lower = close +/- ATR*BandMultiple
	BandMul float64
}

func (p ATRParams) withDefaults() ATRParams {
	if p.Period <= 0 {
		p.Period = 14
	}
	if p.Method == "" {
		p.Method = MethodWilder
	}
	if p.BandMul <= 0 {
		p.BandMul = 2.0
	}
	return p
}

// ATRResult holds the parallel output columns, each the same length as the
// input bars, left-padded with NaN during warm-up.
type ATRResult struct {
	TR    []float64
	ATR   []float64
	NATR  []float64 // nil unless requested
	Upper []float64 // nil unless requested
	Lower []float64 // nil unless requested
}

// trueRange computes the Wilder true range series:
// max(high-low, |high-prevClose|, |low-prevClose|), with the first bar's TR
// equal to high-low (no previous close available).
func trueRange(high, low, close []float64) []float64 {
	n := len(close)
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// ComputeATR ports compute_atr(): true range smoothed by Wilder's RMA (or EMA
// or SMA), with optional NATR and volatility-band columns.
func ComputeATR(b *Bars, p ATRParams) *ATRResult {
	p = p.withDefaults()
	tr := trueRange(b.High, b.Low, b.Close)
	atr := smooth(tr, p.Period, p.Method)
	res := &ATRResult{TR: tr, ATR: atr}
	if p.NATR {
		natr := fullNaN(len(atr))
		for i, v := range atr {
			if !math.IsNaN(v) && b.Close[i] != 0 {
				natr[i] = 100 * v / b.Close[i]
			}
		}
		res.NATR = natr
	}
	if p.Bands {
		upper := fullNaN(len(atr))
		lower := fullNaN(len(atr))
		for i, v := range atr {
			if math.IsNaN(v) {
				continue
			}
			upper[i] = b.Close[i] + v*p.BandMul
			lower[i] = b.Close[i] - v*p.BandMul
		}
		res.Upper = upper
		res.Lower = lower
	}
	return res
}

// ATRState is the O(1)-per-bar streaming counterpart to ComputeATR, used by
// components that receive one bar at a time instead of a full window.
// Mirrors the original's ATRState dataclass.
type ATRState struct {
	params     ATRParams
	prevClose  float64
	haveClose  bool
	seedBuf    []float64
	seeded     bool
	atr        float64
	count      int
}

// NewATRState constructs a streaming ATR tracker. Call Update once per bar
// in chronological order.
func NewATRState(p ATRParams) *ATRState {
	p = p.withDefaults()
	return &ATRState{params: p}
}

// Update feeds one bar and returns the current ATR (NaN during warm-up).
func (s *ATRState) Update(high, low, close float64) float64 {
	var tr float64
	if !s.haveClose {
		tr = high - low
	} else {
		tr = math.Max(high-low, math.Max(math.Abs(high-s.prevClose), math.Abs(low-s.prevClose)))
	}
	s.prevClose = close
	s.haveClose = true
	s.count++

	if !s.seeded {
		s.seedBuf = append(s.seedBuf, tr)
		if len(s.seedBuf) < s.params.Period {
			return math.NaN()
		}
		var sum float64
		for _, v := range s.seedBuf {
			sum += v
		}
		s.atr = sum / float64(s.params.Period)
		s.seeded = true
		s.seedBuf = nil
		return s.atr
	}

	switch s.params.Method {
	case MethodEMA:
		alpha := 2.0 / (float64(s.params.Period) + 1.0)
		s.atr = (1-alpha)*s.atr + alpha*tr
	case MethodSMA:
		// SMA streaming approximated by Wilder recursion once seeded; a true
		// rolling SMA would need the full window, which streaming callers
		// that chose SMA are expected to retain themselves.
		alpha := float64(s.params.Period-1) / float64(s.params.Period)
		inv := 1.0 / float64(s.params.Period)
		s.atr = alpha*s.atr + inv*tr
	default:
		alpha := float64(s.params.Period-1) / float64(s.params.Period)
		inv := 1.0 / float64(s.params.Period)
		s.atr = alpha*s.atr + inv*tr
	}
	return s.atr
}
