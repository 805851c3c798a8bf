package feature

// IchimokuParams configures ComputeIchimoku, mirroring the periods in
// original_source/features/indicators/ichimoku.py's compute_ichimoku().
type IchimokuParams struct {
	Tenkan  int // conversion line period, default 9
	Kijun   int // base line period, default 26
	SenkouB int // leading span B period, default 52
	Shift   int // forward/backward displacement, default Kijun
}

func (p IchimokuParams) withDefaults() IchimokuParams {
	if p.Tenkan <= 0 {
		p.Tenkan = 9
	}
	if p.Kijun <= 0 {
		p.Kijun = 26
	}
	if p.SenkouB <= 0 {
		p.SenkouB = 52
	}
	if p.Shift <= 0 {
		p.Shift = p.Kijun
	}
	return p
}

// IchimokuResult holds the five canonical Ichimoku lines. SenkouA/SenkouB are
// shifted forward by Shift bars (projected into the future, i.e. index i
// holds the value computed i-Shift bars ago's midpoint); Chikou is the
// close shifted backward by Shift bars.
type IchimokuResult struct {
	Tenkan   []float64
	Kijun    []float64
	SenkouA  []float64
	SenkouB  []float64
	Chikou   []float64
}

// ComputeIchimoku ports compute_ichimoku(): three donchian-style midpoints
// (tenkan, kijun, senkou B) plus their derived cloud and lagging lines.
func ComputeIchimoku(b *Bars, p IchimokuParams) *IchimokuResult {
	p = p.withDefaults()

	tenkanHigh := rollingMax(b.High, p.Tenkan)
	tenkanLow := rollingMin(b.Low, p.Tenkan)
	tenkan := midpoint(tenkanHigh, tenkanLow)

	kijunHigh := rollingMax(b.High, p.Kijun)
	kijunLow := rollingMin(b.Low, p.Kijun)
	kijun := midpoint(kijunHigh, kijunLow)

	senkouAraw := midpoint(tenkan, kijun)
	senkouA := shiftForward(senkouAraw, p.Shift)

	senkouBHigh := rollingMax(b.High, p.SenkouB)
	senkouBLow := rollingMin(b.Low, p.SenkouB)
	senkouBraw := midpoint(senkouBHigh, senkouBLow)
	senkouB := shiftForward(senkouBraw, p.Shift)

	chikou := shiftBackward(b.Close, p.Shift)

	return &IchimokuResult{
		Tenkan:  tenkan,
		Kijun:   kijun,
		SenkouA: senkouA,
		SenkouB: senkouB,
		Chikou:  chikou,
	}
}

func midpoint(hi, lo []float64) []float64 {
	out := make([]float64, len(hi))
	for i := range hi {
		out[i] = (hi[i] + lo[i]) / 2
	}
	return out
}

// IchimokuState is the streaming counterpart to ComputeIchimoku. Because the
// cloud lines are displaced by Shift bars, it retains a rolling window of
// raw highs/lows/closes of up to 2*max(SenkouB, Shift) bars rather
// than offering true O(1) memory; CPU cost per bar is still O(window) for
// the rolling max/min, matching the original's deque-backed streaming state.
type IchimokuState struct {
	params IchimokuParams
	highs  []float64
	lows   []float64
	closes []float64
}

// NewIchimokuState constructs a streaming Ichimoku tracker.
func NewIchimokuState(p IchimokuParams) *IchimokuState {
	return &IchimokuState{params: p.withDefaults()}
}

// Update feeds one bar and returns the five lines as of this bar (NaN during
// warm-up, with SenkouA/SenkouB/Chikou reflecting the Shift displacement).
func (s *IchimokuState) Update(high, low, close float64) *IchimokuResult {
	s.highs = append(s.highs, high)
	s.lows = append(s.lows, low)
	s.closes = append(s.closes, close)

	maxLen := s.params.SenkouB
	if s.params.Shift > maxLen {
		maxLen = s.params.Shift
	}
	if len(s.highs) > maxLen*2 {
		trim := len(s.highs) - maxLen*2
		s.highs = s.highs[trim:]
		s.lows = s.lows[trim:]
		s.closes = s.closes[trim:]
	}

	bars := &Bars{High: s.highs, Low: s.lows, Close: s.closes}
	full := ComputeIchimoku(bars, s.params)
	last := len(full.Tenkan) - 1
	return &IchimokuResult{
		Tenkan:  full.Tenkan[last:],
		Kijun:   full.Kijun[last:],
		SenkouA: full.SenkouA[last:],
		SenkouB: full.SenkouB[last:],
		Chikou:  full.Chikou[last:],
	}
}
