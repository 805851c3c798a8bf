package feature

// TiePolicy controls how OBV treats a bar whose close equals the previous
// close, mirroring original_source/features/indicators/obv.py's tie_policy.
type TiePolicy string

const (
	// TieZero adds nothing on a tie (classic Granville OBV). Default.
	TieZero TiePolicy = "zero"
	// TieCarry repeats the previous bar's signed volume contribution
	// (the original's "last_nonzero" policy).
	TieCarry TiePolicy = "carry"
)

// OBVVolumeKind selects what "volume" means in OBV's running sum, per
// §4.10: raw bar volume, a binary tick (1 whenever v>0, else 0), or
// notional (v times the bar's reference price).
type OBVVolumeKind string

const (
	OBVVolumeRaw      OBVVolumeKind = "raw"
	OBVVolumeTick     OBVVolumeKind = "tick"
	OBVVolumeNotional OBVVolumeKind = "notional"
)

// OBVParams configures ComputeOBV.
type OBVParams struct {
	Tie    TiePolicy
	Volume OBVVolumeKind
}

func (p OBVParams) withDefaults() OBVParams {
	if p.Tie == "" {
		p.Tie = TieZero
	}
	if p.Volume == "" {
		p.Volume = OBVVolumeRaw
	}
	return p
}

func obvVolume(kind OBVVolumeKind, volume, refPrice float64) float64 {
	switch kind {
	case OBVVolumeTick:
		if volume > 0 {
			return 1
		}
		return 0
	case OBVVolumeNotional:
		return volume * refPrice
	default:
		return volume
	}
}

// ComputeOBV ports compute_obv(): a running sum of signed volume, where the
// sign follows the direction of the close-to-close move.
func ComputeOBV(b *Bars, p OBVParams) []float64 {
	p = p.withDefaults()
	n := b.Len()
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	out[0] = 0
	var lastSigned float64
	for i := 1; i < n; i++ {
		vol := obvVolume(p.Volume, b.Volume[i], b.Close[i])
		switch {
		case b.Close[i] > b.Close[i-1]:
			lastSigned = vol
		case b.Close[i] < b.Close[i-1]:
			lastSigned = -vol
		default:
			if p.Tie == TieCarry {
				// keep lastSigned as-is
			} else {
				lastSigned = 0
			}
		}
		out[i] = out[i-1] + lastSigned
	}
	return out
}

// OBVState is the O(1)-per-bar streaming counterpart to ComputeOBV.
type OBVState struct {
	params     OBVParams
	prevClose  float64
	haveClose  bool
	lastSigned float64
	obv        float64
}

// NewOBVState constructs a streaming OBV tracker.
func NewOBVState(p OBVParams) *OBVState {
	return &OBVState{params: p.withDefaults()}
}

// Update feeds one bar (close, volume) and returns the running OBV.
func (s *OBVState) Update(close, volume float64) float64 {
	if !s.haveClose {
		s.haveClose = true
		s.prevClose = close
		return s.obv
	}
	vol := obvVolume(s.params.Volume, volume, close)
	switch {
	case close > s.prevClose:
		s.lastSigned = vol
	case close < s.prevClose:
		s.lastSigned = -vol
	default:
		if s.params.Tie != TieCarry {
			s.lastSigned = 0
		}
	}
	s.prevClose = close
	s.obv += s.lastSigned
	return s.obv
}
