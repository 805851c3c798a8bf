package feature

import (
	"math"
	"time"
)

// PriceSource selects the price used in VWAP's numerator, mirroring
// original_source/features/indicators/vwap.py's price_source literal.
type PriceSource string

const (
	PriceClose PriceSource = "close"
	PriceHLC3  PriceSource = "hlc3"
	PriceOHLC4 PriceSource = "ohlc4"
)

// VolumeKind selects which volume figure anchors the weighting. "raw" uses
// bar volume directly; "notional" multiplies volume by the chosen price
// source, approximating turnover when no separate notional column exists.
type VolumeKind string

const (
	VolumeRaw      VolumeKind = "raw"
	VolumeNotional VolumeKind = "notional"
)

// VWAPAnchor resets the cumulative sums at each boundary. Scoped to the
// calendar anchors meaningful without a trading-session calendar: Session is
// treated as an alias for Day, since this package has no exchange-hours
// table (unlike the original's session-mask backend).
type VWAPAnchor string

const (
	AnchorDay   VWAPAnchor = "day"
	AnchorWeek  VWAPAnchor = "week"
	AnchorMonth VWAPAnchor = "month"
	AnchorYTD   VWAPAnchor = "ytd"
)

// VWAPParams configures ComputeVWAP.
type VWAPParams struct {
	Anchor      VWAPAnchor
	Price       PriceSource
	Volume      VolumeKind
	Bands       bool
	BandK       float64 // stdev multiple, default 1.0
	BandMethod  string  // "stdev" (default) or "mad"
}

func (p VWAPParams) withDefaults() VWAPParams {
	if p.Anchor == "" {
		p.Anchor = AnchorDay
	}
	if p.Price == "" {
		p.Price = PriceClose
	}
	if p.Volume == "" {
		p.Volume = VolumeRaw
	}
	if p.BandK <= 0 {
		p.BandK = 1.0
	}
	if p.BandMethod == "" {
		p.BandMethod = "stdev"
	}
	return p
}

// VWAPResult holds the parallel output columns.
type VWAPResult struct {
	VWAP  []float64
	Upper []float64 // nil unless Bands requested
	Lower []float64
}

func typicalPrice(b *Bars, src PriceSource) []float64 {
	n := b.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch src {
		case PriceHLC3:
			out[i] = (b.High[i] + b.Low[i] + b.Close[i]) / 3
		case PriceOHLC4:
			out[i] = (b.Open[i] + b.High[i] + b.Low[i] + b.Close[i]) / 4
		default:
			out[i] = b.Close[i]
		}
	}
	return out
}

// anchorBucket returns the integer bucket id a bar's ts_event falls into for
// the given anchor, so consecutive bars in the same bucket accumulate and a
// bucket change resets the running sums.
func anchorBucket(tsMs int64, anchor VWAPAnchor) int64 {
	t := time.UnixMilli(tsMs).UTC()
	switch anchor {
	case AnchorWeek:
		// ISO week: encoded as ISO year*100 + ISO week number.
		y, w := t.ISOWeek()
		return int64(y)*100 + int64(w)
	case AnchorMonth:
		return int64(t.Year())*100 + int64(t.Month())
	case AnchorYTD:
		return int64(t.Year())
	default: // day / session
		return t.Unix() / 86400
	}
}

// ComputeVWAP ports compute_vwap(): cumulative price*volume over cumulative
// volume, reset at each anchor boundary, with optional stdev/MAD bands.
// Scoped to the anchors and price/volume combinations spec.md §4.10 names;
// the original's custom-anchor and pandas/polars backend branching has no Go
// equivalent and is intentionally not ported.
func ComputeVWAP(b *Bars, p VWAPParams) *VWAPResult {
	p = p.withDefaults()
	n := b.Len()
	price := typicalPrice(b, p.Price)

	vol := make([]float64, n)
	for i := 0; i < n; i++ {
		switch p.Volume {
		case VolumeNotional:
			vol[i] = b.Volume[i] * price[i]
		default:
			vol[i] = b.Volume[i]
		}
	}

	vwap := make([]float64, n)
	var cumPV, cumV float64
	var bucket int64
	haveBucket := false

	// for bands: Welford-style running sum of squared deviation from VWAP
	var cumPV2 float64

	upper := fullNaN(n)
	lower := fullNaN(n)

	for i := 0; i < n; i++ {
		bk := anchorBucket(b.TsEvent[i], p.Anchor)
		if !haveBucket || bk != bucket {
			cumPV, cumV, cumPV2 = 0, 0, 0
			bucket = bk
			haveBucket = true
		}
		cumPV += price[i] * vol[i]
		cumV += vol[i]
		cumPV2 += vol[i] * price[i] * price[i]

		if cumV == 0 {
			vwap[i] = price[i]
		} else {
			vwap[i] = cumPV / cumV
		}

		if p.Bands && cumV > 0 {
			variance := cumPV2/cumV - vwap[i]*vwap[i]
			if variance < 0 {
				variance = 0
			}
			var spread float64
			if p.BandMethod == "mad" {
				spread = math.Sqrt(variance) * 0.7979 // normal-approx MAD<->stdev scale
			} else {
				spread = math.Sqrt(variance)
			}
			upper[i] = vwap[i] + p.BandK*spread
			lower[i] = vwap[i] - p.BandK*spread
		}
	}

	res := &VWAPResult{VWAP: vwap}
	if p.Bands {
		res.Upper = upper
		res.Lower = lower
	}
	return res
}

// VWAPState is the O(1)-per-bar streaming counterpart to ComputeVWAP.
type VWAPState struct {
	params               VWAPParams
	bucket               int64
	haveBucket           bool
	cumPV, cumV, cumPV2  float64
}

// NewVWAPState constructs a streaming VWAP tracker.
func NewVWAPState(p VWAPParams) *VWAPState {
	return &VWAPState{params: p.withDefaults()}
}

// Update feeds one bar and returns the current VWAP.
func (s *VWAPState) Update(tsMs int64, open, high, low, close, volume float64) float64 {
	var price float64
	switch s.params.Price {
	case PriceHLC3:
		price = (high + low + close) / 3
	case PriceOHLC4:
		price = (open + high + low + close) / 4
	default:
		price = close
	}
	vol := volume
	if s.params.Volume == VolumeNotional {
		vol = volume * price
	}

	bk := anchorBucket(tsMs, s.params.Anchor)
	if !s.haveBucket || bk != s.bucket {
		s.cumPV, s.cumV, s.cumPV2 = 0, 0, 0
		s.bucket = bk
		s.haveBucket = true
	}
	s.cumPV += price * vol
	s.cumV += vol
	s.cumPV2 += vol * price * price

	if s.cumV == 0 {
		return price
	}
	return s.cumPV / s.cumV
}
