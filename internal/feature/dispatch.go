package feature

import "fmt"

// computeIndicator dispatches one configured indicator by name, mirroring
// the original's INDICATOR_FUNCS table, and returns its output columns
// unprefixed (the caller namespaces them as "<name>_<column>", unless the
// column name already starts with the indicator name).
func computeIndicator(name string, b *Bars, params map[string]any) (map[string][]float64, error) {
	switch name {
	case "atr":
		p := ATRParams{
			Period:  paramInt(params, "period", 14),
			Method:  Method(paramString(params, "method", string(MethodWilder))),
			NATR:    paramBool(params, "natr", false),
			Bands:   paramBool(params, "bands", false),
			BandMul: paramFloat(params, "band_multiple", 2.0),
		}
		r := ComputeATR(b, p)
		out := map[string][]float64{"tr": r.TR, "atr": r.ATR}
		if r.NATR != nil {
			out["natr"] = r.NATR
		}
		if r.Upper != nil {
			out["upper"] = r.Upper
			out["lower"] = r.Lower
		}
		return out, nil

	case "adx":
		p := ADXParams{
			Period: paramInt(params, "period", 14),
			Method: Method(paramString(params, "method", string(MethodWilder))),
			ADXR:   paramBool(params, "adxr", false),
		}
		r := ComputeADX(b, p)
		out := map[string][]float64{
			"plus_di":  r.PlusDI,
			"minus_di": r.MinusDI,
			"dx":       r.DX,
			"adx":      r.ADX,
		}
		if r.ADXR != nil {
			out["adxr"] = r.ADXR
		}
		return out, nil

	case "vwap":
		p := VWAPParams{
			Anchor:     VWAPAnchor(paramString(params, "anchor", string(AnchorDay))),
			Price:      PriceSource(paramString(params, "price_source", string(PriceClose))),
			Volume:     VolumeKind(paramString(params, "volume_kind", string(VolumeRaw))),
			Bands:      paramBool(params, "bands", false),
			BandK:      paramFloat(params, "band_k", 1.0),
			BandMethod: paramString(params, "band_method", "stdev"),
		}
		r := ComputeVWAP(b, p)
		out := map[string][]float64{"vwap": r.VWAP}
		if r.Upper != nil {
			out["upper"] = r.Upper
			out["lower"] = r.Lower
		}
		return out, nil

	case "obv":
		p := OBVParams{
			Tie:    TiePolicy(paramString(params, "tie_policy", string(TieZero))),
			Volume: OBVVolumeKind(paramString(params, "volume_kind", string(OBVVolumeRaw))),
		}
		return map[string][]float64{"obv": ComputeOBV(b, p)}, nil

	case "ichimoku":
		p := IchimokuParams{
			Tenkan:  paramInt(params, "tenkan", 9),
			Kijun:   paramInt(params, "kijun", 26),
			SenkouB: paramInt(params, "senkou_b", 52),
			Shift:   paramInt(params, "shift", 0),
		}
		r := ComputeIchimoku(b, p)
		return map[string][]float64{
			"tenkan":   r.Tenkan,
			"kijun":    r.Kijun,
			"senkou_a": r.SenkouA,
			"senkou_b": r.SenkouB,
			"chikou":   r.Chikou,
		}, nil

	case "stochastic_rsi":
		p := StochRSIParams{
			RSIPeriod:   paramInt(params, "rsi_period", 14),
			StochPeriod: paramInt(params, "stoch_period", 14),
			SmoothK:     paramInt(params, "smooth_k", 3),
			SmoothD:     paramInt(params, "smooth_d", 3),
			Method:      Method(paramString(params, "method", string(MethodWilder))),
			Fisher:      paramBool(params, "fisher", false),
		}
		r := ComputeStochRSI(b, p)
		out := map[string][]float64{"rsi": r.RSI, "k": r.K, "d": r.D}
		if r.Fisher != nil {
			out["fisher"] = r.Fisher
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown indicator: %s", name)
	}
}

func paramInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func paramFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func paramBool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func paramString(m map[string]any, key string, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}
