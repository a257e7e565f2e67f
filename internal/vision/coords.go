package vision

import (
	"encoding/json"
	"math"
)

// metricsScript reads what is needed to map screenshot pixels onto CSS
// pixels of the layout viewport.
const metricsScript = `() => {
  const vv = window.visualViewport;
  return {
    dpr: window.devicePixelRatio,
    scale: vv ? vv.scale : 1,
    scrollX: window.scrollX,
    scrollY: window.scrollY,
    offsetLeft: vv ? vv.offsetLeft : 0,
    offsetTop: vv ? vv.offsetTop : 0
  };
}`

// Point is a coordinate pair.
type Point struct {
	X float64
	Y float64
}

// Metrics are the viewport values read from the page. A nil field was not
// reported.
type Metrics struct {
	DPR        *float64
	Scale      *float64
	ScrollX    *float64
	ScrollY    *float64
	OffsetLeft *float64
	OffsetTop  *float64
}

// Correct maps a screenshot pixel onto CSS coordinates:
//
//	css = raw / (dpr * scale) + scroll + offset
//
// per axis. An axis falls back to its raw value when any of its inputs is
// missing or the divisor is not positive.
func (m Metrics) Correct(raw Point) Point {
	return Point{
		X: correctAxis(raw.X, m.DPR, m.Scale, m.ScrollX, m.OffsetLeft),
		Y: correctAxis(raw.Y, m.DPR, m.Scale, m.ScrollY, m.OffsetTop),
	}
}

func correctAxis(raw float64, dpr, scale, scroll, offset *float64) float64 {
	if dpr == nil || scale == nil || scroll == nil || offset == nil {
		return raw
	}
	divisor := *dpr * *scale
	if divisor <= 0 {
		return raw
	}
	return raw/divisor + *scroll + *offset
}

// parseMetrics reads the metrics script's result. Non-numeric entries are
// treated as missing.
func parseMetrics(v any) Metrics {
	m, _ := v.(map[string]any)
	return Metrics{
		DPR:        number(m["dpr"]),
		Scale:      number(m["scale"]),
		ScrollX:    number(m["scrollX"]),
		ScrollY:    number(m["scrollY"]),
		OffsetLeft: number(m["offsetLeft"]),
		OffsetTop:  number(m["offsetTop"]),
	}
}

func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
