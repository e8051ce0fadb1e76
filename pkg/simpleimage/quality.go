package simpleimage

import (
	"math"
	"strings"
)

// QualityScale maps the 0-100 owner quality onto an encoder's native range.
type QualityScale struct {
	Max int
	// Inverted scales run from best (0) to smallest (Max), as png
	// compression levels do.
	Inverted bool
}

// Native converts q (0-100, clamped) to the encoder's range.
func (s QualityScale) Native(q int) int {
	q = min(max(q, 0), 100)
	if s.Inverted {
		return int(math.Round(float64(100-q) / 100 * float64(s.Max)))
	}
	return int(math.Round(float64(q) / 100 * float64(s.Max)))
}

// DefaultQualityScales returns the built-in per-format scales.
func DefaultQualityScales() map[string]QualityScale {
	return map[string]QualityScale{
		"png":  {Max: 9, Inverted: true},
		"jpg":  {Max: 100},
		"jpeg": {Max: 100},
	}
}

// FormatOf returns the lower-cased extension of filename without the dot.
func FormatOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

func nativeQuality(scales map[string]QualityScale, format string, q int) int {
	scale, ok := scales[format]
	if !ok {
		return q
	}
	return scale.Native(q)
}
