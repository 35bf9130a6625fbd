package main

import (
	"fmt"
	"strconv"
	"strings"
)

var siSuffixMultipliers = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
	'T': 1e12,
	'P': 1e15,
	'E': 1e18,
}

// parseHashrate converts ckpool's SI-suffixed hashrate strings ("1.23T",
// "981G", "5400") to hashes per second. Unparseable input yields 0.
func parseHashrate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 {
			return 0
		}
		return v
	}
	suffix := s[len(s)-1]
	mult, ok := siSuffixMultipliers[suffix]
	if !ok {
		mult, ok = siSuffixMultipliers[suffix&^0x20] // lowercase suffixes
		if !ok {
			return 0
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s[:len(s)-1]), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v * mult
}

// humanHashrate renders hashes per second back into the short SI form the
// dashboard displays ("1.23T"). Values below 1 kH/s print as plain numbers.
func humanHashrate(v float64) string {
	if v <= 0 {
		return "0"
	}
	suffixes := []string{"", "K", "M", "G", "T", "P", "E"}
	idx := 0
	for v >= 1000 && idx < len(suffixes)-1 {
		v /= 1000
		idx++
	}
	if idx == 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("%.2f%s", v, suffixes[idx])
}
