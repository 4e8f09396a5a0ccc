package util

import (
	"strconv"
	"strings"
)

// JoinFloats renders a float vector as a comma-separated string, the
// column encoding used by the sample checkpoint format.
func JoinFloats(vals []float64) string {
	if len(vals) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}

// ParseFloats parses a comma-separated float vector.
func ParseFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
