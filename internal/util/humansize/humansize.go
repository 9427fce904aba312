// Package humansize formats byte counts for display.
package humansize

import (
	"strconv"
	"strings"
)

var units = []string{"B", "KB", "MB", "GB", "TB"}

// Format renders n bytes with one decimal in the largest unit below 1024
// (binary multiples), capped at TB, e.g. "0 B", "1.5 KB", "1,234.0 TB".
func Format(n int64) string {
	if n == 0 {
		return "0 B"
	}
	v := float64(n)
	unit := units[0]
	for i, u := range units {
		unit = u
		if v < 1024 && v > -1024 || i == len(units)-1 {
			break
		}
		v /= 1024
	}
	return groupThousands(strconv.FormatFloat(v, 'f', 1, 64)) + " " + unit
}

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}
