package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeColor turns "#1abc9c", "0x1ABC9C" or "1752220" into the decimal
// form used for message markers ("1752220"). Embed colours are 24-bit.
func NormalizeColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	base := 10
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "#"):
		lower, base = lower[1:], 16
	case strings.HasPrefix(lower, "0x"):
		lower, base = lower[2:], 16
	}

	n, err := strconv.ParseUint(lower, base, 32)
	if err != nil || n > 0xFFFFFF {
		return "", fmt.Errorf("invalid colour %q", s)
	}
	return strconv.FormatUint(n, 10), nil
}

// ColorMarker is the marker string for a numeric embed colour.
func ColorMarker(c int) string {
	return strconv.Itoa(c)
}
