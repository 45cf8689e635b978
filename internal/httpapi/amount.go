package httpapi

import (
	"fmt"
	"strconv"
	"strings"
)

// parseDecimalToMinorUnits converts a decimal-string amount ("100.00") to minor units
// (10000), rejecting anything but an optional leading '-', digits, one '.', and at most
// 2 fractional digits, per §3.1's "amount (fixed-point decimal, 2 fractional digits)".
func parseDecimalToMinorUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount has more than 2 fractional digits")
	}
	for len(frac) < 2 {
		frac += "0"
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount must contain only digits and one '.'")
		}
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fractional part: %w", err)
	}

	minor := wholeVal*100 + fracVal
	if neg {
		minor = -minor
	}
	return minor, nil
}
