package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// OCC option symbology: root (up to 6 chars), yymmdd expiration, P or C, and
// the strike times 1000 padded to 8 digits, e.g. SPY250620P00480000.

// FormatOCC builds the OCC symbol for a contract.
func FormatOCC(underlying, expiration string, typ OptionType, strike float64) (string, error) {
	exp, err := time.Parse(ExpirationLayout, expiration)
	if err != nil {
		return "", fmt.Errorf("invalid expiration %q: %w", expiration, err)
	}
	var letter string
	switch typ {
	case Put:
		letter = "P"
	case Call:
		letter = "C"
	default:
		return "", fmt.Errorf("invalid option type %q", typ)
	}
	milli := int64(math.Round(strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), exp.Format("060102"), letter, milli), nil
}

// ParseOCC splits an OCC symbol into its parts. Symbols shorter than the
// fixed 15-character suffix plus a one-character root are rejected, as are
// plain equity symbols.
func ParseOCC(symbol string) (underlying, expiration string, typ OptionType, strike float64, err error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if len(symbol) < 16 {
		return "", "", "", 0, fmt.Errorf("not an option symbol: %q", symbol)
	}
	root := symbol[:len(symbol)-15]
	suffix := symbol[len(symbol)-15:]

	exp, err := time.Parse("060102", suffix[:6])
	if err != nil {
		return "", "", "", 0, fmt.Errorf("bad expiration in option symbol %q: %w", symbol, err)
	}
	switch suffix[6] {
	case 'P':
		typ = Put
	case 'C':
		typ = Call
	default:
		return "", "", "", 0, fmt.Errorf("bad option type in symbol %q", symbol)
	}
	milli, err := strconv.ParseInt(suffix[7:], 10, 64)
	if err != nil {
		return "", "", "", 0, fmt.Errorf("bad strike in option symbol %q: %w", symbol, err)
	}
	return root, exp.Format(ExpirationLayout), typ, float64(milli) / 1000, nil
}

// IsOption reports whether a broker symbol looks like an OCC option symbol.
func IsOption(symbol string) bool {
	_, _, _, _, err := ParseOCC(symbol)
	return err == nil
}
