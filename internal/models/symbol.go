package models

import (
	"fmt"
	"strings"
)

const equitySuffix = "-EQ"

// NormalizeSymbol upper-cases a symbol and strips the trailing -EQ series suffix.
// The result is the form used in remote calls; callers keep their own spelling.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimSuffix(s, equitySuffix)
}

// ValidateSymbol rejects anything that is not an upper-case NSE ticker
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if len(symbol) > 24 {
		return fmt.Errorf("symbol %q is too long", symbol)
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '&', r == '-', r == '_':
		default:
			return fmt.Errorf("symbol %q contains invalid character %q", symbol, r)
		}
	}
	if NormalizeSymbol(symbol) == "" {
		return fmt.Errorf("symbol %q has no ticker", symbol)
	}
	return nil
}

// Timeframes accepted by the technical and candlestick endpoints
var Timeframes = map[string]bool{
	"minute": true,
	"3min":   true,
	"5min":   true,
	"10min":  true,
	"15min":  true,
	"30min":  true,
	"hour":   true,
	"day":    true,
	"week":   true,
}

// ValidateTimeframe rejects timeframes the provider does not understand
func ValidateTimeframe(tf string) error {
	if !Timeframes[tf] {
		return fmt.Errorf("unsupported timeframe %q", tf)
	}
	return nil
}
