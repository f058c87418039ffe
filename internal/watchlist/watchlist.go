// Package watchlist provides the symbols scans run over.
package watchlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sawpanic/nsescan/internal/models"
)

// Nifty50 is the built-in watchlist, in index-weight order
var Nifty50 = []string{
	"RELIANCE-EQ", "HDFCBANK-EQ", "ICICIBANK-EQ", "INFY-EQ", "TCS-EQ",
	"BHARTIARTL-EQ", "ITC-EQ", "LT-EQ", "SBIN-EQ", "AXISBANK-EQ",
	"KOTAKBANK-EQ", "HINDUNILVR-EQ", "BAJFINANCE-EQ", "M&M-EQ", "MARUTI-EQ",
	"HCLTECH-EQ", "SUNPHARMA-EQ", "NTPC-EQ", "TATAMOTORS-EQ", "ULTRACEMCO-EQ",
	"TITAN-EQ", "POWERGRID-EQ", "ASIANPAINT-EQ", "TATASTEEL-EQ", "ONGC-EQ",
	"BAJAJFINSV-EQ", "ADANIPORTS-EQ", "COALINDIA-EQ", "BAJAJ-AUTO-EQ", "NESTLEIND-EQ",
	"JSWSTEEL-EQ", "ADANIENT-EQ", "WIPRO-EQ", "GRASIM-EQ", "HINDALCO-EQ",
	"TECHM-EQ", "SBILIFE-EQ", "CIPLA-EQ", "INDUSINDBK-EQ", "EICHERMOT-EQ",
	"HDFCLIFE-EQ", "DRREDDY-EQ", "SHRIRAMFIN-EQ", "TRENT-EQ", "BRITANNIA-EQ",
	"APOLLOHOSP-EQ", "HEROMOTOCO-EQ", "TATACONSUM-EQ", "BPCL-EQ", "BEL-EQ",
}

// Default returns a copy of the built-in list
func Default() []string {
	return append([]string(nil), Nifty50...)
}

// Load reads one symbol per line. Blank lines and lines starting with # are
// ignored, symbols are upper-cased and duplicates dropped. An empty path
// returns the built-in list.
func Load(path string) ([]string, error) {
	if path == "" {
		return Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watchlist: %w", err)
	}
	defer f.Close()

	var out []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			continue
		}
		sym := strings.ToUpper(text)
		if err := models.ValidateSymbol(sym); err != nil {
			return nil, fmt.Errorf("watchlist %s:%d: %w", path, line, err)
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("watchlist %s has no symbols", path)
	}
	return out, nil
}

// Select returns the whole list for a full scan and the first quickLimit
// symbols otherwise
func Select(list []string, full bool, quickLimit int) []string {
	if full || quickLimit <= 0 || quickLimit >= len(list) {
		return append([]string(nil), list...)
	}
	return append([]string(nil), list[:quickLimit]...)
}
