// Package lots holds exchange lot sizes for index and stock options and
// validates order quantities against them. The table is a reference snapshot;
// exchanges revise lot sizes, so entries can be overridden from a contract
// master at runtime.
package lots

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultLotSize is used for symbols missing from the table.
const DefaultLotSize = 1

var indexLots = map[string]int{
	"NIFTY":      25,
	"BANKNIFTY":  15,
	"FINNIFTY":   25,
	"MIDCPNIFTY": 50,
	"NIFTYIT":    15,
	"SENSEX":     10,
	"BANKEX":     15,
}

var stockLots = map[string]int{
	"RELIANCE":   250,
	"TCS":        150,
	"HDFCBANK":   550,
	"INFY":       300,
	"ICICIBANK":  700,
	"SBIN":       750,
	"BHARTIARTL": 475,
	"ITC":        1600,
	"KOTAKBANK":  400,
	"LT":         150,
	"AXISBANK":   600,
	"HINDUNILVR": 300,
	"BAJFINANCE": 125,
	"MARUTI":     100,
	"ASIANPAINT": 200,
	"TITAN":      175,
	"TATAMOTORS": 575,
	"TATASTEEL":  425,
	"SUNPHARMA":  350,
	"WIPRO":      1000,
	"TECHM":      400,
	"HCLTECH":    350,
	"POWERGRID":  2700,
	"NTPC":       2000,
	"ONGC":       3850,
	"COALINDIA":  1500,
	"JSWSTEEL":   650,
	"ADANIENT":   250,
	"ADANIPORTS": 625,
	"BAJAJFINSV": 500,
	"ULTRACEMCO": 100,
	"HINDALCO":   1300,
	"GRASIM":     275,
	"DIVISLAB":   175,
	"DRREDDY":    125,
	"CIPLA":      650,
	"APOLLOHOSP": 125,
	"EICHERMOT":  175,
	"M&M":        350,
	"HEROMOTOCO": 150,
	"BAJAJ-AUTO": 250,
	"TATACONSUM": 450,
	"BRITANNIA":  100,
	"NESTLEIND":  50,
	"INDUSINDBK": 450,
	"PNB":        6000,
	"BANKBARODA": 2900,
	"CANBK":      5400,
	"IDFCFIRSTB": 7500,
	"FEDERALBNK": 5000,
}

// Table is a lot-size lookup. The zero value is unusable; use NewTable.
type Table struct {
	mu       sync.RWMutex
	sizes    map[string]int
	prefixes []string // known symbols, longest first, for base-symbol extraction
}

// NewTable builds the default table from the index and stock snapshots.
func NewTable() *Table {
	t := &Table{sizes: make(map[string]int, len(indexLots)+len(stockLots))}
	for sym, n := range indexLots {
		t.sizes[sym] = n
	}
	for sym, n := range stockLots {
		t.sizes[sym] = n
	}
	t.rebuildPrefixes()
	return t
}

func (t *Table) rebuildPrefixes() {
	t.prefixes = t.prefixes[:0]
	for sym := range t.sizes {
		t.prefixes = append(t.prefixes, sym)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
}

// BaseSymbol strips expiry/strike suffixes from a full contract symbol,
// e.g. "NIFTY23DEC25C24000" -> "NIFTY". Unknown symbols pass through.
func (t *Table) BaseSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, known := range t.prefixes {
		if strings.HasPrefix(symbol, known) {
			return known
		}
	}
	return symbol
}

// LotSize returns the lot size for symbol, falling back to DefaultLotSize
// for symbols not in the table.
func (t *Table) LotSize(symbol string) int {
	base := t.BaseSymbol(symbol)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.sizes[base]; ok {
		return n
	}
	return DefaultLotSize
}

// ValidateQuantity checks that quantity is a positive multiple of the
// symbol's lot size. The returned string is a human-readable reason and is
// empty when valid.
func (t *Table) ValidateQuantity(symbol string, quantity int) (bool, string) {
	if quantity <= 0 {
		return false, "quantity must be positive"
	}
	lot := t.LotSize(symbol)
	if quantity%lot != 0 {
		return false, fmt.Sprintf("quantity %d is not a multiple of lot size %d for %s", quantity, lot, symbol)
	}
	return true, ""
}

// Lots converts a quantity into whole lots for symbol.
func (t *Table) Lots(symbol string, quantity int) int {
	return quantity / t.LotSize(symbol)
}

// RoundDown returns the largest valid quantity not exceeding quantity.
func (t *Table) RoundDown(symbol string, quantity int) int {
	lot := t.LotSize(symbol)
	return (quantity / lot) * lot
}

// Update overrides the lot size for one symbol at runtime.
func (t *Table) Update(symbol string, lotSize int) {
	if lotSize <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sizes[strings.ToUpper(symbol)] = lotSize
	t.rebuildPrefixes()
}

// BulkUpdate loads lot sizes from a contract master dump.
func (t *Table) BulkUpdate(sizes map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, n := range sizes {
		if n > 0 {
			t.sizes[strings.ToUpper(sym)] = n
		}
	}
	t.rebuildPrefixes()
}
