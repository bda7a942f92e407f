package market

import (
	"fmt"
	"strings"
)

// Symbol is a venue-native instrument identifier, e.g. "EURUSD".
type Symbol string

const (
	EURGBP Symbol = "EURGBP"
	EURJPY Symbol = "EURJPY"
	EURUSD Symbol = "EURUSD"
	GBPJPY Symbol = "GBPJPY"
	GBPUSD Symbol = "GBPUSD"
	USDJPY Symbol = "USDJPY"
)

// symbolDigits maps each symbol to the number of decimal digits its prices
// are quoted with. Used for display rounding only; prices are stored as-is.
var symbolDigits = map[Symbol]int{
	EURGBP: 5,
	EURJPY: 3,
	EURUSD: 5,
	GBPJPY: 3,
	GBPUSD: 5,
	USDJPY: 3,
}

// Symbols lists all supported symbols.
var Symbols = []Symbol{EURGBP, EURJPY, EURUSD, GBPJPY, GBPUSD, USDJPY}

// String returns the string representation of the symbol.
func (s Symbol) String() string {
	return string(s)
}

// IsValid checks if the symbol is a supported value.
func (s Symbol) IsValid() bool {
	_, ok := symbolDigits[s]
	return ok
}

// Digits returns the number of quote digits for the symbol.
func (s Symbol) Digits() int {
	return symbolDigits[s]
}

// ParseSymbol constructs a Symbol from its string name, case-insensitive.
func ParseSymbol(s string) (Symbol, error) {
	sym := Symbol(strings.ToUpper(s))
	if !sym.IsValid() {
		return "", fmt.Errorf("unknown symbol %q", s)
	}
	return sym, nil
}
