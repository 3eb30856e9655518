// Package symbol normalizes trading pair notation. Internally symbols use
// the BASE/QUOTE form ("BTC/USDT"); exchanges want the joined form
// ("BTCUSDT").
package symbol

import "strings"

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Exchange returns the joined form Binance expects.
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse understands both "BTC/USDT" and "BTCUSDT". The suffix match covers
// the common quote currencies only.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

// ToExchange converts any accepted notation to the exchange form; input it
// cannot parse is passed through uppercased so the exchange reports the
// error instead of us guessing.
func ToExchange(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Exchange()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
