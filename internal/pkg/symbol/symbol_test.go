package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"BTCUSDT", "BTC", "USDT"},
		{"ethbtc", "ETH", "BTC"},
		{"BTC/USDT:USDT", "BTC", "USDT"},
		{" SOLUSDC ", "SOL", "USDC"},
		{"", "", ""},
		{"USDT", "", ""},     // bare quote is not a pair
		{"FOOBARXYZ", "", ""}, // unknown quote
	}
	for _, tc := range cases {
		sym := Parse(tc.in)
		assert.Equal(t, tc.base, sym.Base, tc.in)
		assert.Equal(t, tc.quote, sym.Quote, tc.in)
	}
}

func TestForms(t *testing.T) {
	sym := Parse("BTCUSDT")
	assert.Equal(t, "BTC/USDT", sym.Internal())
	assert.Equal(t, "BTCUSDT", sym.Exchange())

	assert.Equal(t, "", Symbol{}.Internal())
	assert.Equal(t, "", Symbol{Base: "BTC"}.Exchange())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTC/USDT", Normalize("btcusdt"))
	assert.Equal(t, "", Normalize("???"))
}

func TestToExchangePassesThroughUnparseable(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ToExchange("btc/usdt"))
	assert.Equal(t, "WEIRDPAIR", ToExchange(" weirdpair "))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTC/USDT"))
	assert.True(t, IsValid("ethusdt"))
	assert.False(t, IsValid("USDT"))
	assert.False(t, IsValid(""))
}
