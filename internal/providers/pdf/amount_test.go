package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{1050, "usd", "10.50 USD"},
		{99, "eur", "0.99 EUR"},
		{500, "jpy", "500 JPY"},
		{1234, "kwd", "1.234 KWD"},
		{-250, "gbp", "-2.50 GBP"},
		{0, "usd", "0.00 USD"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatAmount(tc.amount, tc.currency), "FormatAmount(%d, %q)", tc.amount, tc.currency)
	}
}
