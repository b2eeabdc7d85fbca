package pdf

import (
	"fmt"
	"strings"
)

// currencyExponents lists the ISO 4217 currencies that do not use two decimal
// places. Everything else divides minor units by 100.
var currencyExponents = map[string]int{
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "jpy": 0, "kmf": 0, "krw": 0,
	"mga": 0, "pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0,
	"xof": 0, "xpf": 0,
	"bhd": 3, "iqd": 3, "jod": 3, "kwd": 3, "lyd": 3, "omr": 3, "tnd": 3,
}

// FormatAmount renders minor units as a human amount with the uppercased
// currency code, e.g. 1050 "usd" renders as "10.50 USD".
func FormatAmount(minorUnits int64, currency string) string {
	code := strings.ToLower(strings.TrimSpace(currency))
	exponent, ok := currencyExponents[code]
	if !ok {
		exponent = 2
	}

	display := strings.ToUpper(code)
	if display == "" {
		display = "???"
	}

	negative := minorUnits < 0
	if negative {
		minorUnits = -minorUnits
	}

	var rendered string
	switch exponent {
	case 0:
		rendered = fmt.Sprintf("%d", minorUnits)
	default:
		divisor := int64(1)
		for i := 0; i < exponent; i++ {
			divisor *= 10
		}
		rendered = fmt.Sprintf("%d.%0*d", minorUnits/divisor, exponent, minorUnits%divisor)
	}

	if negative {
		rendered = "-" + rendered
	}
	return rendered + " " + display
}
