package marketdata

import (
	"hash/fnv"
	"strings"
)

// fallbackPrice derives a stable synthetic price in the $1.00-$100.00 band
// from the symbol itself, so a dead upstream still yields repeatable
// simulations instead of random ones.
func fallbackPrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(symbol))))
	cents := 100 + h.Sum32()%9901
	return float64(cents) / 100
}
