package marketdata

import (
	"testing"
	"time"

	"tradefloor/internal/types"

	"github.com/stretchr/testify/assert"
)

func calendarAt(t *testing.T, instant time.Time, holidays ...string) *Calendar {
	t.Helper()
	cal := NewCalendar(holidays)
	cal.nowFn = func() time.Time { return instant }
	return cal
}

func TestCalendarStatus(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("no tzdata available")
	}

	cases := []struct {
		name string
		at   time.Time
		want types.MarketStatus
	}{
		{"weekday midday", time.Date(2025, 6, 10, 14, 0, 0, 0, et), types.MarketOpen},
		{"weekday open bell", time.Date(2025, 6, 10, 9, 0, 0, 0, et), types.MarketOpen},
		{"weekday close bell", time.Date(2025, 6, 10, 16, 0, 0, 0, et), types.MarketClosed},
		{"weekday pre-market", time.Date(2025, 6, 10, 8, 59, 0, 0, et), types.MarketClosed},
		{"saturday", time.Date(2025, 6, 14, 12, 0, 0, 0, et), types.MarketClosed},
		{"sunday", time.Date(2025, 6, 15, 12, 0, 0, 0, et), types.MarketClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cal := calendarAt(t, tc.at)
			assert.Equal(t, tc.want, cal.Status())
		})
	}
}

func TestCalendarHoliday(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("no tzdata available")
	}
	// July 4th 2025 is a Friday.
	cal := calendarAt(t, time.Date(2025, 7, 4, 12, 0, 0, 0, et), "2025-07-04")
	assert.Equal(t, types.MarketClosed, cal.Status())
}

func TestCalendarDates(t *testing.T) {
	cal := calendarAt(t, testNow)
	assert.Equal(t, "2025-06-10", cal.Today())
	assert.Equal(t, "2025-06-05", cal.DaysAgo(5))
}

func TestFallbackPriceStableAndBounded(t *testing.T) {
	for _, symbol := range []string{"AAPL", "MSFT", "ZZZZ", "BTC-USD", "X"} {
		first := fallbackPrice(symbol)
		assert.Equal(t, first, fallbackPrice(symbol), "symbol %s", symbol)
		assert.GreaterOrEqual(t, first, 1.0, "symbol %s", symbol)
		assert.LessOrEqual(t, first, 100.0, "symbol %s", symbol)
	}
	assert.Equal(t, fallbackPrice("aapl"), fallbackPrice("AAPL"), "case insensitive")
}
