package marketdata

import (
	"strings"
	"time"

	"tradefloor/internal/types"
)

const dateLayout = "2006-01-02"

// Calendar answers the session gate from a local time-window rule, never a
// live call: weekdays, 09:00 <= ET < 16:00, minus configured full-day
// holidays.
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
	nowFn    func() time.Time
}

func NewCalendar(holidays []string) *Calendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// No tzdata on this host; EST without DST is the closest stand-in.
		loc = time.FixedZone("EST", -5*3600)
	}
	set := make(map[string]struct{}, len(holidays))
	for _, day := range holidays {
		day = strings.TrimSpace(day)
		if day != "" {
			set[day] = struct{}{}
		}
	}
	return &Calendar{loc: loc, holidays: set, nowFn: time.Now}
}

func (c *Calendar) Status() types.MarketStatus {
	now := c.nowFn().In(c.loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return types.MarketClosed
	}
	if _, holiday := c.holidays[now.Format(dateLayout)]; holiday {
		return types.MarketClosed
	}
	if now.Hour() >= 9 && now.Hour() < 16 {
		return types.MarketOpen
	}
	return types.MarketClosed
}

// Today returns the current date in exchange time.
func (c *Calendar) Today() string {
	return c.nowFn().In(c.loc).Format(dateLayout)
}

// DaysAgo returns the exchange-time date n days back, for lookback floors.
func (c *Calendar) DaysAgo(n int) string {
	return c.nowFn().In(c.loc).AddDate(0, 0, -n).Format(dateLayout)
}
