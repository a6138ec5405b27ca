package feeds

import "time"

// -----------------------------------------------------------------------------

// The forex market trades continuously except for the weekend gap between the
// New York close and the Sydney open: Friday 22:00 UTC to Sunday 22:00 UTC.
const (
	forexCloseHourUTC = 22
	forexOpenHourUTC  = 22
)

// -----------------------------------------------------------------------------

// ForexMarketOpen reports whether the forex market is inside trading hours
// at the given instant.
func ForexMarketOpen(now time.Time) bool {
	utc := now.UTC()

	switch utc.Weekday() {
	case time.Friday:
		return utc.Hour() < forexCloseHourUTC
	case time.Saturday:
		return false
	case time.Sunday:
		return utc.Hour() >= forexOpenHourUTC
	default:
		return true
	}
}
