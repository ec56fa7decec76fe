package usage

import "time"

// PeriodOf returns the monthly period key for t in UTC.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
