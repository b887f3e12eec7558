package usage

import (
	"fmt"
	"time"
)

// PeriodType is the time granularity of an aggregate bucket.
type PeriodType string

const (
	PeriodHour  PeriodType = "HOUR"
	PeriodDay   PeriodType = "DAY"
	PeriodMonth PeriodType = "MONTH"
)

// PeriodTypes lists all granularities a raw event rolls up into.
// Order is stable; delta maps are applied in this order.
var PeriodTypes = []PeriodType{PeriodHour, PeriodDay, PeriodMonth}

// ParsePeriodType parses a period type string, e.g. from a query parameter.
func ParsePeriodType(s string) (PeriodType, error) {
	switch PeriodType(s) {
	case PeriodHour, PeriodDay, PeriodMonth:
		return PeriodType(s), nil
	default:
		return "", fmt.Errorf("unknown period type %q (must be HOUR, DAY or MONTH)", s)
	}
}

// Valid reports whether p is a known period type.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodMonth:
		return true
	}
	return false
}

// PeriodStartOf truncates an instant to the start of its period, in UTC.
// Every instant maps to exactly one period start per granularity.
func PeriodStartOf(p PeriodType, t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Hour)
	}
}

// NextPeriodStart returns the start of the period immediately after start.
// Months advance by calendar month, not by a fixed duration.
func NextPeriodStart(p PeriodType, start time.Time) time.Time {
	switch p {
	case PeriodHour:
		return start.Add(time.Hour)
	case PeriodDay:
		return start.AddDate(0, 0, 1)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.Add(time.Hour)
	}
}

// PeriodEndOf returns the inclusive end of the period beginning at start:
// HH:59:59 for hours, 23:59:59 for days, last calendar day 23:59:59 for months.
func PeriodEndOf(p PeriodType, start time.Time) time.Time {
	return NextPeriodStart(p, start).Add(-time.Second)
}

// Resolution thresholds for trend queries. Readability choice, not a
// correctness constraint: a 6-day trend reads better hourly, a quarter daily.
const (
	hourlyTrendLimit = 7 * 24 * time.Hour
	dailyTrendLimit  = 90 * 24 * time.Hour
)

// OptimalPeriodType picks the bucket granularity for a date range:
// spans up to 7 days are served hourly, up to 90 days daily, beyond monthly.
func OptimalPeriodType(start, end time.Time) PeriodType {
	span := end.Sub(start)
	switch {
	case span <= hourlyTrendLimit:
		return PeriodHour
	case span <= dailyTrendLimit:
		return PeriodDay
	default:
		return PeriodMonth
	}
}
