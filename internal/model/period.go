package model

import (
	"fmt"
	"strings"
	"time"
)

// Period is a historical-rate window.
type Period string

// Supported periods
const (
	PeriodOneDay   Period = "ONE_DAY"
	PeriodOneWeek  Period = "ONE_WEEK"
	PeriodOneMonth Period = "ONE_MONTH"
)

// Periods lists the supported periods from shortest to longest.
var Periods = []Period{PeriodOneDay, PeriodOneWeek, PeriodOneMonth}

// Duration returns the window length.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodOneDay:
		return 24 * time.Hour
	case PeriodOneWeek:
		return 7 * 24 * time.Hour
	case PeriodOneMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParsePeriod accepts the canonical names as well as the 1D/1W/1M labels.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ONE_DAY", "1D", "24H":
		return PeriodOneDay, nil
	case "ONE_WEEK", "1W":
		return PeriodOneWeek, nil
	case "ONE_MONTH", "1M":
		return PeriodOneMonth, nil
	default:
		return "", fmt.Errorf("unsupported period %q", s)
	}
}
