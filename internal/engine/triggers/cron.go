package triggers

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// ScheduleConfig is the source config of a cron trigger. Minute and Hour
// default to 0.
type ScheduleConfig struct {
	Frequency  string `json:"frequency"`
	Minute     *int   `json:"minute,omitempty"`
	Hour       *int   `json:"hour,omitempty"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`
	DayOfMonth *int   `json:"day_of_month,omitempty"`
}

// BuildCronExpression turns a schedule config into a five-field cron
// expression. The same config always yields the same expression.
func BuildCronExpression(c ScheduleConfig) (string, error) {
	minute := valueOr(c.Minute, 0)
	hour := valueOr(c.Hour, 0)
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("minute must be between 0 and 59")
	}
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("hour must be between 0 and 23")
	}

	var expr string
	switch c.Frequency {
	case FrequencyDaily:
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
	case FrequencyWeekly:
		if c.DayOfWeek == nil || *c.DayOfWeek < 0 || *c.DayOfWeek > 6 {
			return "", fmt.Errorf("day_of_week must be between 0 and 6")
		}
		expr = fmt.Sprintf("%d %d * * %d", minute, hour, *c.DayOfWeek)
	case FrequencyMonthly:
		if c.DayOfMonth == nil || *c.DayOfMonth < 1 || *c.DayOfMonth > 31 {
			return "", fmt.Errorf("day_of_month must be between 1 and 31")
		}
		expr = fmt.Sprintf("%d %d %d * *", minute, hour, *c.DayOfMonth)
	default:
		return "", fmt.Errorf("frequency must be daily, weekly or monthly")
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return expr, nil
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
