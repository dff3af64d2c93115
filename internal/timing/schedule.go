package timing

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultIntervalMinutes = 5
	MinIntervalMinutes     = 1
	MaxIntervalMinutes     = 60

	// OfflineMultiplier tolerates exactly one missed probe plus network jitter.
	OfflineMultiplier = 2

	DefaultTimezone = "UTC"
)

var (
	ErrIntervalOutOfRange = errors.New("check interval out of range")
	ErrInvalidTimezone    = errors.New("invalid timezone")
)

// Validate rejects intervals outside [1,60] minutes. Values are never clamped.
func Validate(minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: %d (allowed %d-%d)", ErrIntervalOutOfRange, minutes, MinIntervalMinutes, MaxIntervalMinutes)
	}
	return nil
}

// OfflineThreshold is the duration after which a silent device counts as offline.
func OfflineThreshold(minutes int) time.Duration {
	return time.Duration(minutes*OfflineMultiplier) * time.Minute
}

// ScheduleExpression derives the five-field cron expression for an interval.
func ScheduleExpression(minutes int) (string, error) {
	if err := Validate(minutes); err != nil {
		return "", err
	}
	switch {
	case minutes == 1:
		return "* * * * *", nil
	case minutes%60 == 0:
		hours := minutes / 60
		if hours == 1 {
			return "0 * * * *", nil
		}
		return fmt.Sprintf("0 */%d * * *", hours), nil
	default:
		return fmt.Sprintf("*/%d * * * *", minutes), nil
	}
}
