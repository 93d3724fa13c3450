package mibs

import (
	"fmt"
	"time"
)

// Countdown renders the time left until sendTime: whole days when at least
// one day remains, HH:MM:SS otherwise.
func Countdown(sendTime, now time.Time) string {
	remaining := sendTime.Sub(now)
	if remaining <= 0 {
		return "00:00:00"
	}

	days := int(remaining / (24 * time.Hour))
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}

	hours := int(remaining / time.Hour)
	minutes := int(remaining/time.Minute) % 60
	seconds := int(remaining/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
