package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatDuration converts time.Duration to ffmpeg timestamp format
func FormatDuration(d time.Duration) string {
	seconds := d.Seconds()
	hours := int(seconds / 3600)
	minutes := int((seconds - float64(hours*3600)) / 60)
	secs := seconds - float64(hours*3600) - float64(minutes*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, secs)
}

// FormatETA renders a remaining-time estimate starting at the coarsest
// non-zero unit: "42S", "3M5S", "2H0M9S", "1D4H0M0S". Sub-second remainders
// are truncated.
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	secs := total % 60
	mins := (total / 60) % 60
	hours := (total / 3600) % 24
	days := total / 86400

	switch {
	case days > 0:
		return fmt.Sprintf("%dD%dH%dM%dS", days, hours, mins, secs)
	case hours > 0:
		return fmt.Sprintf("%dH%dM%dS", hours, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dM%dS", mins, secs)
	default:
		return fmt.Sprintf("%dS", secs)
	}
}

// FormatPercent renders a fraction in [0,1] with one fractional digit, e.g. "42.5%".
func FormatPercent(fraction float64) string {
	return strconv.FormatFloat(fraction*100, 'f', 1, 64) + "%"
}

// ParseFrameRate parses frame rate from ffprobe format (e.g., "30000/1001")
func ParseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return f
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
