package scheduling

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the normalized wire format for times of day.
	TimeLayout = "15:04"
)

// Layouts accepted for schedule entries. The compact form covers entries
// such as "10:00AM".
var meridiemLayouts = []string{"3:04 PM", "3:04PM"}

// NormalizeTime accepts a 24-hour "H:MM" or "HH:MM" time and returns it
// zero-padded as "HH:MM". Minutes must always have two digits.
func NormalizeTime(s string) (string, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: expected H:MM", s)
	}
	return t.Format(TimeLayout), nil
}

// parseMeridiem parses a schedule entry such as "1:00 PM" or " 9:30 am "
// into "HH:MM". Case and surrounding or repeated whitespace are ignored.
func parseMeridiem(entry string) (string, bool) {
	s := strings.Join(strings.Fields(strings.ToUpper(entry)), " ")
	if s == "" {
		return "", false
	}
	for _, layout := range meridiemLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// time.Parse takes "0:30 AM" as half past midnight; a 12-hour
		// clock has no hour zero.
		if h := strings.SplitN(s, ":", 2)[0]; h == "0" || h == "00" {
			return "", false
		}
		return t.Format(TimeLayout), true
	}
	return "", false
}

// ParseDate parses a YYYY-MM-DD calendar date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// slotInstant combines a calendar date with an "HH:MM" time in loc.
func slotInstant(date time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
