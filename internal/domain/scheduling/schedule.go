package scheduling

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// WeeklySchedule is a provider's recurring availability: the raw entries
// configured for each weekday, in source order.
type WeeklySchedule map[time.Weekday][]string

// Resolution is the outcome of resolving one weekday of a schedule.
type Resolution struct {
	Weekday time.Weekday
	// Times holds the parsed entries as "HH:MM" in source order. Duplicates
	// are kept.
	Times []string
	// Dropped holds the raw entries that could not be parsed.
	Dropped []string
}

// ParseSchedule decodes a stored schedule. The stored form is a JSON object
// keyed by weekday name ("Monday" … "Sunday") whose values are lists of
// "h:mm AM/PM" strings. A JSON string wrapping such an object is unwrapped
// first. Unknown keys are ignored and non-string entries are kept as their
// JSON text so they surface as dropped entries.
//
// An empty, null or undecodable schedule yields ErrScheduleNotFound.
func ParseSchedule(raw []byte) (WeeklySchedule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrScheduleNotFound
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, ErrScheduleNotFound
		}
		return ParseSchedule([]byte(inner))
	}

	var days map[string]json.RawMessage
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, ErrScheduleNotFound
	}
	if len(days) == 0 {
		return nil, ErrScheduleNotFound
	}

	ws := make(WeeklySchedule, len(days))
	for key, value := range days {
		day, ok := parseWeekday(key)
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			// A day whose value is not a list has no usable entries.
			ws[day] = nil
			continue
		}
		entries := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				entries = append(entries, string(item))
				continue
			}
			entries = append(entries, s)
		}
		ws[day] = entries
	}
	return ws, nil
}

// Resolve parses the entries configured for day. It fails with
// ErrNoScheduleForWeekday when the day has no entries and with
// ErrNoValidTimes when none of them parse; in the latter case the returned
// Resolution still lists the dropped entries.
func (ws WeeklySchedule) Resolve(day time.Weekday) (Resolution, error) {
	res := Resolution{Weekday: day}
	entries := ws[day]
	if len(entries) == 0 {
		return res, ErrNoScheduleForWeekday
	}
	for _, entry := range entries {
		hhmm, ok := parseMeridiem(entry)
		if !ok {
			res.Dropped = append(res.Dropped, entry)
			continue
		}
		res.Times = append(res.Times, hhmm)
	}
	if len(res.Times) == 0 {
		return res, ErrNoValidTimes
	}
	return res, nil
}

// ResolveSchedule parses raw and resolves day in one step.
func ResolveSchedule(raw []byte, day time.Weekday) (Resolution, error) {
	ws, err := ParseSchedule(raw)
	if err != nil {
		return Resolution{Weekday: day}, err
	}
	return ws.Resolve(day)
}

func parseWeekday(name string) (time.Weekday, bool) {
	name = strings.TrimSpace(name)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(name, d.String()) {
			return d, true
		}
	}
	return 0, false
}
