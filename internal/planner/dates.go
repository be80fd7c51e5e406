package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"sage/internal/apperrors"
)

var (
	isoDate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	usDate     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	inDaysExpr = regexp.MustCompile(`(?i)^in\s+(\d+)\s+days?$`)
	weekdayRef = regexp.MustCompile(`(?i)^(this|next)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`)
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ResolveDate turns a natural-language date reference into a concrete day.
// Supported forms: ISO YYYY-MM-DD, US MM/DD/YYYY, today/tomorrow/yesterday,
// "this <weekday>", "next <weekday>", "next week" (the coming Monday) and
// "in N days". Empty input means today. The result is midnight in now's
// location.
func ResolveDate(input string, now time.Time) (time.Time, error) {
	day := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	today := day(now)

	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "next week":
		return nextWeekday(today, time.Monday), nil
	}

	if isoDate.MatchString(s) {
		t, err := time.ParseInLocation("2006-01-02", s, now.Location())
		if err != nil {
			return time.Time{}, apperrors.Wrap(apperrors.KindInput, err, "invalid date %q", input)
		}
		return t, nil
	}

	if m := usDate.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || d < 1 || d > 31 {
			return time.Time{}, apperrors.New(apperrors.KindInput, "invalid date %q", input)
		}
		return time.Date(year, time.Month(month), d, 0, 0, 0, 0, now.Location()), nil
	}

	if m := inDaysExpr.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, apperrors.Wrap(apperrors.KindInput, err, "invalid date %q", input)
		}
		return today.AddDate(0, 0, n), nil
	}

	if m := weekdayRef.FindStringSubmatch(s); m != nil {
		target := weekdays[m[2]]
		if strings.EqualFold(m[1], "next") {
			return nextWeekday(today, target), nil
		}
		// "this <weekday>": the occurrence within the current week, today
		// included.
		diff := (int(target) - int(today.Weekday()) + 7) % 7
		return today.AddDate(0, 0, diff), nil
	}

	return time.Time{}, apperrors.New(apperrors.KindInput, "unrecognized date %q", input)
}

// nextWeekday returns the first occurrence of target strictly after today.
func nextWeekday(today time.Time, target time.Weekday) time.Time {
	diff := (int(target) - int(today.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return today.AddDate(0, 0, diff)
}
