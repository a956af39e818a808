package scheduler

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// NextRunInfo reports the predicted timing of a definition's next automatic
// run. NextAt and RemainingSeconds are nil when the definition is inactive,
// has no expression, or uses a shape the predictor does not interpret.
type NextRunInfo struct {
	IsActive         bool       `json:"isActive"`
	Cron             string     `json:"cron"`
	NextAt           *time.Time `json:"nextAtISO"`
	RemainingSeconds *int64     `json:"remainingSeconds"`
}

// NextTime predicts the next fire instant strictly after now for the five
// expression shapes the predictor understands. It is a prediction only; the
// trigger itself runs on the full cron engine. Anything outside the five
// shapes reports false rather than an error.
//
// Supported shapes (minute hour day-of-month month day-of-week, month
// always wildcard):
//
//	*/n * * * *        every n minutes
//	0 */n * * *        every n hours, on the hour
//	mm hh * * *        daily at hh:mm
//	mm hh * * d,d,...  weekly at hh:mm on the listed weekdays (0=Sunday)
//	mm hh d,d,... * *  monthly at hh:mm on the listed days of month
func NextTime(expr string, now time.Time) (time.Time, bool) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return time.Time{}, false
	}
	minute, hour, dom, month, dow := parts[0], parts[1], parts[2], parts[3], parts[4]
	if month != "*" {
		return time.Time{}, false
	}

	switch {
	case strings.HasPrefix(minute, "*/") && hour == "*" && dom == "*" && dow == "*":
		return nextMinuteStep(minute, now)

	case minute == "0" && strings.HasPrefix(hour, "*/") && dom == "*" && dow == "*":
		return nextHourStep(hour, now)

	case isNumber(minute) && isNumber(hour) && dom == "*" && dow == "*":
		return nextDaily(atoi(minute), atoi(hour), now), true

	case isNumber(minute) && isNumber(hour) && dom == "*" && dow != "*":
		return nextWeekly(atoi(minute), atoi(hour), dow, now)

	case isNumber(minute) && isNumber(hour) && dom != "*" && dow == "*":
		return nextMonthly(atoi(minute), atoi(hour), dom, now)
	}
	return time.Time{}, false
}

func nextMinuteStep(field string, now time.Time) (time.Time, bool) {
	n, ok := parseStep(field)
	if !ok {
		return time.Time{}, false
	}
	t := now.Truncate(time.Minute)
	add := n - t.Minute()%n
	return t.Add(time.Duration(add) * time.Minute), true
}

func nextHourStep(field string, now time.Time) (time.Time, bool) {
	n, ok := parseStep(field)
	if !ok {
		return time.Time{}, false
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	add := n - t.Hour()%n
	return t.Add(time.Duration(add) * time.Hour), true
}

func nextDaily(mm, hh int, now time.Time) time.Time {
	cand := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !cand.After(now) {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand
}

func nextWeekly(mm, hh int, dowField string, now time.Time) (time.Time, bool) {
	days := parseList(dowField, 0, 6)
	if len(days) == 0 {
		return time.Time{}, false
	}

	var best time.Time
	for _, dw := range days {
		diff := (dw - int(now.Weekday()) + 7) % 7
		cand := time.Date(now.Year(), now.Month(), now.Day()+diff, hh, mm, 0, 0, now.Location())
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 7)
		}
		if best.IsZero() || cand.Before(best) {
			best = cand
		}
	}
	return best, true
}

func nextMonthly(mm, hh int, domField string, now time.Time) (time.Time, bool) {
	days := parseList(domField, 1, 31)
	if len(days) == 0 {
		return time.Time{}, false
	}
	sort.Ints(days)

	for _, day := range days {
		cand := time.Date(now.Year(), now.Month(), day, hh, mm, 0, 0, now.Location())
		if cand.After(now) {
			return cand, true
		}
	}
	return time.Date(now.Year(), now.Month()+1, days[0], hh, mm, 0, 0, now.Location()), true
}

func parseStep(field string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(field, "*/"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// parseList parses a comma list of integers, dropping values outside
// [lo, hi] the way the trigger grammar would reject them.
func parseList(field string, lo, hi int) []int {
	var out []int
	for _, part := range strings.Split(field, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < lo || n > hi {
			continue
		}
		out = append(out, n)
	}
	return out
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
