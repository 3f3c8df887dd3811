package process

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var datePrefixes = []string{
	"deadline:", "due date:", "closing date:", "applications due:",
	"applications close:", "submit by:", "closes:", "due:", "ends:", "expires:",
}

func cleanDateText(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range datePrefixes {
		if idx := strings.Index(lower, p); idx != -1 {
			s = s[idx+len(p):]
			lower = lower[idx+len(p):]
		}
	}
	return strings.TrimSpace(strings.Trim(s, " .,;"))
}

var (
	isoDateRe   = regexp.MustCompile(`\b(20\d{2})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	monthDayRe  = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(20\d{2})\b`)
	dayMonthRe  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?,?\s+(20\d{2})\b`)
)

// ParseDeadline extracts a calendar date from free text. Formats are tried
// in order: ISO-8601, M/D/YYYY, D/M/YYYY, "Month D, YYYY", "D Month YYYY".
// Ambiguous slash dates resolve US-first unless the first component is
// greater than 12.
func ParseDeadline(text string) (time.Time, error) {
	text = cleanDateText(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty deadline text")
	}

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t.UTC().Truncate(24 * time.Hour), nil
	}
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])); err == nil {
			return t, nil
		}
	}

	if m := slashDateRe.FindStringSubmatch(text); m != nil {
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		layoutFirst, layoutSecond := first, second
		if first > 12 {
			// Day/month order, first component cannot be a month.
			layoutFirst, layoutSecond = second, first
		}
		if t, err := time.Parse("1/2/2006", fmt.Sprintf("%d/%d/%s", layoutFirst, layoutSecond, m[3])); err == nil {
			return t, nil
		}
	}

	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		for _, layout := range []string{"January 2 2006", "Jan 2 2006"} {
			if t, err := time.Parse(layout, fmt.Sprintf("%s %s %s", strings.TrimSuffix(m[1], "."), m[2], m[3])); err == nil {
				return t, nil
			}
		}
	}
	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		for _, layout := range []string{"2 January 2006", "2 Jan 2006"} {
			if t, err := time.Parse(layout, fmt.Sprintf("%s %s %s", m[1], strings.TrimSuffix(m[2], "."), m[3])); err == nil {
				return t, nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse deadline: %q", text)
}

var rollingRe = regexp.MustCompile(`(?i)\b(rolling\s+(?:basis|deadline|admission|application)|rolling\b|ongoing\s+basis|accepted\s+(?:continuously|year.round)|open.ended|no\s+(?:fixed\s+)?deadline)`)

// IsRollingDeadline reports whether text indicates a rolling or open-ended
// application window rather than a fixed date.
func IsRollingDeadline(text string) bool {
	return rollingRe.MatchString(text)
}
