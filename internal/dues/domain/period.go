package domain

import (
	"strings"
	"time"
)

const periodLayout = "2006-01"

// ParsePeriod normalises a YYYY-MM token.
func ParsePeriod(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != len(periodLayout) {
		return "", ErrInvalidPeriod
	}
	t, err := time.Parse(periodLayout, raw)
	if err != nil {
		return "", ErrInvalidPeriod
	}
	return t.Format(periodLayout), nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(periodLayout)
}
