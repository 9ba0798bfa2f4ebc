package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// parseDay parses a YYYY-MM-DD flag. Empty input yields nil.
func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, s)
	}
	return &t, nil
}

func splitRange(s string) ([3]string, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return [3]string{}, fmt.Errorf("%w: range %q must be min:max:step", domain.ErrInvalidInput, s)
	}
	return [3]string{parts[0], parts[1], parts[2]}, nil
}

// parseIntRange parses min:max:step.
func parseIntRange(s string) (domain.IntRange, error) {
	parts, err := splitRange(s)
	if err != nil {
		return domain.IntRange{}, err
	}
	var v [3]int
	for i, p := range parts {
		if v[i], err = strconv.Atoi(strings.TrimSpace(p)); err != nil {
			return domain.IntRange{}, fmt.Errorf("%w: range %q: %v", domain.ErrInvalidInput, s, err)
		}
	}
	return domain.IntRange{Min: v[0], Max: v[1], Step: v[2]}, nil
}

// parseFloatRange parses min:max:step.
func parseFloatRange(s string) (domain.FloatRange, error) {
	parts, err := splitRange(s)
	if err != nil {
		return domain.FloatRange{}, err
	}
	var v [3]float64
	for i, p := range parts {
		if v[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return domain.FloatRange{}, fmt.Errorf("%w: range %q: %v", domain.ErrInvalidInput, s, err)
		}
	}
	return domain.FloatRange{Min: v[0], Max: v[1], Step: v[2]}, nil
}

func formatIntRange(r domain.IntRange) string {
	return fmt.Sprintf("%d:%d:%d", r.Min, r.Max, r.Step)
}

func formatFloatRange(r domain.FloatRange) string {
	return strconv.FormatFloat(r.Min, 'f', -1, 64) + ":" +
		strconv.FormatFloat(r.Max, 'f', -1, 64) + ":" +
		strconv.FormatFloat(r.Step, 'f', -1, 64)
}
