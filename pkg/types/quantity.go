package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseMemory converts a human-readable memory quantity ("512m", "20g",
// "1.5T") to bytes. Suffixes k, m, g, t are case-insensitive and
// binary (1k = 1024). A bare number is taken as bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory quantity")
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
	case 'm', 'M':
		mult = 1 << 20
	case 'g', 'G':
		mult = 1 << 30
	case 't', 'T':
		mult = 1 << 40
	}
	num := s
	if mult > 1 {
		num = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative memory quantity %q", s)
	}
	return int64(v * float64(mult)), nil
}

// ParseISO8601Duration parses durations of the form P[nW][nD][T[nH][nM][nS]],
// e.g. "P0DT4H" or "PT30M". Calendar units (years, months) have no fixed
// length and are rejected.
func ParseISO8601Duration(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(s)
	if len(s) < 2 || (s[0] != 'P' && s[0] != 'p') {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
	}
	s = s[1:]

	var (
		total   time.Duration
		inTime  bool
		sawUnit bool
	)
	for len(s) > 0 {
		if s[0] == 'T' || s[0] == 't' {
			if inTime {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: repeated T", orig)
			}
			inTime = true
			s = s[1:]
			continue
		}

		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
		}
		v, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", orig, err)
		}

		unit := s[i]
		s = s[i+1:]
		sawUnit = true

		if !inTime {
			switch unit {
			case 'W', 'w':
				total += time.Duration(v * float64(7*24*time.Hour))
			case 'D', 'd':
				total += time.Duration(v * float64(24*time.Hour))
			case 'Y', 'y':
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: calendar years not supported", orig)
			case 'M', 'm':
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: calendar months not supported", orig)
			default:
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: unknown unit %q", orig, string(unit))
			}
			continue
		}

		switch unit {
		case 'H', 'h':
			total += time.Duration(v * float64(time.Hour))
		case 'M', 'm':
			total += time.Duration(v * float64(time.Minute))
		case 'S', 's':
			total += time.Duration(v * float64(time.Second))
		default:
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: unknown unit %q", orig, string(unit))
		}
	}
	if !sawUnit {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q: no components", orig)
	}
	return total, nil
}
