package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Calendar units that time.ParseDuration does not know.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Duration is a time.Duration written as "90s", "7d" or "1w2d" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler. Whole days are written as "Nd".
func (d Duration) MarshalYAML() (interface{}, error) {
	std := time.Duration(d)
	if std >= Day && std%Day == 0 {
		return strconv.FormatInt(int64(std/Day), 10) + "d", nil
	}
	return std.String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseDuration accepts everything time.ParseDuration does plus d and w components.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	var calendar time.Duration
	var rest strings.Builder
	for s != "" {
		num := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
		if num <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit := strings.IndexFunc(s[num:], unicode.IsDigit)
		if unit < 0 {
			unit = len(s) - num
		}
		value, suffix := s[:num], s[num:num+unit]
		s = s[num+unit:]

		switch suffix {
		case "d", "w":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration number %q: %w", value, err)
			}
			base := Day
			if suffix == "w" {
				base = Week
			}
			calendar += time.Duration(f * float64(base))
		default:
			rest.WriteString(value + suffix)
		}
	}

	if rest.Len() == 0 {
		return calendar, nil
	}
	clock, err := time.ParseDuration(rest.String())
	if err != nil {
		return 0, err
	}
	return calendar + clock, nil
}

// Distance is a length in meters written as "850m", "1.5km" or "2mi" in YAML.
type Distance float64

// UnmarshalYAML implements yaml.Unmarshaler. Bare numbers are meters.
func (d *Distance) UnmarshalYAML(value *yaml.Node) error {
	var f float64
	if err := value.Decode(&f); err == nil {
		*d = Distance(f)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	m, err := ParseDistance(s)
	if err != nil {
		return err
	}
	*d = Distance(m)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Distance) MarshalYAML() (interface{}, error) {
	if d >= 1000 {
		return strconv.FormatFloat(float64(d)/1000, 'f', -1, 64) + "km", nil
	}
	return strconv.FormatFloat(float64(d), 'f', -1, 64) + "m", nil
}

// Meters returns the distance as a float.
func (d Distance) Meters() float64 {
	return float64(d)
}

// Longest suffix first so "km" and "mi" are not read as "m".
var distanceUnits = []struct {
	suffix string
	meters float64
}{
	{"km", 1000},
	{"mi", 1609.344},
	{"m", 1},
}

// ParseDistance parses a distance into meters. Unitless values are meters.
func ParseDistance(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	mult := 1.0
	for _, u := range distanceUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSuffix(s, u.suffix), u.meters
			break
		}
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid distance number: %w", err)
	}
	return val * mult, nil
}
