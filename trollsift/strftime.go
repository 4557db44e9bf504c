package trollsift

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Supported strftime directives and the digit count each one consumes.
var timeDirectives = map[byte]int{
	'Y': 4,
	'y': 2,
	'm': 2,
	'd': 2,
	'j': 3,
	'H': 2,
	'M': 2,
	'S': 2,
	'f': 6,
}

func validateTimeSpec(spec string) error {
	for i := 0; i < len(spec); i++ {
		if spec[i] != '%' {
			continue
		}
		if i+1 >= len(spec) {
			return fmt.Errorf("dangling %% in time spec %q", spec)
		}
		d := spec[i+1]
		if _, ok := timeDirectives[d]; !ok {
			return fmt.Errorf("unsupported time directive %%%c in %q", d, spec)
		}
		i++
	}
	return nil
}

// timeSpecRegexp renders a (non-capturing) regexp fragment matching the
// textual form of the spec.
func timeSpecRegexp(spec string) string {
	var sb strings.Builder
	for i := 0; i < len(spec); i++ {
		if spec[i] != '%' {
			sb.WriteString(regexp.QuoteMeta(string(spec[i])))
			continue
		}
		width := timeDirectives[spec[i+1]]
		fmt.Fprintf(&sb, `\d{%d}`, width)
		i++
	}
	return sb.String()
}

// formatTimeSpec renders t according to the spec's directives; bytes outside
// directives pass through verbatim.
func formatTimeSpec(spec string, t time.Time) string {
	var sb strings.Builder
	for i := 0; i < len(spec); i++ {
		if spec[i] != '%' {
			sb.WriteByte(spec[i])
			continue
		}
		switch spec[i+1] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&sb, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'f':
			fmt.Fprintf(&sb, "%06d", t.Nanosecond()/1000)
		}
		i++
	}
	return sb.String()
}

// parseTimeSpec recovers a UTC timestamp from s, the portion of a filename
// matched by the spec's regexp. Missing components default to 1900-01-01
// 00:00:00; %j overrides month and day when they are not given explicitly.
func parseTimeSpec(spec, s string) (time.Time, error) {
	year, month, day := 1900, 0, 0
	yday := 0
	hour, minute, sec, micro := 0, 0, 0, 0

	pos := 0
	for i := 0; i < len(spec); i++ {
		if spec[i] != '%' {
			if pos >= len(s) || s[pos] != spec[i] {
				return time.Time{}, fmt.Errorf("literal mismatch at %q", s)
			}
			pos++
			continue
		}

		d := spec[i+1]
		width := timeDirectives[d]
		if pos+width > len(s) {
			return time.Time{}, fmt.Errorf("truncated time component in %q", s)
		}
		n, err := strconv.Atoi(s[pos : pos+width])
		if err != nil {
			return time.Time{}, fmt.Errorf("time component %%%c in %q: %w", d, s, err)
		}
		pos += width
		i++

		switch d {
		case 'Y':
			year = n
		case 'y':
			year = 2000 + n
			if n >= 69 {
				year = 1900 + n
			}
		case 'm':
			month = n
		case 'd':
			day = n
		case 'j':
			yday = n
		case 'H':
			hour = n
		case 'M':
			minute = n
		case 'S':
			sec = n
		case 'f':
			micro = n
		}
	}

	if pos != len(s) {
		return time.Time{}, fmt.Errorf("trailing input %q", s[pos:])
	}

	if month == 0 && day == 0 {
		if yday > 0 {
			return time.Date(year, 1, 1, hour, minute, sec, micro*1000, time.UTC).
				AddDate(0, 0, yday-1), nil
		}
		month, day = 1, 1
	}
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}

	return time.Date(year, time.Month(month), day, hour, minute, sec, micro*1000, time.UTC), nil
}
