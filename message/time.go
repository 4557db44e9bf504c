package message

import "time"

// Wire payloads carry acquisition times either as native time.Time values
// (messages built in-process) or as strings after a JSON round trip. The
// accepted string layouts cover RFC 3339 and the bare ISO 8601 forms the
// upstream producers emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime interprets a payload value as a timestamp. It accepts time.Time
// values and the known string layouts; ok is false for anything else.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
