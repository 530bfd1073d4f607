package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ISOLayout is the wire format for timestamps: local time, no zone.
const ISOLayout = "2006-01-02T15:04:05"

// StoreLayout is how timestamps are written to the data table.
const StoreLayout = "2006-01-02 15:04:05"

var ErrInvalidTimestamp = errors.New("invalid timestamp")

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
}

// ParseISO parses YYYY-MM-DD with an optional hour, minute and second part,
// separated from the date by 'T' or a space. The result is in local time.
func ParseISO(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if len(v) > 10 && v[10] == ' ' {
		v = v[:10] + "T" + v[11:]
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q (expected YYYY-MM-DD[THH[:MM[:SS]]])", ErrInvalidTimestamp, s)
}

// FormatISO formats t with ISOLayout; the zero time formats as "".
func FormatISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(ISOLayout)
}

func ParseStored(s string) (time.Time, error) {
	t, err := time.ParseInLocation(StoreLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidTimestamp, s, err)
	}
	return t, nil
}

func FormatStored(t time.Time) string {
	return t.In(time.Local).Format(StoreLayout)
}
