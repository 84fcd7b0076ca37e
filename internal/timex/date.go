package timex

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// GMTLayout is the wire format of changeset dates.
const GMTLayout = "2006-01-02 15:04:05"

var ErrBadDate = errors.New("bad date")

var dateLayouts = []string{
	GMTLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseGMT parses a GMT date as sent by clients: the GMT layout, RFC 3339,
// a bare date, or a unix timestamp in seconds. The result is in UTC.
func ParseGMT(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadDate
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrBadDate
}

// FormatGMT renders t in GMTLayout.
func FormatGMT(t time.Time) string {
	return t.UTC().Format(GMTLayout)
}
