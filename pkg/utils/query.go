package utils

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in query strings.
const DateLayout = "2006-01-02"

// QueryInt reads an integer query parameter, returning def when absent.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}

// QueryTime reads a time query parameter given as YYYY-MM-DD or RFC 3339.
// A bare date is read in loc; with endOfDay it covers the whole day.
func QueryTime(r *http.Request, key string, loc *time.Location, endOfDay bool) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(DateLayout, raw, loc); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD or an RFC 3339 timestamp", key)
}

// QueryDate reads a YYYY-MM-DD query parameter as midnight UTC.
func QueryDate(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", key)
	}
	return t, nil
}
