package webhook

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseRetryAfter accepts delta seconds or an HTTP date in the future.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	for _, layout := range []string{http.TimeFormat, time.RFC1123, time.RFC1123Z} {
		at, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
		return 0
	}
	return 0
}
