// Package durationutil parses the human-readable duration strings accepted
// for a task's options.timeoutMs (e.g. "30s", "1 hour", "2 minutes").
package durationutil

import (
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Parse parses s as a Go duration first ("1h30m"), then falls back to
// human-readable forms ("1 hour", "30 minutes") via xhit/go-str2duration.
func Parse(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if converted := humanToGoFormat(s); converted != s {
		if d, err := time.ParseDuration(converted); err == nil {
			return d, nil
		}
	}
	return str2duration.ParseDuration(s)
}

func humanToGoFormat(s string) string {
	switch {
	case strings.HasSuffix(s, " second"):
		return strings.Replace(s, " second", "s", 1)
	case strings.HasSuffix(s, " seconds"):
		return strings.Replace(s, " seconds", "s", 1)
	case strings.HasSuffix(s, " minute"):
		return strings.Replace(s, " minute", "m", 1)
	case strings.HasSuffix(s, " minutes"):
		return strings.Replace(s, " minutes", "m", 1)
	case strings.HasSuffix(s, " hour"):
		return strings.Replace(s, " hour", "h", 1)
	case strings.HasSuffix(s, " hours"):
		return strings.Replace(s, " hours", "h", 1)
	default:
		return s
	}
}
