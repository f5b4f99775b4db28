// Package environment reads ghostai configuration from environment variables.
//
// Helpers return either the parsed value or a caller-supplied default. A
// malformed value is treated like an unset one so a typo in an optional knob
// never prevents the bot from starting; required values return an error and
// leave the decision to exit to the caller.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the value of the first non-empty variable among names, or
// defaultValue when all of them are unset or empty. Listing several names
// lets a setting keep a legacy alias (e.g. "DB_PATH" and "GHOSTAI_DB_PATH").
func StringOr(defaultValue string, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return defaultValue
}

// RequiredString returns the value of the named variable or an error if it is
// unset or blank.
func RequiredString(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// PositiveIntOr parses the named variable as a decimal integer greater than
// zero. Unset, unparsable, zero and negative values yield defaultValue.
func PositiveIntOr(name string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// DurationOr parses the named variable as a time.Duration ("30s", "2m").
// A bare integer is read as seconds, matching how hosting dashboards tend to
// expose timeouts. Non-positive or unparsable values yield defaultValue.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return defaultValue
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// StringSliceOr parses the named variable as a comma-separated list, trimming
// whitespace and dropping empty elements. Returns defaultValue when nothing
// usable remains.
func StringSliceOr(name string, defaultValue []string) []string {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return defaultValue
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
