// Package environment reads process settings from environment variables.
//
// Every helper falls back to a caller-supplied default when the variable is
// unset, empty, or does not parse. Missing required values are reported as
// errors; deciding whether that is fatal is left to main.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the variable's value and whether it was set at all.
func String(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the variable's value, or def when unset or empty.
func StringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// RequiredString returns the variable's value or an error when it is unset
// or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("environment: required variable %q is not set", name)
	}
	return v, nil
}

// parseOr applies parse to the variable's value, returning def when the
// variable is empty or parse fails.
func parseOr[T any](name string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

// BoolOr parses the variable with strconv.ParseBool.
func BoolOr(name string, def bool) bool {
	return parseOr(name, def, strconv.ParseBool)
}

// IntOr parses the variable as a decimal integer.
func IntOr(name string, def int) int {
	return parseOr(name, def, strconv.Atoi)
}

// Float64Or parses the variable as a floating point number.
func Float64Or(name string, def float64) float64 {
	return parseOr(name, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationOr parses the variable with time.ParseDuration ("30s", "5m").
func DurationOr(name string, def time.Duration) time.Duration {
	return parseOr(name, def, time.ParseDuration)
}

// StringSliceOr splits the variable on commas and drops blank elements.
// def is returned when nothing remains.
func StringSliceOr(name string, def []string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(name), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
