// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/rs/zerolog"
)

// isSensitiveKey reports whether the value of key must never be logged.
func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token") || strings.Contains(k, "dsn")
}

// lookupEnv resolves key and logs where the final value came from.
// Empty variables fall back to the default. Parse failures are logged at warn
// level and also fall back to the default.
func lookupEnv[T any](logger zerolog.Logger, key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		logger.Debug().
			Str("key", key).
			Str("default", redact(key, def)).
			Str("source", "default").
			Msg("using default value")
		return def
	}
	if raw == "" {
		logger.Debug().
			Str("key", key).
			Str("default", redact(key, def)).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("key", key).
			Str("value", redact(key, raw)).
			Str("default", redact(key, def)).
			Msg("invalid value in environment variable, using default")
		return def
	}
	logger.Debug().
		Str("key", key).
		Str("value", redact(key, v)).
		Str("source", "environment").
		Bool("sensitive", isSensitiveKey(key)).
		Msg("using environment variable")
	return v
}

func redact(key string, v any) string {
	if isSensitiveKey(key) {
		return "***"
	}
	return fmt.Sprint(v)
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return lookupEnv(log.WithComponent("config"), key, defaultValue, func(s string) (string, error) {
		return s, nil
	})
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return lookupEnv(log.WithComponent("config"), key, defaultValue, strconv.Atoi)
}

// ParseFloat reads a float from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return lookupEnv(log.WithComponent("config"), key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return lookupEnv(log.WithComponent("config"), key, defaultValue, time.ParseDuration)
}

// ParseBool reads a boolean. It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return lookupEnv(log.WithComponent("config"), key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

// ParseList reads a comma separated list. Blank entries are dropped.
func ParseList(key string, defaultValue []string) []string {
	return lookupEnv(log.WithComponent("config"), key, defaultValue, func(s string) ([]string, error) {
		out := splitList(s)
		if len(out) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return out, nil
	})
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
