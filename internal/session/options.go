// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// foldKey returns the comparison key of a vote option: NFC normalized,
// whitespace collapsed and case folded.
func foldKey(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.Join(strings.Fields(s), " ")))
}

// NormalizeOptions trims and NFC-normalizes options, drops blanks and removes
// case-insensitive duplicates. The first spelling of an option wins and the
// input order is preserved.
func NormalizeOptions(options []string) []string {
	out := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		clean := norm.NFC.String(strings.Join(strings.Fields(o), " "))
		if clean == "" {
			continue
		}
		key := foldKey(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// ParseOptions splits a comma separated list such as "Pizza, Burgers,Tacos".
func ParseOptions(s string) []string {
	return NormalizeOptions(strings.Split(s, ","))
}

// MatchOption resolves a typed vote to its canonical option.
// ok is false when vote matches none of options.
func MatchOption(options []string, vote string) (canonical string, ok bool) {
	key := foldKey(vote)
	if key == "" {
		return "", false
	}
	for _, o := range options {
		if foldKey(o) == key {
			return o, true
		}
	}
	return "", false
}
