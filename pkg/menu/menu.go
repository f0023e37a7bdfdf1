// Package menu holds the restaurant catalog types and the free-text
// matcher that validates extracted item names.
package menu

import (
	"strings"
)

// ItemOption is one name/value customization on an ordered item.
type ItemOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Item is one menu entry. Immutable for the life of a call; the catalog
// is loaded once at session start.
type Item struct {
	Name      string   `json:"name"`
	BasePrice float64  `json:"base_price"`
	Aliases   []string `json:"aliases,omitempty"`
}

// VoiceConfig is the restaurant's voice-agent configuration, read-only
// for the life of a call.
type VoiceConfig struct {
	BrandName            string `json:"brand_name"`
	GreetingText         string `json:"greeting_text"`
	GreetingFollowupText string `json:"greeting_followup_text"`
	StrictMenuValidation bool   `json:"strict_menu_validation"`
	OrderTypeDefault     string `json:"order_type_default"` // "pickup"
}

// Normalize lowercases, strips everything outside [a-z0-9 ], collapses
// runs of whitespace and trims. Matching is always done on normalized
// forms so "Coke!", "coke" and "COKE" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// anything else is dropped
	}
	return strings.TrimRight(b.String(), " ")
}

// Match resolves free text against the catalog: exact normalized name
// first, then any alias whose normalized form equals the input. There is
// no fuzzy or partial matching; an unmatched name is unknown, never
// silently substituted.
func Match(freeText string, items []Item) (Item, bool) {
	want := Normalize(freeText)
	if want == "" {
		return Item{}, false
	}

	for _, it := range items {
		if Normalize(it.Name) == want {
			return it, true
		}
	}
	for _, it := range items {
		for _, alias := range it.Aliases {
			if Normalize(alias) == want {
				return it, true
			}
		}
	}
	return Item{}, false
}

// Examples returns up to n item names, for "we don't have that, we do
// have ..." rejection replies.
func Examples(items []Item, n int) []string {
	if n > len(items) {
		n = len(items)
	}
	names := make([]string, 0, n)
	for _, it := range items[:n] {
		names = append(names, it.Name)
	}
	return names
}
