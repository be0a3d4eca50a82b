package termbridge

import "strings"

// Decision is PasteGuard's verdict on a send_text payload.
type Decision string

const (
	DecisionAllow          Decision = "allow"
	DecisionRequireConfirm Decision = "require_confirm"
	DecisionBlock          Decision = "block"
)

// Assessment is the result of running every PasteGuard heuristic over a
// payload.
type Assessment struct {
	Length              int
	HeuristicsTriggered []string
	Decision            Decision
}

// zeroWidthAndBidi are Unicode characters commonly used to hide intent in
// a pasted payload (zero-width space/joiners, bidi override controls).
var zeroWidthAndBidi = []rune{
	'​', '‌', '‍', '﻿', // zero-width space/joiners, BOM
	'‪', '‫', '‬', '‭', '‮', // bidi embedding/override
	'⁦', '⁧', '⁨', '⁩', // bidi isolates
}

// Assess runs every heuristic (all run regardless of earlier hits) and
// maps the triggered set to a decision per the persona's strictness.
func Assess(payload string, bracketedPaste bool, maxClipboardBytes int, personaStrict bool) Assessment {
	var triggered []string

	if !bracketedPaste && strings.ContainsAny(payload, "\n\r") {
		triggered = append(triggered, "newline")
	}
	if containsAny(payload, zeroWidthAndBidi) {
		triggered = append(triggered, "zwsp")
	}
	if maxClipboardBytes > 0 && len(payload) > maxClipboardBytes {
		triggered = append(triggered, "oversize")
	}

	a := Assessment{Length: len(payload), HeuristicsTriggered: triggered}
	switch {
	case len(triggered) == 0:
		a.Decision = DecisionAllow
	case personaStrict && containsString(triggered, "oversize"):
		a.Decision = DecisionBlock
	default:
		a.Decision = DecisionRequireConfirm
	}
	return a
}

func containsAny(s string, runes []rune) bool {
	for _, r := range s {
		for _, target := range runes {
			if r == target {
				return true
			}
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
