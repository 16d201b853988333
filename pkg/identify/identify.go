// Package identify resolves a tracked LED's beacon identity from its
// recent brightness history by correlating it against each enabled
// beacon's blink pattern. No pattern-matching source survives in this
// design's reference material (see DESIGN.md), so the scoring rule below
// is a from-scratch best-overlap vote rather than a port of a specific
// algorithm; it preserves the documented contract (sentinel identities on
// ambiguous or too-short histories, sticky misidentification elsewhere).
package identify

import "github.com/osvr-go/unifiedtracker/pkg/beacon"

// MinHistoryForMatch is the fewest brightness samples needed before a
// match is attempted at all.
const MinHistoryForMatch = 4

// MinExtremaDifference is the minimum (max-min) brightness spread in a
// history required to distinguish bright frames from dim ones at all.
const MinExtremaDifference = 1.0

// MinMatchMargin is the minimum vote-count lead the best-scoring beacon
// must hold over the runner-up to be accepted, avoiding ambiguous ties.
const MinMatchMargin = 1

// Matcher identifies tracked LEDs against a beacon table's blink patterns.
type Matcher struct {
	patterns [][]bool // per beacon index, true = bright frame
}

// NewMatcher parses every enabled beacon's pattern string ('*' bright,
// '.' dim) out of the table once, up front.
func NewMatcher(table *beacon.Table) *Matcher {
	patterns := make([][]bool, len(table.Beacons))
	for i, b := range table.Beacons {
		if b.Disabled || b.Pattern == "" {
			continue
		}
		bits := make([]bool, len(b.Pattern))
		for j, c := range b.Pattern {
			bits[j] = c == '*'
		}
		patterns[i] = bits
	}
	return &Matcher{patterns: patterns}
}

// Identify scores led's recent brightness history against every enabled
// beacon's pattern and assigns the best unambiguous match, mirroring
// LED.h's sentinel contract: too little history yields
// SentinelNoIdentifierOrInsufficientData, too flat a history yields
// SentinelInsufficientExtremaDifference, and an ambiguous (tied-best)
// match yields SentinelNoPatternRecognized.
func (m *Matcher) Identify(led *beacon.TrackedLED) {
	history := led.BrightnessHistory()
	if len(history) < MinHistoryForMatch {
		led.SetID(beacon.SentinelNoIdentifierOrInsufficientData)
		return
	}

	lo, hi := history[0], history[0]
	for _, v := range history {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo < MinExtremaDifference {
		led.SetID(beacon.SentinelInsufficientExtremaDifference)
		return
	}
	threshold := lo + (hi-lo)/2

	observed := make([]bool, len(history))
	for i, v := range history {
		observed[i] = v >= threshold
	}

	bestID := beacon.SentinelNoPatternRecognized
	bestScore, secondScore := -1, -1
	for idx, pattern := range m.patterns {
		if pattern == nil {
			continue
		}
		score := correlate(observed, pattern)
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			bestID = beacon.ZeroBasedID(idx)
		} else if score > secondScore {
			secondScore = score
		}
	}

	if bestScore < 0 || bestScore-secondScore < MinMatchMargin {
		led.SetID(beacon.SentinelNoPatternRecognized)
		return
	}
	led.SetID(bestID)
}

// correlate counts agreeing bits between observed and pattern over every
// cyclic phase offset of pattern, returning the best-aligned agreement
// count; patterns repeat, so the phase the LED's history happens to start
// on is unknown.
func correlate(observed, pattern []bool) int {
	if len(pattern) == 0 {
		return 0
	}
	best := 0
	for phase := 0; phase < len(pattern); phase++ {
		agree := 0
		for i, obs := range observed {
			if obs == pattern[(i+phase)%len(pattern)] {
				agree++
			}
		}
		if agree > best {
			best = agree
		}
	}
	return best
}
