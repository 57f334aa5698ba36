// Package puzzle holds the two-keys level definitions and the answer
// resolver. Everything here is a pure function over the level table; the
// session engine calls it but never the other way around.
package puzzle

import (
	"fmt"
	"slices"
)

type Level struct {
	ID     int
	Name   string
	Answer []string // key tokens both players must jointly turn
	Hints  []string
}

var Levels = []Level{
	{
		ID:     1,
		Name:   "the cellar door",
		Answer: []string{"iron", "brass"},
		Hints: []string{
			"One key is forged, the other is cast.",
			"Neither key is silver.",
		},
	},
	{
		ID:     2,
		Name:   "the clock room",
		Answer: []string{"hour", "minute", "second"},
		Hints: []string{
			"Three hands, three keys.",
			"The shortest hand counts too.",
			"Leave the pendulum alone.",
		},
	},
	{
		ID:     3,
		Name:   "the observatory",
		Answer: []string{"north", "south", "east", "west"},
		Hints: []string{
			"Every direction has its key.",
			"The compass rose is complete, nothing more.",
		},
	},
}

// Count is the number of configured levels, i.e. the final level id.
func Count() int { return len(Levels) }

func find(level int) (Level, bool) {
	for _, l := range Levels {
		if l.ID == level {
			return l, true
		}
	}
	return Level{}, false
}

// Check reports whether the two selections together turn every key of the
// level exactly once. Order does not matter; a duplicate between the two
// players counts as a wrong turn.
func Check(level int, a, b []string) (bool, string) {
	l, ok := find(level)
	if !ok {
		return false, fmt.Sprintf("no such level %d", level)
	}
	combined := append(slices.Clone(a), b...)
	slices.Sort(combined)
	want := slices.Clone(l.Answer)
	slices.Sort(want)
	if slices.Equal(combined, want) {
		return true, fmt.Sprintf("Both keys turned. %s opens.", l.Name)
	}
	if len(combined) != len(want) {
		return false, fmt.Sprintf("The lock expects %d keys, you turned %d.", len(want), len(combined))
	}
	return false, "The keys grind but the lock holds. Try again."
}

// Hint returns the n-th assist text for a level, 1-based. ok is false once
// the level has no more hints.
func Hint(level, n int) (string, bool) {
	l, found := find(level)
	if !found || n < 1 || n > len(l.Hints) {
		return "", false
	}
	return l.Hints[n-1], true
}
