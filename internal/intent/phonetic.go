package intent

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity returns a normalized edit similarity in [0,1]: 1.0 for equal
// strings, 0.0 for entirely different ones. Case-insensitive.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// phoneticMatch scans the critical commands for the trigger closest to the
// utterance. Only matches at or above floor count; ties keep the first
// (registration-order) command.
func phoneticMatch(text string, commands []Command, floor float64) (*Command, float64) {
	var best *Command
	bestScore := 0.0

	for i := range commands {
		cmd := &commands[i]
		if !cmd.Critical {
			continue
		}
		for _, trigger := range cmd.Triggers {
			score := Similarity(text, trigger)
			if score >= floor && score > bestScore {
				best = cmd
				bestScore = score
			}
		}
	}
	return best, bestScore
}
