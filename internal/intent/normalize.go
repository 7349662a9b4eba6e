package intent

import (
	"strings"
	"unicode"
)

// Normalize lowercases, trims punctuation, and applies known ASR
// corrections. All matching stages operate on normalized text.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))

	// Strip leading/trailing characters that are neither letters, digits,
	// nor interior whitespace. ASR engines emit stray punctuation around
	// utterances.
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	s = strings.Join(strings.Fields(s), " ")

	// Common misrecognition: leading "but" for "play".
	if strings.HasPrefix(s, "but ") {
		s = "play " + s[len("but "):]
	}

	return s
}

// spokenNumbers maps number words and ordinals to values. Shared with the
// selection machinery: "play number three" and "third" both select index 3.
var spokenNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20,
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
}

// selectionPrefixes are stripped before number parsing so that
// "play number two" and "option 2" both resolve.
var selectionPrefixes = []string{
	"number ", "play number ", "option ", "play option ", "choice ", "play ",
}

// ParseSpokenNumber extracts a 1-based selection number from text.
// Returns 0 when no number is recognized.
func ParseSpokenNumber(text string) int {
	s := strings.TrimSpace(strings.ToLower(text))

	for _, p := range selectionPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimSpace(s)

	// Direct digits, 1-99.
	n := 0
	digits := true
	for _, r := range s {
		if r < '0' || r > '9' {
			digits = false
			break
		}
		n = n*10 + int(r-'0')
	}
	if digits && n >= 1 && n <= 99 {
		return n
	}

	// Number words: match the first word only.
	word := s
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		word = s[:idx]
	}
	if v, ok := spokenNumbers[word]; ok {
		return v
	}
	return 0
}
