package services

import (
	"strings"
	"unicode"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
)

var noiseTokens = map[string]struct{}{
	"clean":      {},
	"deluxe":     {},
	"edition":    {},
	"edit":       {},
	"explicit":   {},
	"feat":       {},
	"featuring":  {},
	"ft":         {},
	"live":       {},
	"mix":        {},
	"mono":       {},
	"radio":      {},
	"remaster":   {},
	"remastered": {},
	"stereo":     {},
	"version":    {},
}

// isConfidentMatch decides whether a named-song search can play right away instead of
// offering options: a single candidate always wins; otherwise the top candidate's name
// must contain or be contained in the requested name, and the same for the artist when
// one was given.
func isConfidentMatch(songName, artist string, candidates []domain.Track) bool {
	if len(candidates) == 0 {
		return false
	}
	if len(candidates) == 1 {
		return true
	}

	top := candidates[0]
	if !mutualContains(normalizeSearchInput(songName), normalizeSearchInput(top.Name)) {
		return false
	}
	if strings.TrimSpace(artist) == "" {
		return true
	}
	return mutualContains(normalizeSearchInput(artist), normalizeSearchInput(top.Artist))
}

func mutualContains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// normalizeSearchInput lowercases, drops bracketed segments and noise tokens such as
// "remastered" or "feat", and collapses punctuation.
func normalizeSearchInput(input string) string {
	if input == "" {
		return ""
	}

	lower := strings.ToLower(input)
	filtered := stripBracketedSegments(lower)
	tokens := strings.Fields(cleanSeparators(filtered))

	cleaned := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, drop := noiseTokens[token]; drop {
			continue
		}
		cleaned = append(cleaned, token)
	}

	return strings.Join(cleaned, " ")
}

func stripBracketedSegments(input string) string {
	var out strings.Builder
	depth := 0
	for _, r := range input {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				out.WriteRune(r)
			}
		}
	}

	return out.String()
}

func cleanSeparators(input string) string {
	var out strings.Builder
	lastSpace := false
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			out.WriteRune(' ')
			lastSpace = true
		}
	}

	return out.String()
}
