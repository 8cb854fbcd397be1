package services

import (
	"regexp"
	"strings"
)

var demonstrativeRe = regexp.MustCompile(`\b(it|that|this|the song|that song|this song|the one|that one|this one)\b`)

var anyOptionPhrases = []string{
	"any", "anyone", "any one", "any of them", "random",
	"whatever", "any song", "any option", "one of them",
}

var moodPlayPhrases = []string{
	"play a song", "play some music", "feeling", "mood", "play something",
	"i want to listen", "let's listen", "how about some music",
}

var ordinalWords = map[string]int{
	"first": 0, "1st": 0, "1": 0, "#1": 0, "one": 0,
	"second": 1, "2nd": 1, "2": 1, "#2": 1, "two": 1,
	"third": 2, "3rd": 2, "3": 2, "#3": 2, "three": 2,
}

// referencesSuggestion reports whether the utterance points back at something already
// offered ("play it", "that one").
func referencesSuggestion(utterance string) bool {
	return demonstrativeRe.MatchString(strings.ToLower(utterance))
}

// ordinalReference returns the zero-based index named by "first", "#2", "option 3" and
// similar. "one", "two" and "three" only count after "option", "number" or "song".
func ordinalReference(utterance string) (int, bool) {
	tokens := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !(r == '#' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for i, tok := range tokens {
		idx, ok := ordinalWords[tok]
		if !ok {
			continue
		}
		if tok == "one" || tok == "two" || tok == "three" {
			if i == 0 {
				continue
			}
			switch tokens[i-1] {
			case "option", "number", "song", "track":
			default:
				continue
			}
		}
		return idx, true
	}
	return 0, false
}

func wantsAnyOption(utterance string) bool {
	return containsAny(strings.ToLower(utterance), anyOptionPhrases)
}

func wantsMoodMusic(utterance string) bool {
	return containsAny(strings.ToLower(utterance), moodPlayPhrases)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
