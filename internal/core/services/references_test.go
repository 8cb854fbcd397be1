package services

import "testing"

func TestReferencesSuggestion(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"play it", true},
		{"Play That Song", true},
		{"this one please", true},
		{"the one with the guitar", true},
		{"play hits from the 90s", false},
		{"put on something with energy", false},
		{"play music", false},
	}
	for _, tc := range tests {
		t.Run(tc.utterance, func(t *testing.T) {
			if got := referencesSuggestion(tc.utterance); got != tc.want {
				t.Errorf("referencesSuggestion(%q) = %v, want %v", tc.utterance, got, tc.want)
			}
		})
	}
}

func TestOrdinalReference(t *testing.T) {
	tests := []struct {
		utterance string
		wantIdx   int
		wantOK    bool
	}{
		{"play the first", 0, true},
		{"the 2nd one", 1, true},
		{"third please", 2, true},
		{"#3", 2, true},
		{"play option 2", 1, true},
		{"song number two", 1, true},
		{"track three", 2, true},
		{"play one more time", 0, false},
		{"two of us", 0, false},
		{"play something", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.utterance, func(t *testing.T) {
			idx, ok := ordinalReference(tc.utterance)
			if ok != tc.wantOK || (ok && idx != tc.wantIdx) {
				t.Errorf("ordinalReference(%q) = (%d, %v), want (%d, %v)", tc.utterance, idx, ok, tc.wantIdx, tc.wantOK)
			}
		})
	}
}

func TestPhraseMatchers(t *testing.T) {
	if !wantsAnyOption("Whatever, pick one of them") {
		t.Error("expected any-option phrase to match")
	}
	if wantsAnyOption("play option 2") {
		t.Error("unexpected any-option match")
	}
	if !wantsMoodMusic("I'm feeling low, play something") {
		t.Error("expected mood phrase to match")
	}
}
