package domain

import "strings"

// ConversationContext is the short-lived state used to resolve follow-up utterances.
type ConversationContext struct {
	LastSuggestedSongs      []Track `json:"last_suggested_songs"`
	CurrentSongTopic        string  `json:"current_song_topic,omitempty"`
	Artist                  string  `json:"artist,omitempty"`
	Genre                   string  `json:"genre,omitempty"`
	Mood                    string  `json:"mood,omitempty"`
	LastRecommendationQuery string  `json:"last_recommendation_query,omitempty"`
}

// ApplySuggest merges the fields a suggestion request supplies. Fields the request
// leaves empty keep their previous value.
func (c *ConversationContext) ApplySuggest(s SuggestIntent, utterance string) {
	if v := strings.TrimSpace(s.ReferenceSong); v != "" {
		c.CurrentSongTopic = v
	}
	if v := strings.TrimSpace(s.ReferenceArtist); v != "" {
		c.Artist = v
	}
	if v := strings.TrimSpace(s.Genre); v != "" {
		c.Genre = v
	}
	if v := strings.TrimSpace(s.Mood); v != "" {
		c.Mood = v
	}
	c.LastRecommendationQuery = utterance
}

// ReplaceSuggestions swaps in a new batch wholesale. Repeated track IDs keep their first
// position. An empty batch leaves the previous suggestions untouched.
func (c *ConversationContext) ReplaceSuggestions(tracks []Track) {
	if len(tracks) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(tracks))
	batch := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID != "" {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
		}
		batch = append(batch, t)
	}
	c.LastSuggestedSongs = batch
}

// HasSuggestions reports whether there is anything to select from.
func (c *ConversationContext) HasSuggestions() bool {
	return len(c.LastSuggestedSongs) > 0
}

// Suggestion returns the suggestion at index, clamping any out-of-range index to 0.
// The boolean is false only when there are no suggestions at all.
func (c *ConversationContext) Suggestion(index int) (Track, int, bool) {
	if len(c.LastSuggestedSongs) == 0 {
		return Track{}, 0, false
	}
	if index < 0 || index >= len(c.LastSuggestedSongs) {
		index = 0
	}
	return c.LastSuggestedSongs[index], index, true
}
