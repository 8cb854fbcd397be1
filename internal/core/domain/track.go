package domain

import "fmt"

// Track is a playable item normalized from a provider search or recommendation result.
type Track struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	ArtistID string `json:"artist_id,omitempty"`
	URI      string `json:"uri"`
}

// Label renders the track the way replies present it.
func (t Track) Label() string {
	return fmt.Sprintf("%q by %s", t.Name, t.Artist)
}

// Device is a playback endpoint reported by the provider.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent int    `json:"volume_percent"`
}

// Playback describes what the provider is currently playing.
type Playback struct {
	IsPlaying  bool   `json:"is_playing"`
	ProgressMs int    `json:"progress_ms"`
	Track      *Track `json:"item,omitempty"`
	Device     Device `json:"device"`
}

// SongRef is a {name, artist} pair suggested by the language model before it has been
// resolved against the provider.
type SongRef struct {
	Name   string `json:"name"`
	Artist string `json:"artist"`
}
