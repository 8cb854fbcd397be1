package spotify

// spotifyArtist is the simplified artist object embedded in tracks.
type spotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// spotifyTrack is the subset of the track object the assistant uses.
type spotifyTrack struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	URI     string          `json:"uri"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyDevice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent *int   `json:"volume_percent"`
}

type spotifyPlayback struct {
	IsPlaying  bool          `json:"is_playing"`
	ProgressMs int           `json:"progress_ms"`
	Item       *spotifyTrack `json:"item"`
	Device     spotifyDevice `json:"device"`
}

type trackList struct {
	Tracks []spotifyTrack `json:"tracks"`
}

type searchResponse struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
	} `json:"tracks"`
}

type transferRequest struct {
	DeviceIDs []string `json:"device_ids"`
	Play      bool     `json:"play"`
}

type playRequest struct {
	URIs       []string `json:"uris,omitempty"`
	ContextURI string   `json:"context_uri,omitempty"`
}
