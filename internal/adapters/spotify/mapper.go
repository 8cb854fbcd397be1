package spotify

import "github.com/ewilliams-labs/mirror/internal/core/domain"

// mapTrackToDomain keeps the primary artist only, which is how tracks are announced.
func mapTrackToDomain(st spotifyTrack) domain.Track {
	t := domain.Track{
		ID:   st.ID,
		Name: st.Name,
		URI:  st.URI,
	}
	if len(st.Artists) > 0 {
		t.Artist = st.Artists[0].Name
		t.ArtistID = st.Artists[0].ID
	}
	if t.URI == "" && t.ID != "" {
		t.URI = "spotify:track:" + t.ID
	}
	return t
}

func mapTracksToDomain(items []spotifyTrack) []domain.Track {
	tracks := make([]domain.Track, 0, len(items))
	for _, st := range items {
		if st.ID == "" {
			continue
		}
		tracks = append(tracks, mapTrackToDomain(st))
	}
	return tracks
}

func mapDeviceToDomain(sd spotifyDevice) domain.Device {
	d := domain.Device{
		ID:       sd.ID,
		Name:     sd.Name,
		Type:     sd.Type,
		IsActive: sd.IsActive,
	}
	if sd.VolumePercent != nil {
		d.VolumePercent = *sd.VolumePercent
	}
	return d
}

func mapPlaybackToDomain(sp spotifyPlayback) *domain.Playback {
	pb := &domain.Playback{
		IsPlaying:  sp.IsPlaying,
		ProgressMs: sp.ProgressMs,
		Device:     mapDeviceToDomain(sp.Device),
	}
	if sp.Item != nil {
		t := mapTrackToDomain(*sp.Item)
		pb.Track = &t
	}
	return pb
}
