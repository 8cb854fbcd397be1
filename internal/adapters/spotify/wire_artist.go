package spotify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
)

// ArtistTopTracks returns the artist's most popular tracks in the US market.
// Spotify returns at most 10.
func (c *Client) ArtistTopTracks(ctx context.Context, cred domain.Credential, artistID string) ([]domain.Track, error) {
	params := url.Values{}
	params.Set("market", "US")

	var body trackList
	path := "/artists/" + url.PathEscape(artistID) + "/top-tracks"
	if err := c.call(ctx, cred, http.MethodGet, path, params, nil, &body); err != nil {
		return nil, err
	}
	return mapTracksToDomain(body.Tracks), nil
}

// Recommendations asks for tracks seeded by up to five track IDs. Newer apps get a 404
// from this endpoint, which callers treat like any other failed strategy.
func (c *Client) Recommendations(ctx context.Context, cred domain.Credential, seedTrackIDs []string, limit int) ([]domain.Track, error) {
	if len(seedTrackIDs) > 5 {
		seedTrackIDs = seedTrackIDs[:5]
	}
	params := url.Values{}
	params.Set("seed_tracks", strings.Join(seedTrackIDs, ","))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var body trackList
	if err := c.call(ctx, cred, http.MethodGet, "/recommendations", params, nil, &body); err != nil {
		return nil, err
	}
	return mapTracksToDomain(body.Tracks), nil
}
