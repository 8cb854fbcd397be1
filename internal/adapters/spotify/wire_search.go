package spotify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/sirupsen/logrus"
)

const maxSearchLimit = 50

// SearchTracks runs a track search. The query accepts Spotify field filters such as
// "track:Katchi artist:Ofenbach".
func (c *Client) SearchTracks(ctx context.Context, cred domain.Credential, query string, limit int) ([]domain.Track, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var body searchResponse
	if err := c.call(ctx, cred, http.MethodGet, "/search", params, nil, &body); err != nil {
		return nil, err
	}

	tracks := mapTracksToDomain(body.Tracks.Items)
	c.log.WithFields(logrus.Fields{"query": query, "results": len(tracks)}).Debug("search done")
	return tracks, nil
}
