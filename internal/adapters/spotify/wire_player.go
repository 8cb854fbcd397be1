package spotify

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
)

// Devices lists the devices the account can play on.
func (c *Client) Devices(ctx context.Context, cred domain.Credential) ([]domain.Device, error) {
	var body struct {
		Devices []spotifyDevice `json:"devices"`
	}
	if err := c.call(ctx, cred, http.MethodGet, "/me/player/devices", nil, nil, &body); err != nil {
		return nil, err
	}

	devices := make([]domain.Device, 0, len(body.Devices))
	for _, d := range body.Devices {
		devices = append(devices, mapDeviceToDomain(d))
	}
	return devices, nil
}

// TransferPlayback moves playback to deviceID. With force the device also starts
// playing.
func (c *Client) TransferPlayback(ctx context.Context, cred domain.Credential, deviceID string, force bool) error {
	body := transferRequest{DeviceIDs: []string{deviceID}, Play: force}
	return c.call(ctx, cred, http.MethodPut, "/me/player", nil, body, nil)
}

// StartPlayback starts or resumes playback.
func (c *Client) StartPlayback(ctx context.Context, cred domain.Credential, req ports.PlayRequest) error {
	var params url.Values
	if req.DeviceID != "" {
		params = url.Values{"device_id": {req.DeviceID}}
	}

	var body any
	if len(req.URIs) > 0 || req.ContextURI != "" {
		body = playRequest{URIs: req.URIs, ContextURI: req.ContextURI}
	}
	return c.call(ctx, cred, http.MethodPut, "/me/player/play", params, body, nil)
}

// PausePlayback pauses the active device.
func (c *Client) PausePlayback(ctx context.Context, cred domain.Credential) error {
	return c.call(ctx, cred, http.MethodPut, "/me/player/pause", nil, nil, nil)
}

// NextTrack skips forward.
func (c *Client) NextTrack(ctx context.Context, cred domain.Credential) error {
	return c.call(ctx, cred, http.MethodPost, "/me/player/next", nil, nil, nil)
}

// PreviousTrack skips back.
func (c *Client) PreviousTrack(ctx context.Context, cred domain.Credential) error {
	return c.call(ctx, cred, http.MethodPost, "/me/player/previous", nil, nil, nil)
}

// CurrentPlayback reports the player state, or nil when nothing is playing (204).
func (c *Client) CurrentPlayback(ctx context.Context, cred domain.Credential) (*domain.Playback, error) {
	var body *spotifyPlayback
	if err := c.call(ctx, cred, http.MethodGet, "/me/player", nil, nil, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return mapPlaybackToDomain(*body), nil
}
