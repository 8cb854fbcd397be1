package ports

import (
	"context"
	"errors"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
)

var (
	// ErrNoDevices indicates the account has no device that could receive playback.
	ErrNoDevices = errors.New("no playback devices available")
	// ErrNoActiveDevice indicates the provider has no active device for the command.
	ErrNoActiveDevice = errors.New("no active device")
	// ErrDeviceNotFound indicates the targeted device is unknown to the provider.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrPremiumRequired indicates the account tier cannot control playback.
	ErrPremiumRequired = errors.New("premium account required")
	// ErrUnauthorized indicates the credential is missing, invalid or expired.
	ErrUnauthorized = errors.New("unauthorized")
)

// PlayRequest selects what to start. Both fields empty resumes the current context.
type PlayRequest struct {
	DeviceID   string
	URIs       []string
	ContextURI string
}

// MusicProvider is the music-playback service. Every call carries the credential of the
// session it acts for.
type MusicProvider interface {
	SearchTracks(ctx context.Context, cred domain.Credential, query string, limit int) ([]domain.Track, error)
	Recommendations(ctx context.Context, cred domain.Credential, seedTrackIDs []string, limit int) ([]domain.Track, error)
	ArtistTopTracks(ctx context.Context, cred domain.Credential, artistID string) ([]domain.Track, error)

	Devices(ctx context.Context, cred domain.Credential) ([]domain.Device, error)
	TransferPlayback(ctx context.Context, cred domain.Credential, deviceID string, force bool) error
	StartPlayback(ctx context.Context, cred domain.Credential, req PlayRequest) error
	PausePlayback(ctx context.Context, cred domain.Credential) error
	NextTrack(ctx context.Context, cred domain.Credential) error
	PreviousTrack(ctx context.Context, cred domain.Credential) error
	CurrentPlayback(ctx context.Context, cred domain.Credential) (*domain.Playback, error)

	CurrentUser(ctx context.Context, cred domain.Credential) (string, error)
}
