package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
)

const (
	defaultSettleDelay      = 2 * time.Second
	defaultTransferAttempts = 3
	defaultTransferBackoff  = 2 * time.Second
	songSearchLimit         = 3
	maxOptions              = 3
)

// PlaybackController executes playback actions against the music provider, choosing a
// device and recovering once from a missing active device.
type PlaybackController struct {
	music            ports.MusicProvider
	watcher          ports.DeviceWatcher
	log              logrus.FieldLogger
	settleDelay      time.Duration
	transferAttempts int
	transferBackoff  time.Duration
}

// PlaybackOption customizes a PlaybackController.
type PlaybackOption func(*PlaybackController)

// WithSettleDelay sets how long to wait after a forced transfer before retrying.
func WithSettleDelay(d time.Duration) PlaybackOption {
	return func(p *PlaybackController) { p.settleDelay = d }
}

// WithTransferRetry tunes the explicit device selection retries.
func WithTransferRetry(attempts int, backoff time.Duration) PlaybackOption {
	return func(p *PlaybackController) {
		if attempts > 0 {
			p.transferAttempts = attempts
		}
		p.transferBackoff = backoff
	}
}

// WithDeviceWatcher schedules background confirmation after explicit device selection.
func WithDeviceWatcher(w ports.DeviceWatcher) PlaybackOption {
	return func(p *PlaybackController) { p.watcher = w }
}

// NewPlaybackController constructs a PlaybackController.
func NewPlaybackController(music ports.MusicProvider, log logrus.FieldLogger, opts ...PlaybackOption) *PlaybackController {
	p := &PlaybackController{
		music:            music,
		log:              log.WithField("component", "playback"),
		settleDelay:      defaultSettleDelay,
		transferAttempts: defaultTransferAttempts,
		transferBackoff:  defaultTransferBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play starts playback of explicit URIs, a context URI, or (with neither) whatever the
// player had queued. The session's active device is updated by device selection even
// when playback then fails.
func (p *PlaybackController) Play(ctx context.Context, sess *domain.Session, cred domain.Credential, req ports.PlayRequest) error {
	deviceID, err := p.selectDevice(ctx, sess, cred)
	if err != nil {
		return err
	}

	req.DeviceID = deviceID
	p.log.WithFields(logrus.Fields{
		"device_id":   deviceID,
		"uris":        req.URIs,
		"context_uri": req.ContextURI,
	}).Debug("starting playback")

	err = p.music.StartPlayback(ctx, cred, req)
	switch {
	case err == nil:
		p.log.WithField("device_id", deviceID).Info("playback started")
		return nil
	case errors.Is(err, ports.ErrPremiumRequired):
		p.log.WithError(err).Warn("playback needs a premium account")
		return err
	case errors.Is(err, ports.ErrNoActiveDevice), errors.Is(err, ports.ErrDeviceNotFound):
		p.log.WithError(err).Warn("playback found no usable device, retrying on a fresh device list")
		return p.retryOnFreshDevice(ctx, sess, cred, req)
	default:
		p.log.WithError(err).Error("playback failed")
		return fmt.Errorf("playback: start: %w", err)
	}
}

func (p *PlaybackController) selectDevice(ctx context.Context, sess *domain.Session, cred domain.Credential) (string, error) {
	devices, err := p.music.Devices(ctx, cred)
	if err != nil {
		return "", fmt.Errorf("playback: list devices: %w", err)
	}
	if len(devices) == 0 {
		p.log.Warn("no available devices; Spotify must be open somewhere")
		return "", ports.ErrNoDevices
	}

	for _, d := range devices {
		if d.IsActive {
			sess.ActiveDeviceID = d.ID
			p.log.WithFields(logrus.Fields{"device": d.Name, "device_id": d.ID}).Debug("using active device")
			return d.ID, nil
		}
	}

	first := devices[0]
	sess.ActiveDeviceID = first.ID
	p.log.WithFields(logrus.Fields{"device": first.Name, "device_id": first.ID}).Debug("no active device, using first available")
	if err := p.music.TransferPlayback(ctx, cred, first.ID, false); err != nil {
		// Usually just means nothing is playing yet.
		p.log.WithError(err).Info("could not transfer playback")
	}
	return first.ID, nil
}

func (p *PlaybackController) retryOnFreshDevice(ctx context.Context, sess *domain.Session, cred domain.Credential, req ports.PlayRequest) error {
	devices, err := p.music.Devices(ctx, cred)
	if err != nil {
		return fmt.Errorf("playback: refresh devices: %w", err)
	}
	if len(devices) == 0 {
		p.log.Warn("still no devices after refresh")
		return ports.ErrNoDevices
	}

	target := devices[0]
	sess.ActiveDeviceID = target.ID
	if err := p.music.TransferPlayback(ctx, cred, target.ID, true); err != nil {
		return fmt.Errorf("playback: force transfer to %s: %w", target.ID, err)
	}
	if err := sleepCtx(ctx, p.settleDelay); err != nil {
		return err
	}

	req.DeviceID = target.ID
	if err := p.music.StartPlayback(ctx, cred, req); err != nil {
		p.log.WithError(err).Error("playback failed after retry")
		return fmt.Errorf("playback: start after retry: %w", err)
	}
	p.log.WithField("device_id", target.ID).Info("playback started after retry")
	return nil
}

// Resume continues whatever the player had queued.
func (p *PlaybackController) Resume(ctx context.Context, sess *domain.Session, cred domain.Credential) error {
	return p.Play(ctx, sess, cred, ports.PlayRequest{})
}

// Pause pauses playback.
func (p *PlaybackController) Pause(ctx context.Context, cred domain.Credential) error {
	if err := p.music.PausePlayback(ctx, cred); err != nil {
		return fmt.Errorf("playback: pause: %w", err)
	}
	return nil
}

// Next skips to the next track.
func (p *PlaybackController) Next(ctx context.Context, cred domain.Credential) error {
	if err := p.music.NextTrack(ctx, cred); err != nil {
		return fmt.Errorf("playback: next: %w", err)
	}
	return nil
}

// Previous goes back one track.
func (p *PlaybackController) Previous(ctx context.Context, cred domain.Credential) error {
	if err := p.music.PreviousTrack(ctx, cred); err != nil {
		return fmt.Errorf("playback: previous: %w", err)
	}
	return nil
}

// Current reports what is playing. A nil playback means nothing is.
func (p *PlaybackController) Current(ctx context.Context, cred domain.Credential) (*domain.Playback, error) {
	pb, err := p.music.CurrentPlayback(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("playback: current: %w", err)
	}
	return pb, nil
}

// PlaySuggested plays the suggestion at index. Out-of-range indexes play the first
// suggestion instead of failing.
func (p *PlaybackController) PlaySuggested(ctx context.Context, sess *domain.Session, cred domain.Credential, index int) string {
	track, used, ok := sess.Context.Suggestion(index)
	if !ok {
		return "I don't have any suggested songs to play right now."
	}
	if used != index {
		p.log.WithFields(logrus.Fields{
			"requested": index,
			"available": len(sess.Context.LastSuggestedSongs),
		}).Info("suggestion index out of range, playing the first one")
	}

	if err := p.Play(ctx, sess, cred, ports.PlayRequest{URIs: []string{track.URI}}); err != nil {
		return failureReply(err, "I couldn't play the suggested song. Please make sure Spotify is open.")
	}
	return fmt.Sprintf("Playing %s.", track.Label())
}

// PlaySong searches for a named song. A confident match plays immediately; otherwise up
// to three candidates are stored as options and listed.
func (p *PlaybackController) PlaySong(ctx context.Context, sess *domain.Session, cred domain.Credential, songName, artist string) string {
	query := strings.TrimSpace(songName + " " + artist)
	tracks, err := p.music.SearchTracks(ctx, cred, query, songSearchLimit)
	if err != nil {
		p.log.WithError(err).WithField("query", query).Error("song search failed")
		return failureReply(err, "I'm having trouble with Spotify right now. Please make sure you're logged in.")
	}
	if len(tracks) == 0 {
		return fmt.Sprintf("Sorry, I couldn't find a song matching %q on Spotify.", songName)
	}

	if isConfidentMatch(songName, artist, tracks) {
		track := tracks[0]
		if err := p.Play(ctx, sess, cred, ports.PlayRequest{URIs: []string{track.URI}}); err != nil {
			return failureReply(err, "I found the song but couldn't play it. Please make sure Spotify is open.")
		}
		return fmt.Sprintf("Playing %s.", track.Label())
	}

	if len(tracks) > maxOptions {
		tracks = tracks[:maxOptions]
	}
	sess.Context.ReplaceSuggestions(tracks)
	return formatOptions(
		"I found these songs matching your request:",
		sess.Context.LastSuggestedSongs,
		"Which one would you like me to play?",
	)
}

// DeviceSelection is the outcome of an explicit device choice.
type DeviceSelection struct {
	Success  bool    `json:"success"`
	DeviceID string  `json:"device_id"`
	Error    *string `json:"error"`
}

// SetActiveDevice records deviceID as the session's device and transfers playback to
// it, retrying with a doubling backoff. Confirmation continues in the background.
func (p *PlaybackController) SetActiveDevice(ctx context.Context, sess *domain.Session, cred domain.Credential, deviceID string) DeviceSelection {
	sess.ActiveDeviceID = deviceID
	log := p.log.WithField("device_id", deviceID)

	if devices, err := p.music.Devices(ctx, cred); err != nil {
		log.WithError(err).Warn("could not check devices")
	} else if !containsDevice(devices, deviceID) {
		log.Info("device not in the available list yet, transferring anyway")
	}

	var lastErr error
	backoff := p.transferBackoff
	for attempt := 1; attempt <= p.transferAttempts; attempt++ {
		lastErr = p.music.TransferPlayback(ctx, cred, deviceID, false)
		if lastErr == nil {
			log.Info("transferred playback")
			break
		}
		log.WithError(lastErr).Warnf("transfer attempt %d/%d failed", attempt, p.transferAttempts)
		if attempt == p.transferAttempts {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	if p.watcher != nil {
		p.watcher.WatchDevice(sess.ID, cred, deviceID)
	}

	sel := DeviceSelection{Success: lastErr == nil, DeviceID: deviceID}
	if lastErr != nil {
		msg := lastErr.Error()
		sel.Error = &msg
	}
	return sel
}

func containsDevice(devices []domain.Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// failureReply maps provider failures onto the assistant's wording.
func failureReply(err error, generic string) string {
	switch {
	case errors.Is(err, ports.ErrPremiumRequired):
		return "Controlling playback needs a Spotify Premium account."
	case errors.Is(err, ports.ErrUnauthorized):
		return "Your Spotify login has expired. Please log in to Spotify again."
	case errors.Is(err, ports.ErrNoDevices):
		return "I couldn't find a Spotify device. Please open Spotify on one of your devices."
	default:
		return generic
	}
}

func formatOptions(header string, tracks []domain.Track, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for i, t := range tracks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Label())
	}
	b.WriteString("\n")
	b.WriteString(footer)
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("playback: canceled while waiting: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
