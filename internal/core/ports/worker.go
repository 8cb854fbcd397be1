package ports

import "github.com/ewilliams-labs/mirror/internal/core/domain"

// DeviceWatcher confirms in the background that a device chosen by the user shows up,
// recording it as the session's active device once it does.
type DeviceWatcher interface {
	WatchDevice(sessionID string, cred domain.Credential, deviceID string)
}
