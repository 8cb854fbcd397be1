package spotify

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/ports"
)

// APIError is an error status returned by the Web API. It matches the ports sentinels
// with errors.Is so callers never inspect Spotify reasons directly.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("status %d: %s (%s)", e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Is maps Spotify player reasons onto the provider-neutral sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ports.ErrNoActiveDevice:
		return e.Reason == "NO_ACTIVE_DEVICE"
	case ports.ErrPremiumRequired:
		return e.Reason == "PREMIUM_REQUIRED"
	case ports.ErrDeviceNotFound:
		return e.Status == http.StatusNotFound && strings.Contains(strings.ToLower(e.Message), "device not found")
	case ports.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return apiErr
	}

	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil || len(body.Error) == 0 {
		return apiErr
	}

	var detail struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if json.Unmarshal(body.Error, &detail) == nil {
		if detail.Message != "" {
			apiErr.Message = detail.Message
		}
		apiErr.Reason = detail.Reason
		return apiErr
	}

	// Token endpoint style: {"error": "invalid_token"}.
	var code string
	if json.Unmarshal(body.Error, &code) == nil && code != "" {
		apiErr.Message = code
	}
	return apiErr
}
