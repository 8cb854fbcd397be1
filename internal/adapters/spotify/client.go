package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com/v1"

// Client is an HTTP client for the Spotify Web API. It holds no credentials of its own:
// every call is authorized with the credential passed to it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retry      Options
	log        logrus.FieldLogger
	sleep      func(context.Context, time.Duration) error
}

// compile-time interface assertion
var _ ports.MusicProvider = (*Client)(nil)

// NewClient constructs a new Spotify client. Nil arguments fall back to
// http.DefaultClient and the standard logrus logger.
func NewClient(httpClient *http.Client, baseURL string, opts Options, log logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		retry:      opts.withDefaults(),
		log:        log.WithField("component", "spotify"),
		sleep:      sleepContext,
	}
}

// CurrentUser returns the ID of the account the credential belongs to. It doubles as
// a token validity check.
func (c *Client) CurrentUser(ctx context.Context, cred domain.Credential) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, cred, http.MethodGet, "/me", nil, nil, &me); err != nil {
		return "", err
	}
	return me.ID, nil
}

// call performs one authorized API request. A non-nil body is sent as JSON and a
// non-nil out is decoded from a 200 response. Error statuses become *APIError.
func (c *Client) call(ctx context.Context, cred domain.Credential, method, path string, query url.Values, body, out any) error {
	if !cred.Valid() {
		return fmt.Errorf("spotify adapter: %s %s: %w", method, path, ports.ErrUnauthorized)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("spotify adapter: encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("spotify adapter: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("spotify request")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("spotify adapter: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("spotify adapter: %s %s: %w", method, path, decodeAPIError(resp))
	}

	if out == nil || resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spotify adapter: decode %s: %w", path, err)
	}
	return nil
}
