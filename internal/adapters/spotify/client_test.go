package spotify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ewilliams-labs/mirror/internal/adapters/spotify"
	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var cred = domain.Credential{AccessToken: "abc"}

func newTestClient(t *testing.T, h http.HandlerFunc) *spotify.Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	logger, _ := logtest.NewNullLogger()
	return spotify.NewClient(ts.Client(), ts.URL, spotify.Options{MaxAttempts: 1}, logger)
}

func writeSpotifyError(w http.ResponseWriter, status int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"status": status, "message": message, "reason": reason},
	})
}

// TestClient_SearchTracks verifies query encoding, auth and mapping.
func TestClient_SearchTracks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("Authorization: got %q", got)
		}
		q := r.URL.Query()
		if q.Get("q") != "track:Katchi artist:Ofenbach" || q.Get("type") != "track" || q.Get("limit") != "3" {
			t.Errorf("unexpected query: %v", q)
		}
		_, _ = io.WriteString(w, `{"tracks":{"items":[
			{"id":"t1","name":"Katchi","uri":"spotify:track:t1","artists":[{"id":"a1","name":"Ofenbach"},{"id":"a2","name":"Nick Waterhouse"}]},
			{"id":"t2","name":"Katchi - Remix","artists":[{"id":"a1","name":"Ofenbach"}]}
		]}}`)
	})

	got, err := client.SearchTracks(context.Background(), cred, "track:Katchi artist:Ofenbach", 3)
	if err != nil {
		t.Fatalf("SearchTracks: %v", err)
	}

	want := []domain.Track{
		{ID: "t1", Name: "Katchi", Artist: "Ofenbach", ArtistID: "a1", URI: "spotify:track:t1"},
		{ID: "t2", Name: "Katchi - Remix", Artist: "Ofenbach", ArtistID: "a1", URI: "spotify:track:t2"},
	}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("track %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestClient_RequiresCredential(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := client.Devices(context.Background(), domain.Credential{})
	if !errors.Is(err, ports.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if called {
		t.Fatal("request should not be sent without a token")
	}
}

// TestClient_PlayerErrors verifies Spotify player reasons map onto the port sentinels.
func TestClient_PlayerErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		reason  string
		want    error
		notWant []error
	}{
		{name: "no active device", status: 404, message: "Player command failed: No active device found", reason: "NO_ACTIVE_DEVICE", want: ports.ErrNoActiveDevice, notWant: []error{ports.ErrPremiumRequired}},
		{name: "device not found", status: 404, message: "Device not found", want: ports.ErrDeviceNotFound, notWant: []error{ports.ErrNoActiveDevice}},
		{name: "premium", status: 403, message: "Player command failed: Premium required", reason: "PREMIUM_REQUIRED", want: ports.ErrPremiumRequired, notWant: []error{ports.ErrNoActiveDevice, ports.ErrDeviceNotFound}},
		{name: "expired token", status: 401, message: "The access token expired", want: ports.ErrUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeSpotifyError(w, tc.status, tc.message, tc.reason)
			})

			err := client.StartPlayback(context.Background(), cred, ports.PlayRequest{DeviceID: "d1", URIs: []string{"spotify:track:t1"}})

			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			for _, other := range tc.notWant {
				if errors.Is(err, other) {
					t.Errorf("unexpected match with %v", other)
				}
			}
			var apiErr *spotify.APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tc.status {
				t.Errorf("expected APIError with status %d, got %v", tc.status, err)
			}
		})
	}
}

func TestClient_StartPlaybackRequest(t *testing.T) {
	tests := []struct {
		name       string
		req        ports.PlayRequest
		wantDevice string
		wantBody   string
	}{
		{name: "uris", req: ports.PlayRequest{DeviceID: "d1", URIs: []string{"spotify:track:t1"}}, wantDevice: "d1", wantBody: `{"uris":["spotify:track:t1"]}`},
		{name: "context", req: ports.PlayRequest{ContextURI: "spotify:album:x"}, wantBody: `{"context_uri":"spotify:album:x"}`},
		{name: "resume", req: ports.PlayRequest{}, wantBody: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut || r.URL.Path != "/me/player/play" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.URL.Query().Get("device_id"); got != tc.wantDevice {
					t.Errorf("device_id: got %q, want %q", got, tc.wantDevice)
				}
				body, _ := io.ReadAll(r.Body)
				if got := string(body); !jsonEqual(got, tc.wantBody) {
					t.Errorf("body: got %q, want %q", got, tc.wantBody)
				}
				w.WriteHeader(http.StatusNoContent)
			})

			if err := client.StartPlayback(context.Background(), cred, tc.req); err != nil {
				t.Fatalf("StartPlayback: %v", err)
			}
		})
	}
}

func jsonEqual(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	var x, y any
	if json.Unmarshal([]byte(a), &x) != nil || json.Unmarshal([]byte(b), &y) != nil {
		return false
	}
	xb, _ := json.Marshal(x)
	yb, _ := json.Marshal(y)
	return string(xb) == string(yb)
}

func TestClient_DevicesAndTransfer(t *testing.T) {
	var transferBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/me/player/devices":
			_, _ = io.WriteString(w, `{"devices":[{"id":"d1","name":"Kitchen","type":"Speaker","is_active":false,"volume_percent":40},{"id":"d2","name":"Phone","type":"Smartphone","is_active":true,"volume_percent":null}]}`)
		case r.Method == http.MethodPut && r.URL.Path == "/me/player":
			b, _ := io.ReadAll(r.Body)
			transferBody = string(b)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	devices, err := client.Devices(context.Background(), cred)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	want := []domain.Device{
		{ID: "d1", Name: "Kitchen", Type: "Speaker", VolumePercent: 40},
		{ID: "d2", Name: "Phone", Type: "Smartphone", IsActive: true},
	}
	if len(devices) != 2 || devices[0] != want[0] || devices[1] != want[1] {
		t.Fatalf("devices: got %+v, want %+v", devices, want)
	}

	if err := client.TransferPlayback(context.Background(), cred, "d1", true); err != nil {
		t.Fatalf("TransferPlayback: %v", err)
	}
	if !jsonEqual(transferBody, `{"device_ids":["d1"],"play":true}`) {
		t.Errorf("transfer body: got %s", transferBody)
	}
}

func TestClient_CurrentPlayback(t *testing.T) {
	t.Run("nothing playing", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		pb, err := client.CurrentPlayback(context.Background(), cred)
		if err != nil || pb != nil {
			t.Fatalf("expected nil playback, got %+v, %v", pb, err)
		}
	})

	t.Run("playing", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"is_playing":true,"progress_ms":1200,"item":{"id":"t1","name":"Katchi","artists":[{"id":"a1","name":"Ofenbach"}]},"device":{"id":"d1","name":"Kitchen","is_active":true}}`)
		})
		pb, err := client.CurrentPlayback(context.Background(), cred)
		if err != nil {
			t.Fatalf("CurrentPlayback: %v", err)
		}
		if !pb.IsPlaying || pb.Track == nil || pb.Track.Name != "Katchi" || pb.Track.Artist != "Ofenbach" || pb.Device.ID != "d1" {
			t.Fatalf("unexpected playback %+v", pb)
		}
	})
}

func TestClient_ArtistTopTracksAndRecommendations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/artists/a1/top-tracks":
			if r.URL.Query().Get("market") != "US" {
				t.Errorf("market missing")
			}
			_, _ = io.WriteString(w, `{"tracks":[{"id":"t1","name":"Katchi","artists":[{"id":"a1","name":"Ofenbach"}]}]}`)
		case "/recommendations":
			if got := r.URL.Query().Get("seed_tracks"); got != "t1" {
				t.Errorf("seed_tracks: got %q", got)
			}
			writeSpotifyError(w, http.StatusNotFound, "Not Found", "")
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	top, err := client.ArtistTopTracks(context.Background(), cred, "a1")
	if err != nil || len(top) != 1 || top[0].ID != "t1" {
		t.Fatalf("ArtistTopTracks: %+v, %v", top, err)
	}

	_, err = client.Recommendations(context.Background(), cred, []string{"t1"}, 5)
	var apiErr *spotify.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if errors.Is(err, ports.ErrDeviceNotFound) {
		t.Fatal("a plain 404 is not a missing device")
	}
}

func TestClient_CurrentUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"user-1"}`)
	})
	id, err := client.CurrentUser(context.Background(), cred)
	if err != nil || id != "user-1" {
		t.Fatalf("CurrentUser: %q, %v", id, err)
	}
}
