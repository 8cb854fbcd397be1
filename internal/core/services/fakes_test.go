package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var validCred = domain.Credential{AccessToken: "token"}

func nullLogger() logrus.FieldLogger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

type transferCall struct {
	deviceID string
	force    bool
}

// fakeMusic is a scriptable MusicProvider that records every call.
type fakeMusic struct {
	mu sync.Mutex

	search      map[string][]domain.Track
	searchErr   error
	recs        []domain.Track
	recsErr     error
	topTracks   []domain.Track
	topErr      error
	devices     [][]domain.Device // successive responses, the last one repeats
	devicesErr  error
	transferErr error
	startErrs   []error // successive StartPlayback results, nil once exhausted
	controlErr  error
	playback    *domain.Playback

	searches    []string
	transfers   []transferCall
	started     []ports.PlayRequest
	deviceCalls int
	controls    []string
}

func (f *fakeMusic) SearchTracks(_ context.Context, _ domain.Credential, query string, limit int) ([]domain.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	tracks := f.search[query]
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

func (f *fakeMusic) Recommendations(context.Context, domain.Credential, []string, int) ([]domain.Track, error) {
	return f.recs, f.recsErr
}

func (f *fakeMusic) ArtistTopTracks(context.Context, domain.Credential, string) ([]domain.Track, error) {
	return f.topTracks, f.topErr
}

func (f *fakeMusic) Devices(context.Context, domain.Credential) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceCalls++
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	if len(f.devices) == 0 {
		return nil, nil
	}
	i := f.deviceCalls - 1
	if i >= len(f.devices) {
		i = len(f.devices) - 1
	}
	return f.devices[i], nil
}

func (f *fakeMusic) TransferPlayback(_ context.Context, _ domain.Credential, deviceID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transferCall{deviceID: deviceID, force: force})
	return f.transferErr
}

func (f *fakeMusic) StartPlayback(_ context.Context, _ domain.Credential, req ports.PlayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	if len(f.startErrs) == 0 {
		return nil
	}
	err := f.startErrs[0]
	f.startErrs = f.startErrs[1:]
	return err
}

func (f *fakeMusic) PausePlayback(context.Context, domain.Credential) error {
	return f.control("pause")
}

func (f *fakeMusic) NextTrack(context.Context, domain.Credential) error {
	return f.control("next")
}

func (f *fakeMusic) PreviousTrack(context.Context, domain.Credential) error {
	return f.control("previous")
}

func (f *fakeMusic) control(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, name)
	return f.controlErr
}

func (f *fakeMusic) CurrentPlayback(context.Context, domain.Credential) (*domain.Playback, error) {
	return f.playback, nil
}

func (f *fakeMusic) CurrentUser(context.Context, domain.Credential) (string, error) {
	return "user", nil
}

// promptRouter answers a prompt with the response registered for the first marker the
// prompt contains, and fails for unknown prompts.
type promptRouter struct {
	mu      sync.Mutex
	answers map[string]string
	prompts []string
}

const (
	markClassify     = "Analyze this user request"
	markCommand      = "about music playback"
	markMood         = "current mood"
	markSimilar      = "sound similar to"
	markContext      = "Read the user's mood and intent closely"
	markMoodFallback = "Consider the mood, the activity"
	markQuestion     = "answer this music question"
	markPersona      = "magic mirror"
)

func newPromptRouter(answers map[string]string) *promptRouter {
	return &promptRouter{answers: answers}
}

func (p *promptRouter) Complete(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	for marker, answer := range p.answers {
		if strings.Contains(prompt, marker) {
			return answer, nil
		}
	}
	return "", errors.New("no scripted answer")
}

func (p *promptRouter) count(marker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, prompt := range p.prompts {
		if strings.Contains(prompt, marker) {
			n++
		}
	}
	return n
}

// memSessions is a minimal SessionStore.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	saveErr  error
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]domain.Session)}
}

func (m *memSessions) Load(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return domain.NewSession(id), nil
}

func (m *memSessions) Save(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[s.ID] = s
	return nil
}

func track(id, name, artist string) domain.Track {
	return domain.Track{ID: id, Name: name, Artist: artist, ArtistID: "a-" + artist, URI: "spotify:track:" + id}
}

func activeDevice(id string) []domain.Device {
	return []domain.Device{{ID: id, Name: "Speaker", Type: "Speaker", IsActive: true}}
}
