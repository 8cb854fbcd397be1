package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	orch     *Orchestrator
	music    *fakeMusic
	llm      *promptRouter
	sessions *memSessions
}

func newHarness(music *fakeMusic, answers map[string]string) *harness {
	if music.devices == nil {
		music.devices = [][]domain.Device{activeDevice("d1")}
	}
	llm := newPromptRouter(answers)
	log := nullLogger()
	sessions := newMemSessions()
	orch := NewOrchestrator(
		sessions,
		NewIntentExtractor(llm, log),
		newTestPlayback(music),
		NewRecommendationEngine(music, llm, log),
		llm,
		log,
	)
	return &harness{orch: orch, music: music, llm: llm, sessions: sessions}
}

func (h *harness) seed(t *testing.T, id string, tracks ...domain.Track) {
	t.Helper()
	s := domain.NewSession(id)
	s.Context.ReplaceSuggestions(tracks)
	require.NoError(t, h.sessions.Save(context.Background(), s))
}

func (h *harness) ask(t *testing.T, query string) AskResult {
	t.Helper()
	res, err := h.orch.Ask(context.Background(), AskRequest{SessionID: "s1", Credential: validCred, Query: query})
	require.NoError(t, err)
	return res
}

var threeSuggestions = []domain.Track{
	track("t1", "Katchi", "Ofenbach"),
	track("t2", "Be Mine", "Ofenbach"),
	track("t3", "Wasted Love", "Ofenbach"),
}

const playNoSong = `{"intent":"music","sub_intent":"play","song_name":null,"is_selecting_option":false}`

func TestOrchestrator_AskRejectsBlankQuery(t *testing.T) {
	h := newHarness(&fakeMusic{}, nil)

	_, err := h.orch.Ask(context.Background(), AskRequest{SessionID: "s1", Query: "   "})

	assert.ErrorIs(t, err, ErrEmptyQuery)
}

// TestOrchestrator_MalformedClassificationFallsBackToGeneral verifies garbage from the
// classifier is answered conversationally instead of failing.
func TestOrchestrator_MalformedClassificationFallsBackToGeneral(t *testing.T) {
	for _, raw := range []string{"not json at all", "{\"intent\": ", "```json\n{\"intent\":\"music\",\"sub_intent\":\"dance\"}\n```", ""} {
		t.Run(raw, func(t *testing.T) {
			h := newHarness(&fakeMusic{}, map[string]string{
				markClassify: raw,
				markPersona:  "Hello there.",
			})

			res := h.ask(t, "hi")

			assert.Equal(t, "Hello there.", res.Response)
			assert.Empty(t, h.music.started)
		})
	}
}

func TestOrchestrator_GeneralFallbacks(t *testing.T) {
	t.Run("model failure", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{markClassify: `{"intent":"general"}`})
		assert.Equal(t, cloudedReply, h.ask(t, "hi").Response)
	})
	t.Run("empty answer", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{markClassify: `{"intent":"general"}`, markPersona: "  "})
		assert.Equal(t, unclearReply, h.ask(t, "hi").Response)
	})
}

func TestOrchestrator_MusicRequiresLogin(t *testing.T) {
	h := newHarness(&fakeMusic{}, map[string]string{markClassify: playNoSong})

	res, err := h.orch.Ask(context.Background(), AskRequest{SessionID: "s1", Query: "play something"})

	require.NoError(t, err)
	assert.Equal(t, loginHint, res.Response)
	assert.Empty(t, h.music.started)
}

// TestOrchestrator_DemonstrativePlaysFirstSuggestion verifies "play it" style requests.
func TestOrchestrator_DemonstrativePlaysFirstSuggestion(t *testing.T) {
	for _, query := range []string{"play it", "play that song", "yes play this one", "put that on"} {
		t.Run(query, func(t *testing.T) {
			h := newHarness(&fakeMusic{}, map[string]string{markClassify: playNoSong})
			h.seed(t, "s1", threeSuggestions...)

			res := h.ask(t, query)

			assert.Equal(t, `Playing "Katchi" by Ofenbach.`, res.Response)
			require.Len(t, h.music.started, 1)
			assert.Equal(t, []string{"spotify:track:t1"}, h.music.started[0].URIs)
		})
	}
}

func TestOrchestrator_OrdinalPlaysThatSuggestion(t *testing.T) {
	tests := []struct {
		query   string
		wantURI string
	}{
		{"play the first", "spotify:track:t1"},
		{"the second please", "spotify:track:t2"},
		{"go with the 3rd", "spotify:track:t3"},
		{"play #2", "spotify:track:t2"},
		{"option three", "spotify:track:t3"},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			h := newHarness(&fakeMusic{}, map[string]string{markClassify: playNoSong})
			h.seed(t, "s1", threeSuggestions...)

			h.ask(t, tc.query)

			require.Len(t, h.music.started, 1)
			assert.Equal(t, []string{tc.wantURI}, h.music.started[0].URIs)
			assert.Equal(t, 0, h.llm.count(markCommand))
		})
	}
}

func TestOrchestrator_OptionSelection(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantURI string
	}{
		{"in range", `{"intent":"music","sub_intent":"play","is_selecting_option":true,"option_number":2}`, "spotify:track:t2"},
		{"as string", `{"intent":"music","sub_intent":"play","is_selecting_option":"true","option_number":"3"}`, "spotify:track:t3"},
		{"out of range plays first", `{"intent":"music","sub_intent":"play","is_selecting_option":true,"option_number":9}`, "spotify:track:t1"},
		{"missing number plays first", `{"intent":"music","sub_intent":"play","is_selecting_option":true}`, "spotify:track:t1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(&fakeMusic{}, map[string]string{markClassify: tc.raw})
			h.seed(t, "s1", threeSuggestions...)

			h.ask(t, "that option")

			require.Len(t, h.music.started, 1)
			assert.Equal(t, []string{tc.wantURI}, h.music.started[0].URIs)
		})
	}
}

func TestOrchestrator_PlayNamedSongStoresOptions(t *testing.T) {
	music := &fakeMusic{search: map[string][]domain.Track{
		"Yesterday": {track("a", "Hey Jude", "The Beatles"), track("b", "Let It Be", "The Beatles"), track("c", "Help!", "The Beatles")},
	}}
	h := newHarness(music, map[string]string{
		markClassify: `{"intent":"music","sub_intent":"play","song_name":"Yesterday"}`,
	})

	res := h.ask(t, "play yesterday")

	assert.Contains(t, res.Response, "Which one would you like me to play?")
	stored, _ := h.sessions.Load(context.Background(), "s1")
	assert.Equal(t, []string{"a", "b", "c"}, ids(stored.Context.LastSuggestedSongs))
}

func TestOrchestrator_AmbiguousPlayUsesCommandExtractor(t *testing.T) {
	t.Run("any of them picks at random", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{
			markClassify: playNoSong,
			markCommand:  `{"intent":"play_option","option_number":null}`,
		})
		h.orch.pick = func(n int) int { return n - 1 }
		h.seed(t, "s1", threeSuggestions...)

		h.ask(t, "just pick any of them")

		require.Len(t, h.music.started, 1)
		assert.Equal(t, []string{"spotify:track:t3"}, h.music.started[0].URIs)
	})

	t.Run("mood play", func(t *testing.T) {
		music := &fakeMusic{search: map[string][]domain.Track{"Happy Pharrell": {track("h1", "Happy", "Pharrell Williams")}}}
		h := newHarness(music, map[string]string{
			markClassify: playNoSong,
			markCommand:  `{"intent":"play"}`,
			markMood:     `{"mood":"happy","genre":"pop","song_query":"Happy Pharrell"}`,
		})

		res := h.ask(t, "play something for my mood")

		assert.Equal(t, `Based on your mood (happy), I'm playing "Happy" by Pharrell Williams. Enjoy!`, res.Response)
	})

	t.Run("plain play resumes", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{
			markClassify: playNoSong,
			markCommand:  `{"intent":"play"}`,
		})

		res := h.ask(t, "play")

		assert.Equal(t, "Playing music on Spotify.", res.Response)
		require.Len(t, h.music.started, 1)
		assert.Empty(t, h.music.started[0].URIs)
	})

	t.Run("unusable command asks for a song", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{markClassify: playNoSong})

		res := h.ask(t, "play")

		assert.Equal(t, "I'm not sure which song you'd like me to play. Could you specify a song or artist?", res.Response)
	})
}

// TestOrchestrator_Suggest verifies context merging and the stored batch.
func TestOrchestrator_Suggest(t *testing.T) {
	music := &fakeMusic{search: map[string][]domain.Track{
		"Happy Pharrell Williams": {track("h1", "Happy", "Pharrell Williams")},
		"Walking on Sunshine Katrina and the Waves": {track("w1", "Walking on Sunshine", "Katrina and the Waves")},
	}}
	h := newHarness(music, map[string]string{
		markClassify: `{"intent":"music","sub_intent":"suggest","mood":"happy","genre":null}`,
		markContext:  `[{"name":"Happy","artist":"Pharrell Williams"},{"name":"Walking on Sunshine","artist":"Katrina and the Waves"}]`,
	})
	h.seed(t, "s1")
	prev, _ := h.sessions.Load(context.Background(), "s1")
	prev.Context.Genre = "funk"
	require.NoError(t, h.sessions.Save(context.Background(), prev))

	res := h.ask(t, "I need something to cheer me up")

	assert.Equal(t, "Based on your mood, here are some songs that might help:\n"+
		"1. \"Happy\" by Pharrell Williams\n"+
		"2. \"Walking on Sunshine\" by Katrina and the Waves\n"+
		"\nWould you like me to play any of these?", res.Response)

	stored, _ := h.sessions.Load(context.Background(), "s1")
	assert.Equal(t, "happy", stored.Context.Mood)
	assert.Equal(t, "funk", stored.Context.Genre)
	assert.Equal(t, "I need something to cheer me up", stored.Context.LastRecommendationQuery)
	assert.Equal(t, []string{"h1", "w1"}, ids(stored.Context.LastSuggestedSongs))
}

func TestOrchestrator_SuggestNothingFound(t *testing.T) {
	h := newHarness(&fakeMusic{}, map[string]string{
		markClassify: `{"intent":"music","sub_intent":"suggest","reference_song":"Katchi"}`,
	})
	h.seed(t, "s1", threeSuggestions...)

	res := h.ask(t, "songs like katchi")

	assert.Equal(t, noSuggestionReply, res.Response)
	stored, _ := h.sessions.Load(context.Background(), "s1")
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(stored.Context.LastSuggestedSongs))
	assert.Equal(t, "Katchi", stored.Context.CurrentSongTopic)
}

func TestOrchestrator_Control(t *testing.T) {
	tests := []struct {
		action    string
		wantReply string
		wantCall  string
	}{
		{"pause", "Music paused.", "pause"},
		{"next", "Skipped to the next song.", "next"},
		{"previous", "Playing the previous song.", "previous"},
		{"volume", "I'm sorry, volume control is not yet implemented.", ""},
	}
	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			h := newHarness(&fakeMusic{}, map[string]string{
				markClassify: fmt.Sprintf(`{"intent":"music","sub_intent":"control","action":%q}`, tc.action),
			})

			res := h.ask(t, tc.action)

			assert.Equal(t, tc.wantReply, res.Response)
			if tc.wantCall == "" {
				assert.Empty(t, h.music.controls)
			} else {
				assert.Equal(t, []string{tc.wantCall}, h.music.controls)
			}
		})
	}

	t.Run("resume goes through device selection", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{
			markClassify: `{"intent":"music","sub_intent":"control","action":"resume"}`,
		})

		assert.Equal(t, "Resuming playback.", h.ask(t, "resume").Response)
		assert.Len(t, h.music.started, 1)
	})

	t.Run("failure", func(t *testing.T) {
		h := newHarness(&fakeMusic{controlErr: errors.New("down")}, map[string]string{
			markClassify: `{"intent":"music","sub_intent":"control","action":"pause"}`,
		})

		assert.Equal(t, "I couldn't control the playback. Please make sure Spotify is open and playing.", h.ask(t, "pause").Response)
	})
}

func TestOrchestrator_Query(t *testing.T) {
	t.Run("current song", func(t *testing.T) {
		song := track("t1", "Katchi", "Ofenbach")
		h := newHarness(&fakeMusic{playback: &domain.Playback{IsPlaying: true, Track: &song}}, map[string]string{
			markClassify: `{"intent":"music","sub_intent":"query","question_type":"current_song"}`,
		})
		assert.Equal(t, "Now playing: Katchi by Ofenbach.", h.ask(t, "what's playing").Response)
	})

	t.Run("nothing playing", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{
			markClassify: `{"intent":"music","sub_intent":"query","question_type":"current_song"}`,
		})
		assert.Equal(t, "No music is currently playing.", h.ask(t, "what's playing").Response)
	})

	t.Run("music question", func(t *testing.T) {
		h := newHarness(&fakeMusic{}, map[string]string{
			markClassify: `{"intent":"music","sub_intent":"query","question_type":"artist_info"}`,
			markQuestion: "Ofenbach is a French DJ duo.",
		})
		assert.Equal(t, "Ofenbach is a French DJ duo.", h.ask(t, "who is ofenbach").Response)
	})
}

// TestOrchestrator_HistoryIsBounded verifies only the last ten exchanges are kept.
func TestOrchestrator_HistoryIsBounded(t *testing.T) {
	h := newHarness(&fakeMusic{}, map[string]string{markClassify: `{"intent":"general"}`, markPersona: "ok"})

	var res AskResult
	for i := 1; i <= 11; i++ {
		res = h.ask(t, fmt.Sprintf("question %d", i))
	}

	require.Len(t, res.History, domain.HistoryLimit)
	assert.Equal(t, "question 2", res.History[0].Query)
	assert.Equal(t, "question 11", res.History[9].Query)
}

func TestOrchestrator_SessionsAreIsolated(t *testing.T) {
	h := newHarness(&fakeMusic{}, map[string]string{markClassify: playNoSong})
	h.seed(t, "other", threeSuggestions...)

	res := h.ask(t, "play it")

	assert.Equal(t, "I'm not sure which song you'd like me to play. Could you specify a song or artist?", res.Response)
	assert.Empty(t, h.music.started)
}

func TestOrchestrator_SaveFailure(t *testing.T) {
	h := newHarness(&fakeMusic{}, map[string]string{markClassify: `{"intent":"general"}`, markPersona: "ok"})
	h.sessions.saveErr = errors.New("disk full")

	_, err := h.orch.Ask(context.Background(), AskRequest{SessionID: "s1", Query: "hi"})

	assert.ErrorContains(t, err, "disk full")
}

func TestOrchestrator_ConcurrentTurnsKeepEveryExchange(t *testing.T) {
	h := newHarness(&fakeMusic{}, map[string]string{markClassify: `{"intent":"general"}`, markPersona: "ok"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.Ask(context.Background(), AskRequest{SessionID: "s1", Query: fmt.Sprintf("q%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, _ := h.sessions.Load(context.Background(), "s1")
	assert.Equal(t, 8, stored.History.Len())
	assert.Empty(t, h.orch.locks.locks)
}

func TestOrchestrator_SetActiveDevicePersistsChoice(t *testing.T) {
	h := newHarness(&fakeMusic{devices: [][]domain.Device{{{ID: "kitchen"}}}}, nil)

	sel, err := h.orch.SetActiveDevice(context.Background(), "s1", validCred, "kitchen")
	require.NoError(t, err)

	assert.True(t, sel.Success)
	assert.Equal(t, "kitchen", sel.DeviceID)
	sess, err := h.sessions.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "kitchen", sess.ActiveDeviceID)
}

func TestOrchestrator_RecordActiveDeviceKeepsContext(t *testing.T) {
	h := newHarness(&fakeMusic{}, nil)
	h.seed(t, "s1", threeSuggestions...)

	require.NoError(t, h.orch.RecordActiveDevice(context.Background(), "s1", "speaker"))

	sess, err := h.sessions.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "speaker", sess.ActiveDeviceID)
	assert.Len(t, sess.Context.LastSuggestedSongs, 3)
}

func TestOrchestrator_Devices(t *testing.T) {
	h := newHarness(&fakeMusic{devices: [][]domain.Device{activeDevice("d9")}}, nil)

	devices, err := h.orch.Devices(context.Background(), validCred)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d9", devices[0].ID)

	h.music.devicesErr = errors.New("boom")
	_, err = h.orch.Devices(context.Background(), validCred)
	assert.Error(t, err)
}
