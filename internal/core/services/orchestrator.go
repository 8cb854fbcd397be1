package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// ErrEmptyQuery is returned when Ask receives a blank utterance.
var ErrEmptyQuery = errors.New("query is required")

const (
	loginHint         = "I'd love to play some music for you, but you need to log in to Spotify first. Try saying 'login to spotify'."
	unclearReply      = "The reflection is unclear... I cannot see the answer at this moment."
	cloudedReply      = "The mirror has clouded over... Please try again."
	noSuggestionReply = "I couldn't find specific songs for your mood. Would you like me to play something popular instead?"
)

// AskRequest is one conversational turn.
type AskRequest struct {
	SessionID  string
	Credential domain.Credential
	Query      string
}

// AskResult is the reply to a turn along with the session's history after it.
type AskResult struct {
	SessionID string
	Response  string
	History   []domain.Exchange
}

// Orchestrator routes each utterance to a handler based on its classified intent and
// keeps the per-session conversation state.
type Orchestrator struct {
	sessions  ports.SessionStore
	intents   *IntentExtractor
	playback  *PlaybackController
	recommend *RecommendationEngine
	llm       ports.Completer
	log       logrus.FieldLogger

	locks sessionLocks
	pick  func(n int) int
	now   func() time.Time
}

// NewOrchestrator wires the router to its collaborators.
func NewOrchestrator(
	sessions ports.SessionStore,
	intents *IntentExtractor,
	playback *PlaybackController,
	recommend *RecommendationEngine,
	llm ports.Completer,
	log logrus.FieldLogger,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		intents:   intents,
		playback:  playback,
		recommend: recommend,
		llm:       llm,
		log:       log.WithField("component", "orchestrator"),
		pick:      rand.Intn,
		now:       time.Now,
	}
}

// Ask handles one turn. Turns of the same session run one at a time; the exchange is
// appended to the session history and persisted before returning.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return AskResult{}, ErrEmptyQuery
	}

	unlock := o.locks.lock(req.SessionID)
	defer unlock()

	sess, err := o.sessions.Load(ctx, req.SessionID)
	if err != nil {
		return AskResult{}, fmt.Errorf("orchestrator: load session: %w", err)
	}
	sess.ID = req.SessionID

	intent := o.intents.Classify(ctx, query)
	log := o.log.WithFields(logrus.Fields{"session_id": req.SessionID, "intent": intent.Kind()})
	log.Info("handling query")

	reply := o.route(ctx, &sess, req.Credential, query, intent)

	sess.History.Append(query, reply)
	sess.UpdatedAt = o.now()
	if err := o.sessions.Save(ctx, sess); err != nil {
		return AskResult{}, fmt.Errorf("orchestrator: save session: %w", err)
	}

	return AskResult{
		SessionID: sess.ID,
		Response:  reply,
		History:   sess.History.Snapshot(),
	}, nil
}

// RecordActiveDevice stores deviceID as the session's active device. It waits for any
// turn of the same session in flight.
func (o *Orchestrator) RecordActiveDevice(ctx context.Context, sessionID, deviceID string) error {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session: %w", err)
	}
	sess.ID = sessionID
	sess.ActiveDeviceID = deviceID
	sess.UpdatedAt = o.now()
	if err := o.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("orchestrator: save session: %w", err)
	}
	return nil
}

// SetActiveDevice points the session's playback at deviceID and persists the choice.
func (o *Orchestrator) SetActiveDevice(ctx context.Context, sessionID string, cred domain.Credential, deviceID string) (DeviceSelection, error) {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return DeviceSelection{}, fmt.Errorf("orchestrator: load session: %w", err)
	}
	sess.ID = sessionID

	sel := o.playback.SetActiveDevice(ctx, &sess, cred, deviceID)
	sess.UpdatedAt = o.now()
	if err := o.sessions.Save(ctx, sess); err != nil {
		return sel, fmt.Errorf("orchestrator: save session: %w", err)
	}
	return sel, nil
}

// Devices lists the playback devices visible to cred.
func (o *Orchestrator) Devices(ctx context.Context, cred domain.Credential) ([]domain.Device, error) {
	devices, err := o.playback.music.Devices(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: devices: %w", err)
	}
	return devices, nil
}

func (o *Orchestrator) route(ctx context.Context, sess *domain.Session, cred domain.Credential, query string, intent domain.Intent) string {
	if intent.Kind() != domain.IntentGeneral && !cred.Valid() {
		return loginHint
	}

	switch in := intent.(type) {
	case domain.PlayIntent:
		return o.handlePlay(ctx, sess, cred, query, in)
	case domain.SuggestIntent:
		return o.handleSuggest(ctx, sess, cred, query, in)
	case domain.ControlIntent:
		return o.handleControl(ctx, sess, cred, in.Action)
	case domain.QueryIntent:
		return o.handleQuery(ctx, cred, query, in)
	default:
		return o.handleGeneral(ctx, sess, query)
	}
}

func (o *Orchestrator) handlePlay(ctx context.Context, sess *domain.Session, cred domain.Credential, query string, in domain.PlayIntent) string {
	switch {
	case in.IsOptionSelection:
		n := 1
		if in.OptionNumber != nil {
			n = *in.OptionNumber
		}
		return o.playback.PlaySuggested(ctx, sess, cred, n-1)
	case in.SongName != "":
		return o.playback.PlaySong(ctx, sess, cred, in.SongName, in.Artist)
	}

	if sess.Context.HasSuggestions() {
		if referencesSuggestion(query) {
			return o.playback.PlaySuggested(ctx, sess, cred, 0)
		}
		if idx, ok := ordinalReference(query); ok {
			return o.playback.PlaySuggested(ctx, sess, cred, idx)
		}
	}
	return o.handleCommand(ctx, sess, cred, query)
}

// handleCommand resolves play utterances the classifier left ambiguous with the
// music-only command extractor.
func (o *Orchestrator) handleCommand(ctx context.Context, sess *domain.Session, cred domain.Credential, query string) string {
	cmd := o.intents.ExtractCommand(ctx, query)
	o.log.WithField("command", cmd.Intent).Debug("resolving ambiguous play request")

	switch cmd.Intent {
	case "play_option":
		return o.playOption(ctx, sess, cred, query, cmd.OptionNumber)
	case "play":
		if cmd.SongName != "" {
			return o.playback.PlaySong(ctx, sess, cred, cmd.SongName, cmd.Artist)
		}
	case "pause":
		return o.handleControl(ctx, sess, cred, domain.ActionPause)
	case "next":
		return o.handleControl(ctx, sess, cred, domain.ActionNext)
	case "previous":
		return o.handleControl(ctx, sess, cred, domain.ActionPrevious)
	case "current_song":
		return o.currentSong(ctx, cred)
	}

	switch {
	case wantsMoodMusic(query):
		return o.playForMood(ctx, sess, cred, query)
	case sess.Context.HasSuggestions():
		return o.playback.PlaySuggested(ctx, sess, cred, 0)
	case cmd.Intent == "play":
		if err := o.playback.Resume(ctx, sess, cred); err != nil {
			return failureReply(err, "I couldn't play music. Please make sure Spotify is open on your device.")
		}
		return "Playing music on Spotify."
	default:
		return "I'm not sure which song you'd like me to play. Could you specify a song or artist?"
	}
}

func (o *Orchestrator) playOption(ctx context.Context, sess *domain.Session, cred domain.Credential, query string, option *int) string {
	count := len(sess.Context.LastSuggestedSongs)
	if option != nil {
		idx := *option - 1
		if idx >= 0 && idx < count {
			return o.playback.PlaySuggested(ctx, sess, cred, idx)
		}
		o.log.WithFields(logrus.Fields{"option": *option, "available": count}).Info("option out of range")
	}
	if count == 0 {
		return "Sorry, I couldn't find that option. Please try your search again."
	}
	if option == nil && wantsAnyOption(query) {
		return o.playback.PlaySuggested(ctx, sess, cred, o.pick(count))
	}
	return o.playback.PlaySuggested(ctx, sess, cred, 0)
}

// playForMood picks one song from a mood reading: the suggested search first, then the
// genre, then whatever the player had queued.
func (o *Orchestrator) playForMood(ctx context.Context, sess *domain.Session, cred domain.Credential, query string) string {
	mood := o.intents.AnalyzeMood(ctx, query)
	log := o.log.WithFields(logrus.Fields{"mood": mood.Mood, "genre": mood.Genre})

	if track, ok := o.firstResult(ctx, cred, mood.SongQuery); ok {
		if err := o.playback.Play(ctx, sess, cred, ports.PlayRequest{URIs: []string{track.URI}}); err != nil {
			return failureReply(err, "I found a song for your mood but couldn't play it. Please make sure Spotify is open.")
		}
		return fmt.Sprintf("Based on your mood (%s), I'm playing %s. Enjoy!", mood.Mood, track.Label())
	}

	if track, ok := o.firstResult(ctx, cred, mood.Genre); ok {
		if err := o.playback.Play(ctx, sess, cred, ports.PlayRequest{URIs: []string{track.URI}}); err != nil {
			return failureReply(err, "I found some music but couldn't play it. Please make sure Spotify is open.")
		}
		return fmt.Sprintf("I found some %s music for your %s mood. Playing %s.", mood.Genre, mood.Mood, track.Label())
	}

	log.Info("no mood match, resuming playback")
	if err := o.playback.Resume(ctx, sess, cred); err != nil {
		return failureReply(err, "I tried to play some music but couldn't. Please make sure Spotify is open.")
	}
	return "Playing some music for you. I hope you enjoy it!"
}

func (o *Orchestrator) firstResult(ctx context.Context, cred domain.Credential, query string) (domain.Track, bool) {
	if strings.TrimSpace(query) == "" {
		return domain.Track{}, false
	}
	tracks, err := o.playback.music.SearchTracks(ctx, cred, query, 1)
	if err != nil {
		o.log.WithError(err).WithField("query", query).Warn("search failed")
		return domain.Track{}, false
	}
	if len(tracks) == 0 {
		return domain.Track{}, false
	}
	return tracks[0], true
}

func (o *Orchestrator) handleSuggest(ctx context.Context, sess *domain.Session, cred domain.Credential, query string, in domain.SuggestIntent) string {
	sess.Context.ApplySuggest(in, query)

	var tracks []domain.Track
	header := "Here are some songs you might like:"
	switch {
	case in.ReferenceSong != "":
		tracks = o.recommend.SimilarTo(ctx, cred, in.ReferenceSong, in.ReferenceArtist, defaultRecommendLimit)
	case in.Genre != "":
		tracks = o.recommend.ForGenre(ctx, cred, in.Genre, defaultRecommendLimit)
	}
	if len(tracks) == 0 {
		header = "Based on your mood, here are some songs that might help:"
		tracks = o.recommend.FromContext(ctx, cred, sess.Context)
	}
	if len(tracks) == 0 {
		return noSuggestionReply
	}

	sess.Context.ReplaceSuggestions(tracks)
	shown := sess.Context.LastSuggestedSongs
	if len(shown) > maxOptions {
		shown = shown[:maxOptions]
	}
	return formatOptions(header, shown, "Would you like me to play any of these?")
}

func (o *Orchestrator) handleControl(ctx context.Context, sess *domain.Session, cred domain.Credential, action domain.ControlAction) string {
	var (
		err   error
		reply string
	)
	switch action {
	case domain.ActionPause:
		err, reply = o.playback.Pause(ctx, cred), "Music paused."
	case domain.ActionResume:
		err, reply = o.playback.Resume(ctx, sess, cred), "Resuming playback."
	case domain.ActionNext:
		err, reply = o.playback.Next(ctx, cred), "Skipped to the next song."
	case domain.ActionPrevious:
		err, reply = o.playback.Previous(ctx, cred), "Playing the previous song."
	case domain.ActionVolume:
		return "I'm sorry, volume control is not yet implemented."
	default:
		return "I'm not sure how to control the playback with that command."
	}
	if err != nil {
		o.log.WithError(err).WithField("action", action).Error("playback control failed")
		return failureReply(err, "I couldn't control the playback. Please make sure Spotify is open and playing.")
	}
	return reply
}

func (o *Orchestrator) handleQuery(ctx context.Context, cred domain.Credential, query string, in domain.QueryIntent) string {
	if in.QuestionType == "current_song" {
		return o.currentSong(ctx, cred)
	}

	answer, err := safeComplete(ctx, o.llm, render(prompts.musicQuestion, promptData{Query: query}))
	if err != nil {
		o.log.WithError(err).Warn("music question failed")
		return cloudedReply
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return unclearReply
	}
	return answer
}

func (o *Orchestrator) currentSong(ctx context.Context, cred domain.Credential) string {
	pb, err := o.playback.Current(ctx, cred)
	if err != nil {
		o.log.WithError(err).Warn("could not read current playback")
		return failureReply(err, "I couldn't check what's playing. Please make sure Spotify is open.")
	}
	if pb == nil || pb.Track == nil {
		return "No music is currently playing."
	}
	return fmt.Sprintf("Now playing: %s by %s.", pb.Track.Name, pb.Track.Artist)
}

func (o *Orchestrator) handleGeneral(ctx context.Context, sess *domain.Session, query string) string {
	prompt := render(prompts.persona, promptData{Query: query, History: sess.History.Snapshot()})
	answer, err := safeComplete(ctx, o.llm, prompt)
	if err != nil {
		o.log.WithError(err).Warn("general reply failed")
		return cloudedReply
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return unclearReply
	}
	return answer
}

// sessionLocks hands out one mutex per session ID and forgets it once unused.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
