package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
)

const (
	defaultRecommendLimit = 5
	topHitsQuery          = "top hits"
	topHitsLimit          = 3
)

// strategy is one way of producing recommendations. An error or an empty result hands
// over to the next strategy in the chain.
type strategy struct {
	name string
	run  func(ctx context.Context) ([]domain.Track, error)
}

// RecommendationEngine produces candidate tracks from a seed song, a genre or the
// conversation context. Every entry point runs an ordered chain of strategies and
// stops at the first one that yields tracks.
type RecommendationEngine struct {
	music ports.MusicProvider
	llm   ports.Completer
	log   logrus.FieldLogger
}

// NewRecommendationEngine constructs a RecommendationEngine.
func NewRecommendationEngine(music ports.MusicProvider, llm ports.Completer, log logrus.FieldLogger) *RecommendationEngine {
	return &RecommendationEngine{
		music: music,
		llm:   llm,
		log:   log.WithField("component", "recommend"),
	}
}

func (r *RecommendationEngine) runChain(ctx context.Context, chain []strategy) []domain.Track {
	for _, s := range chain {
		if ctx.Err() != nil {
			return nil
		}
		tracks, err := s.run(ctx)
		log := r.log.WithField("strategy", s.name)
		if err != nil {
			log.WithError(err).Warn("strategy failed")
			continue
		}
		if len(tracks) == 0 {
			log.Debug("strategy returned nothing")
			continue
		}
		log.WithField("count", len(tracks)).Info("recommendations found")
		return tracks
	}
	return nil
}

// SimilarTo recommends tracks like the given song. The artist is optional. It returns
// an empty slice when every strategy fails.
func (r *RecommendationEngine) SimilarTo(ctx context.Context, cred domain.Credential, song, artist string, limit int) []domain.Track {
	if limit <= 0 {
		limit = defaultRecommendLimit
	}

	seed, ok := r.resolveSeed(ctx, cred, song, artist)
	if !ok {
		r.log.WithFields(logrus.Fields{"song": song, "artist": artist}).Info("seed track not found")
		return nil
	}

	return r.runChain(ctx, []strategy{
		{"provider_recommendations", func(ctx context.Context) ([]domain.Track, error) {
			return r.music.Recommendations(ctx, cred, []string{seed.ID}, limit)
		}},
		{"llm_similar", func(ctx context.Context) ([]domain.Track, error) {
			prompt := render(prompts.similar, promptData{Song: seed.Name, Artist: seed.Artist, Limit: limit})
			return r.suggestAndResolve(ctx, cred, prompt, limit)
		}},
		{"artist_top_tracks", func(ctx context.Context) ([]domain.Track, error) {
			if seed.ArtistID == "" {
				return nil, nil
			}
			tracks, err := r.music.ArtistTopTracks(ctx, cred, seed.ArtistID)
			if err != nil {
				return nil, err
			}
			if len(tracks) > limit {
				tracks = tracks[:limit]
			}
			return excludeTrack(tracks, seed.ID), nil
		}},
		{"artist_similar_search", func(ctx context.Context) ([]domain.Track, error) {
			tracks, err := r.music.SearchTracks(ctx, cred, seed.Artist+" similar", limit)
			if err != nil {
				return nil, err
			}
			return excludeTrack(tracks, seed.ID), nil
		}},
	})
}

func (r *RecommendationEngine) resolveSeed(ctx context.Context, cred domain.Credential, song, artist string) (domain.Track, bool) {
	exact := "track:" + song
	if artist != "" {
		exact += " artist:" + artist
	}
	loose := strings.TrimSpace(song + " " + artist)

	for _, q := range []string{exact, loose} {
		tracks, err := r.music.SearchTracks(ctx, cred, q, 1)
		if err != nil {
			r.log.WithError(err).WithField("query", q).Warn("seed search failed")
			continue
		}
		if len(tracks) > 0 {
			return tracks[0], true
		}
	}
	return domain.Track{}, false
}

// ForGenre searches for the genre itself, then for common phrasings of it.
func (r *RecommendationEngine) ForGenre(ctx context.Context, cred domain.Credential, genre string, limit int) []domain.Track {
	if limit <= 0 {
		limit = defaultRecommendLimit
	}
	genre = strings.TrimSpace(genre)
	if genre == "" {
		return nil
	}

	queries := []string{
		genre,
		"best " + genre,
		genre + " top",
		genre + " hits",
		"popular " + genre,
	}
	chain := make([]strategy, 0, len(queries))
	for _, q := range queries {
		chain = append(chain, r.searchStrategy(cred, q, limit))
	}
	return r.runChain(ctx, chain)
}

// FromContext asks the model for songs matching what the conversation has established
// so far, falling back to the raw request and finally to a popular-hits search.
func (r *RecommendationEngine) FromContext(ctx context.Context, cred domain.Credential, cc domain.ConversationContext) []domain.Track {
	return r.runChain(ctx, []strategy{
		{"llm_context", func(ctx context.Context) ([]domain.Track, error) {
			desc := describeContext(cc)
			if desc == "" {
				return nil, nil
			}
			prompt := render(prompts.context, promptData{Context: desc, Limit: defaultRecommendLimit})
			return r.suggestAndResolve(ctx, cred, prompt, defaultRecommendLimit)
		}},
		{"llm_mood_fallback", func(ctx context.Context) ([]domain.Track, error) {
			if strings.TrimSpace(cc.LastRecommendationQuery) == "" {
				return nil, nil
			}
			prompt := render(prompts.moodFallback, promptData{Query: cc.LastRecommendationQuery, Limit: defaultRecommendLimit})
			return r.suggestAndResolve(ctx, cred, prompt, defaultRecommendLimit)
		}},
		r.searchStrategy(cred, topHitsQuery, topHitsLimit),
	})
}

func (r *RecommendationEngine) searchStrategy(cred domain.Credential, query string, limit int) strategy {
	return strategy{
		name: fmt.Sprintf("search %q", query),
		run: func(ctx context.Context) ([]domain.Track, error) {
			return r.music.SearchTracks(ctx, cred, query, limit)
		},
	}
}

// suggestAndResolve asks the model for {name, artist} pairs and resolves each with a
// single-result search. Unresolvable suggestions are skipped.
func (r *RecommendationEngine) suggestAndResolve(ctx context.Context, cred domain.Credential, prompt string, limit int) ([]domain.Track, error) {
	raw, err := safeComplete(ctx, r.llm, prompt)
	if err != nil {
		return nil, fmt.Errorf("recommend: model call: %w", err)
	}
	refs, err := ParseSongRefs(raw)
	if err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}

	tracks := make([]domain.Track, 0, len(refs))
	for _, ref := range refs {
		found, err := r.music.SearchTracks(ctx, cred, ref.Name+" "+ref.Artist, 1)
		if err != nil {
			r.log.WithError(err).WithField("song", ref.Name).Debug("could not resolve suggestion")
			continue
		}
		if len(found) > 0 {
			tracks = append(tracks, found[0])
		}
	}
	return tracks, nil
}

// describeContext renders the context as a phrase that completes "recommend N songs".
func describeContext(cc domain.ConversationContext) string {
	var b strings.Builder
	if cc.CurrentSongTopic != "" {
		fmt.Fprintf(&b, " similar to %s", cc.CurrentSongTopic)
	}
	if cc.Artist != "" {
		fmt.Fprintf(&b, " by or similar to %s", cc.Artist)
	}
	if cc.Genre != "" {
		fmt.Fprintf(&b, " in the %s genre", cc.Genre)
	}
	if cc.Mood != "" {
		fmt.Fprintf(&b, " that match the mood: %s", cc.Mood)
	}
	if b.Len() == 0 && strings.TrimSpace(cc.LastRecommendationQuery) != "" {
		fmt.Fprintf(&b, " for this request: %q", cc.LastRecommendationQuery)
	}
	return b.String()
}

func excludeTrack(tracks []domain.Track, id string) []domain.Track {
	out := make([]domain.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == id {
			continue
		}
		out = append(out, t)
	}
	return out
}
