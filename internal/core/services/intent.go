package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// ErrUnparseable marks language model output that could not be decoded.
var ErrUnparseable = errors.New("unparseable model output")

var fenceRe = regexp.MustCompile("```[a-zA-Z]*")

// IntentExtractor turns utterances into structured records by prompting the language
// model. None of its exported methods fail: unusable output degrades to a default.
type IntentExtractor struct {
	llm ports.Completer
	log logrus.FieldLogger
}

// NewIntentExtractor constructs an IntentExtractor.
func NewIntentExtractor(llm ports.Completer, log logrus.FieldLogger) *IntentExtractor {
	return &IntentExtractor{llm: llm, log: log.WithField("component", "intent")}
}

// Classify routes an utterance into the full intent taxonomy.
func (e *IntentExtractor) Classify(ctx context.Context, utterance string) domain.Intent {
	raw, err := e.complete(ctx, render(prompts.classify, promptData{Query: utterance}))
	if err != nil {
		e.log.WithError(err).Warn("classification call failed, defaulting to general")
		return domain.DefaultIntent()
	}

	intent, err := ParseIntent(raw)
	if err != nil {
		e.log.WithError(err).WithField("raw", raw).Warn("classification output unusable, defaulting to general")
		return domain.DefaultIntent()
	}
	e.log.WithField("kind", intent.Kind()).Debug("classified utterance")
	return intent
}

// ExtractCommand runs the music-only command extractor.
func (e *IntentExtractor) ExtractCommand(ctx context.Context, utterance string) domain.MusicCommand {
	fallback := domain.MusicCommand{Intent: "general"}

	raw, err := e.complete(ctx, render(prompts.command, promptData{Query: utterance}))
	if err != nil {
		e.log.WithError(err).Warn("command extraction call failed")
		return fallback
	}

	var wire struct {
		Intent       flexString `json:"intent"`
		SongName     flexString `json:"song_name"`
		Artist       flexString `json:"artist"`
		OptionNumber flexInt    `json:"option_number"`
	}
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &wire); err != nil {
		e.log.WithError(err).WithField("raw", raw).Warn("command output unusable")
		return fallback
	}

	cmd := domain.MusicCommand{
		Intent:       lower(string(wire.Intent)),
		SongName:     string(wire.SongName),
		Artist:       string(wire.Artist),
		OptionNumber: wire.OptionNumber.v,
	}
	if cmd.Intent == "" {
		cmd.Intent = "general"
	}
	return cmd
}

// AnalyzeMood asks the model for a mood, a genre and a search phrase.
func (e *IntentExtractor) AnalyzeMood(ctx context.Context, utterance string) domain.MoodAnalysis {
	fallback := domain.DefaultMoodAnalysis()

	raw, err := e.complete(ctx, render(prompts.mood, promptData{Query: utterance}))
	if err != nil {
		e.log.WithError(err).Warn("mood analysis call failed")
		return fallback
	}

	var mood domain.MoodAnalysis
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &mood); err != nil {
		e.log.WithError(err).WithField("raw", raw).Warn("mood output unusable")
		return fallback
	}
	if strings.TrimSpace(mood.Mood) == "" {
		mood.Mood = fallback.Mood
	}
	if strings.TrimSpace(mood.Genre) == "" {
		mood.Genre = fallback.Genre
	}
	if strings.TrimSpace(mood.SongQuery) == "" {
		mood.SongQuery = fallback.SongQuery
	}
	return mood
}

func (e *IntentExtractor) complete(ctx context.Context, prompt string) (string, error) {
	return safeComplete(ctx, e.llm, prompt)
}

// safeComplete calls the model, converting a panic inside the adapter into an error.
func safeComplete(ctx context.Context, llm ports.Completer, prompt string) (out string, err error) {
	if llm == nil {
		return "", errors.New("no language model configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("language model panicked: %v", r)
		}
	}()
	return llm.Complete(ctx, prompt)
}

// ExtractJSON pulls the first balanced JSON object or array out of free text. Code
// fences are removed first. When nothing usable is found it returns "{}".
func ExtractJSON(raw string) string {
	text := fenceRe.ReplaceAllString(raw, "")

	first := ""
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		span, ok := balancedSpan(text[i:])
		if !ok {
			continue
		}
		if json.Valid([]byte(span)) {
			return span
		}
		if first == "" {
			first = span
		}
	}
	if first != "" {
		return first
	}
	return "{}"
}

// balancedSpan returns the prefix of s that closes the bracket s starts with.
func balancedSpan(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// rawIntent is the wire shape the classifier prompt asks for.
type rawIntent struct {
	Intent            flexString `json:"intent"`
	SubIntent         flexString `json:"sub_intent"`
	QueryType         flexString `json:"query_type"`
	SongName          flexString `json:"song_name"`
	Artist            flexString `json:"artist"`
	RequestType       flexString `json:"specific_request_type"`
	IsSelectingOption flexBool   `json:"is_selecting_option"`
	OptionNumber      flexInt    `json:"option_number"`
	ReferenceSong     flexString `json:"reference_song"`
	ReferenceArtist   flexString `json:"reference_artist"`
	Genre             flexString `json:"genre"`
	Mood              flexString `json:"mood"`
	Action            flexString `json:"action"`
	QuestionType      flexString `json:"question_type"`
}

// ParseIntent decodes classifier output. Callers must substitute domain.DefaultIntent
// when it fails.
func ParseIntent(raw string) (domain.Intent, error) {
	body := ExtractJSON(raw)
	var r rawIntent
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return r.toDomain(), nil
}

func (r rawIntent) toDomain() domain.Intent {
	top := lower(string(r.Intent))
	sub := lower(string(r.SubIntent))
	// Some models answer with the sub intent at the top level.
	if sub == "" {
		switch domain.IntentKind(top) {
		case domain.IntentPlay, domain.IntentSuggest, domain.IntentControl, domain.IntentQuery:
			top, sub = "music", top
		}
	}

	if top != "music" {
		qt := lower(string(r.QueryType))
		if qt == "" {
			qt = "other"
		}
		return domain.GeneralIntent{QueryType: qt}
	}

	switch domain.IntentKind(sub) {
	case domain.IntentPlay:
		return domain.PlayIntent{
			SongName:          string(r.SongName),
			Artist:            string(r.Artist),
			RequestType:       lower(string(r.RequestType)),
			IsOptionSelection: bool(r.IsSelectingOption),
			OptionNumber:      r.OptionNumber.v,
		}
	case domain.IntentSuggest:
		return domain.SuggestIntent{
			ReferenceSong:   string(r.ReferenceSong),
			ReferenceArtist: string(r.ReferenceArtist),
			Genre:           string(r.Genre),
			Mood:            string(r.Mood),
		}
	case domain.IntentControl:
		action := domain.ControlAction(lower(string(r.Action)))
		if action == "play" {
			action = domain.ActionResume
		}
		return domain.ControlIntent{Action: action}
	case domain.IntentQuery:
		return domain.QueryIntent{QuestionType: lower(string(r.QuestionType))}
	default:
		return domain.DefaultIntent()
	}
}

// ParseSongRefs decodes a list of {name, artist} suggestions. A JSON object wrapping the
// list under any key is accepted too. Entries missing either field are dropped.
func ParseSongRefs(raw string) ([]domain.SongRef, error) {
	body := []byte(ExtractJSON(raw))

	var refs []domain.SongRef
	if err := json.Unmarshal(body, &refs); err != nil {
		var wrapper map[string]json.RawMessage
		if errObj := json.Unmarshal(body, &wrapper); errObj != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		for _, v := range wrapper {
			var inner []domain.SongRef
			if json.Unmarshal(v, &inner) == nil && len(inner) > 0 {
				refs = inner
				break
			}
		}
	}

	out := make([]domain.SongRef, 0, len(refs))
	for _, ref := range refs {
		ref.Name = strings.TrimSpace(ref.Name)
		ref.Artist = strings.TrimSpace(ref.Artist)
		if ref.Name == "" || ref.Artist == "" {
			continue
		}
		out = append(out, ref)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable suggestions", ErrUnparseable)
	}
	return out, nil
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// flexString accepts a string, a list of strings (joined with ", "), a number or a
// bool. Anything else decodes as empty. The value is trimmed.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	*f = ""
	var s string
	if json.Unmarshal(b, &s) == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var list []flexString
	if json.Unmarshal(b, &list) == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item != "" {
				parts = append(parts, string(item))
			}
		}
		*f = flexString(strings.Join(parts, ", "))
		return nil
	}
	var v any
	if json.Unmarshal(b, &v) == nil {
		switch v.(type) {
		case float64, bool:
			*f = flexString(strings.TrimSpace(string(b)))
		}
	}
	return nil
}

// flexInt accepts 3, "3", "#3" or 3.0. Anything else decodes as absent.
type flexInt struct {
	v *int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.TrimSpace(strings.Trim(s, `"`))
	s = strings.TrimPrefix(s, "#")
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		f.v = &n
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		n := int(fl)
		f.v = &n
	}
	return nil
}

// flexBool accepts true, "true", "yes" and 1. Anything else decodes as false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`)) {
	case "true", "yes", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}
