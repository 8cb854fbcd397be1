package domain

// IntentKind names the handler branch an Intent routes to.
type IntentKind string

const (
	IntentGeneral IntentKind = "general"
	IntentPlay    IntentKind = "play"
	IntentSuggest IntentKind = "suggest"
	IntentControl IntentKind = "control"
	IntentQuery   IntentKind = "query"
)

// Intent is the classified purpose of an utterance. The set of variants is closed:
// GeneralIntent, PlayIntent, SuggestIntent, ControlIntent and QueryIntent.
type Intent interface {
	Kind() IntentKind
}

// GeneralIntent is a question unrelated to music.
type GeneralIntent struct {
	QueryType string
}

// PlayIntent asks to play a named song or to pick one of the offered options.
type PlayIntent struct {
	SongName          string
	Artist            string
	RequestType       string
	IsOptionSelection bool
	OptionNumber      *int
}

// SuggestIntent asks for recommendations. Each field is optional.
type SuggestIntent struct {
	ReferenceSong   string
	ReferenceArtist string
	Genre           string
	Mood            string
}

// ControlAction is a playback control verb.
type ControlAction string

const (
	ActionPause    ControlAction = "pause"
	ActionResume   ControlAction = "resume"
	ActionNext     ControlAction = "next"
	ActionPrevious ControlAction = "previous"
	ActionVolume   ControlAction = "volume"
)

// ControlIntent asks to control current playback.
type ControlIntent struct {
	Action ControlAction
}

// QueryIntent asks about music information.
type QueryIntent struct {
	QuestionType string
}

func (GeneralIntent) Kind() IntentKind { return IntentGeneral }
func (PlayIntent) Kind() IntentKind    { return IntentPlay }
func (SuggestIntent) Kind() IntentKind { return IntentSuggest }
func (ControlIntent) Kind() IntentKind { return IntentControl }
func (QueryIntent) Kind() IntentKind   { return IntentQuery }

// DefaultIntent is substituted whenever the language model output cannot be used.
func DefaultIntent() Intent {
	return GeneralIntent{QueryType: "other"}
}

// MusicCommand is the flat result of the music-only command extractor.
type MusicCommand struct {
	Intent       string `json:"intent"`
	SongName     string `json:"song_name"`
	Artist       string `json:"artist"`
	OptionNumber *int   `json:"option_number"`
}

// MoodAnalysis is the language model's reading of the user's mood.
type MoodAnalysis struct {
	Mood      string `json:"mood"`
	Genre     string `json:"genre"`
	SongQuery string `json:"song_query"`
}

// DefaultMoodAnalysis is used when the mood analysis cannot be decoded.
func DefaultMoodAnalysis() MoodAnalysis {
	return MoodAnalysis{Mood: "neutral", Genre: "pop", SongQuery: "popular hits"}
}
