package services

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

type promptSpec struct {
	Classify      string `yaml:"classify"`
	Command       string `yaml:"command"`
	Mood          string `yaml:"mood"`
	Similar       string `yaml:"similar"`
	Context       string `yaml:"context"`
	MoodFallback  string `yaml:"mood_fallback"`
	MusicQuestion string `yaml:"music_question"`
	Persona       string `yaml:"persona"`
}

// promptData is the single value every prompt template renders against.
type promptData struct {
	Query   string
	Song    string
	Artist  string
	Context string
	Limit   int
	History []domain.Exchange
}

type promptBook struct {
	classify      *template.Template
	command       *template.Template
	mood          *template.Template
	similar       *template.Template
	context       *template.Template
	moodFallback  *template.Template
	musicQuestion *template.Template
	persona       *template.Template
}

var prompts = mustLoadPrompts(promptsYAML)

func mustLoadPrompts(raw []byte) *promptBook {
	book, err := loadPrompts(raw)
	if err != nil {
		panic(err)
	}
	return book
}

func loadPrompts(raw []byte) (*promptBook, error) {
	var spec promptSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("prompts: decode yaml: %w", err)
	}

	book := &promptBook{}
	for _, p := range []struct {
		name string
		src  string
		dst  **template.Template
	}{
		{"classify", spec.Classify, &book.classify},
		{"command", spec.Command, &book.command},
		{"mood", spec.Mood, &book.mood},
		{"similar", spec.Similar, &book.similar},
		{"context", spec.Context, &book.context},
		{"mood_fallback", spec.MoodFallback, &book.moodFallback},
		{"music_question", spec.MusicQuestion, &book.musicQuestion},
		{"persona", spec.Persona, &book.persona},
	} {
		if strings.TrimSpace(p.src) == "" {
			return nil, fmt.Errorf("prompts: %s is empty", p.name)
		}
		tmpl, err := template.New(p.name).Parse(p.src)
		if err != nil {
			return nil, fmt.Errorf("prompts: parse %s: %w", p.name, err)
		}
		*p.dst = tmpl
	}
	return book, nil
}

func render(tmpl *template.Template, data promptData) string {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		// Templates are embedded and covered by tests; fall back to the raw query.
		return data.Query
	}
	return b.String()
}
