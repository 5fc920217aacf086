// Package prompt holds the system prompts, user templates and sampling
// settings used for each kind of model request.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/heritage-guide/internal/clova"
	"github.com/ashureev/heritage-guide/internal/domain"
	"gopkg.in/yaml.v2"
)

// Kind tags the type of model request.
type Kind string

const (
	KindChat             Kind = "chat"
	KindInfo             Kind = "info"
	KindQuiz             Kind = "quiz"
	KindRecommend        Kind = "recommend"
	KindSummary          Kind = "summary"
	KindMessageQuestions Kind = "message_questions"
)

// Kinds lists every request kind a prompt set must define.
var Kinds = []Kind{KindChat, KindInfo, KindQuiz, KindRecommend, KindSummary, KindMessageQuestions}

//go:embed prompts.yaml
var defaultPrompts []byte

// Template is the prompt configuration of one request kind.
type Template struct {
	System   string               `yaml:"system"`
	User     string               `yaml:"user"`
	Sampling clova.SamplingParams `yaml:"sampling"`
}

// Set is a complete, validated prompt configuration.
type Set struct {
	templates map[Kind]Template
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return Parse(defaultPrompts)
}

// Load reads the embedded set and overlays the kinds defined in the file at
// path. An empty path returns the embedded set.
func Load(path string) (*Set, error) {
	set, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var overrides map[Kind]Template
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("decode prompt file %s: %w", path, err)
	}
	for kind, tmpl := range overrides {
		if _, known := set.templates[kind]; !known {
			return nil, fmt.Errorf("prompt file %s: unknown kind %q", path, kind)
		}
		set.templates[kind] = tmpl
	}
	if err := set.validate(); err != nil {
		return nil, fmt.Errorf("prompt file %s: %w", path, err)
	}
	return set, nil
}

// Parse decodes a full prompt set from YAML.
func Parse(data []byte) (*Set, error) {
	var templates map[Kind]Template
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	set := &Set{templates: templates}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Set) validate() error {
	for _, kind := range Kinds {
		tmpl, ok := s.templates[kind]
		if !ok {
			return fmt.Errorf("missing prompt for %q", kind)
		}
		if strings.TrimSpace(tmpl.System) == "" {
			return fmt.Errorf("prompt %q has an empty system message", kind)
		}
		if kind != KindChat && strings.TrimSpace(tmpl.User) == "" {
			return fmt.Errorf("prompt %q has an empty user template", kind)
		}
		if tmpl.Sampling.MaxTokens <= 0 {
			return fmt.Errorf("prompt %q needs max_tokens > 0", kind)
		}
	}
	return nil
}

// Sampling returns the generation settings for kind.
func (s *Set) Sampling(kind Kind) clova.SamplingParams {
	return s.templates[kind].Sampling
}

// ChatSystemPrompt renders the guide persona for a heritage site.
func (s *Set) ChatSystemPrompt(heritageName string) string {
	return render(s.templates[KindChat].System, heritageName, "")
}

// Messages builds the two-message request for a one-shot kind.
func (s *Set) Messages(kind Kind, heritageName, subject string) ([]domain.Message, error) {
	if kind == KindChat {
		return nil, fmt.Errorf("kind %q is conversational", kind)
	}
	tmpl, ok := s.templates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown prompt kind %q", kind)
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: render(tmpl.System, heritageName, subject)},
		{Role: domain.RoleUser, Content: render(tmpl.User, heritageName, subject)},
	}, nil
}

func render(text, heritageName, subject string) string {
	return strings.TrimSpace(strings.NewReplacer("{heritage}", heritageName, "{subject}", subject).Replace(text))
}
