// Package scenario runs scripted player journeys against a running server.
// A scenario names the players it needs, then walks through API calls and
// operator clock jumps, checking each response with JSONPath assertions.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a complete journey loaded from a YAML file.
type Scenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Players     map[string]int64  `yaml:"players"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Steps       []Step            `yaml:"steps"`
}

// Step is either an API request made as one of the players or a jump of
// the server's simulated clock.
type Step struct {
	Name    string            `yaml:"name"`
	As      string            `yaml:"as,omitempty"`
	Request *Request          `yaml:"request,omitempty"`
	Advance string            `yaml:"advance,omitempty"` // Go duration, e.g. "2h"
	Capture map[string]string `yaml:"capture,omitempty"` // variable -> JSONPath
	Assert  *Assert           `yaml:"assert,omitempty"`
}

// Request is the HTTP call made by a step. Path is relative to the server
// base URL.
type Request struct {
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty"`
}

// Assert is what a step's response must satisfy.
type Assert struct {
	Status       int               `yaml:"status,omitempty"`
	BodyContains string            `yaml:"body_contains,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Body         map[string]any    `yaml:"body,omitempty"` // JSONPath -> value or operators
}

// Load parses and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir loads every .yaml and .yml scenario in dir, ordered by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// Validate checks the scenario's structure before anything is sent.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for name, id := range s.Players {
		if id <= 0 {
			return fmt.Errorf("player %q: id must be positive", name)
		}
	}

	for i, step := range s.Steps {
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		switch {
		case step.Request != nil && step.Advance != "":
			return fmt.Errorf("step %s: request and advance are exclusive", label)
		case step.Request == nil && step.Advance == "":
			return fmt.Errorf("step %s: needs a request or an advance", label)
		case step.Advance != "":
			d, err := time.ParseDuration(step.Advance)
			if err != nil || d <= 0 {
				return fmt.Errorf("step %s: invalid advance %q", label, step.Advance)
			}
		default:
			if step.Request.Method == "" || !strings.HasPrefix(step.Request.Path, "/") {
				return fmt.Errorf("step %s: request needs a method and an absolute path", label)
			}
		}
		if step.As != "" {
			if _, ok := s.Players[step.As]; !ok {
				return fmt.Errorf("step %s: unknown player %q", label, step.As)
			}
		}
	}
	return nil
}
