package planner

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"gamesmith/pkg/session"
)

//go:embed roster.yaml
var defaultRosterYAML []byte

// Agent is one member of the delegation roster.
type Agent struct {
	Key         string `yaml:"key"`         // plan-step identity, e.g. "game-coder"
	Name        string `yaml:"name"`        // session identity, e.g. "Game Coder"
	Kind        string `yaml:"kind"`        // instruction kind: CODER or PLANNER
	Description string `yaml:"description"` // one line for the planner prompt
	Persona     string `yaml:"persona"`     // system prompt body
	Automatic   bool   `yaml:"automatic"`   // runs after every step, never a plan step
}

// Roster holds the agents the engine knows about: the planner itself, the
// plannable specialists, and the automatic followers.
type Roster struct {
	Agents []Agent `yaml:"agents"`
}

// DefaultRoster parses the embedded roster definition.
func DefaultRoster() (*Roster, error) {
	return parseRoster(defaultRosterYAML)
}

// LoadRoster reads a roster override from path, falling back to the embedded
// default when the file does not exist.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRoster()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	return parseRoster(data)
}

func parseRoster(data []byte) (*Roster, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := roster.validate(); err != nil {
		return nil, err
	}
	return &roster, nil
}

func (r *Roster) validate() error {
	if len(r.Agents) == 0 {
		return fmt.Errorf("roster defines no agents")
	}

	keys := make(map[string]bool, len(r.Agents))
	names := make(map[string]bool, len(r.Agents))
	for i := range r.Agents {
		a := &r.Agents[i]
		if a.Key == "" || a.Name == "" || a.Persona == "" {
			return fmt.Errorf("roster agent %d needs key, name, and persona", i)
		}
		if keys[a.Key] {
			return fmt.Errorf("duplicate roster key: %s", a.Key)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate roster name: %s", a.Name)
		}
		keys[a.Key] = true
		names[a.Name] = true
	}
	return nil
}

// ByKey returns the agent with the given plan-step key.
func (r *Roster) ByKey(key string) (Agent, bool) {
	for _, a := range r.Agents {
		if a.Key == key {
			return a, true
		}
	}
	return Agent{}, false
}

// Plannable returns the agents a plan step may name: everything except the
// planner itself and the automatic followers.
func (r *Roster) Plannable() []Agent {
	var out []Agent
	for _, a := range r.Agents {
		if a.Kind == "PLANNER" || a.Automatic {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Describe renders the roster for the planner prompt: the plannable agents
// first, then the automatic followers marked so the model knows not to
// schedule them.
func (r *Roster) Describe() string {
	var b strings.Builder
	for _, a := range r.Plannable() {
		fmt.Fprintf(&b, "- %s: %s\n", a.Key, a.Description)
	}
	for _, a := range r.Agents {
		if a.Automatic && a.Kind != "PLANNER" {
			fmt.Fprintf(&b, "- %s (automatic): %s\n", a.Key, a.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Profiles maps session agent identities (names) to their personas for the
// session manager.
func (r *Roster) Profiles() map[string]session.AgentProfile {
	profiles := make(map[string]session.AgentProfile, len(r.Agents))
	for _, a := range r.Agents {
		profiles[a.Name] = session.AgentProfile{Persona: a.Persona, Kind: a.Kind}
	}
	return profiles
}
