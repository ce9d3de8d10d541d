package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Profile is a named preset: one operation plus the parameters to run it
// with.
type Profile struct {
	Operation   string         `yaml:"operation" json:"operation"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// WorkflowJob names the profile one workflow step runs.
type WorkflowJob struct {
	Profile string `yaml:"profile" json:"profile"`
}

// Workflow is an ordered list of profiles applied to the same input.
type Workflow struct {
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Jobs        []WorkflowJob `yaml:"jobs" json:"jobs"`
}

type libraryFile struct {
	Profiles  map[string]Profile  `yaml:"profiles"`
	Workflows map[string]Workflow `yaml:"workflows"`
}

// Library holds the named profiles and workflows. It is safe for concurrent
// use by the API handlers.
type Library struct {
	mu        sync.RWMutex
	path      string
	profiles  map[string]Profile
	workflows map[string]Workflow
}

// LoadLibrary reads the profile library at path. A missing file is not an
// error; the library starts empty and can be filled through AddProfile.
func LoadLibrary(path string) (*Library, error) {
	lib := &Library{
		path:      path,
		profiles:  map[string]Profile{},
		workflows: map[string]Workflow{},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var file libraryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if file.Profiles != nil {
		lib.profiles = file.Profiles
	}
	if file.Workflows != nil {
		lib.workflows = file.Workflows
	}
	return lib, nil
}

// Profile returns the named profile.
func (l *Library) Profile(name string) (Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[name]
	return p, ok
}

// Workflow returns the named workflow.
func (l *Library) Workflow(name string) (Workflow, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.workflows[name]
	return w, ok
}

// Profiles returns a copy of every profile keyed by name.
func (l *Library) Profiles() map[string]Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Profile, len(l.profiles))
	for name, p := range l.profiles {
		out[name] = p
	}
	return out
}

// Workflows returns a copy of every workflow keyed by name.
func (l *Library) Workflows() map[string]Workflow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Workflow, len(l.workflows))
	for name, w := range l.workflows {
		out[name] = w
	}
	return out
}

// AddProfile registers a custom profile and persists the library to disk.
func (l *Library) AddProfile(name string, p Profile) error {
	l.mu.Lock()
	l.profiles[name] = p
	l.mu.Unlock()
	return l.Save()
}

// Save writes the library back to its path.
func (l *Library) Save() error {
	l.mu.RLock()
	raw, err := yaml.Marshal(libraryFile{Profiles: l.profiles, Workflows: l.workflows})
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profiles dir: %w", err)
		}
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}
