package profiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"agent_dashboard/internal/model"
)

// Aliases maps legacy or shorthand profile ids to canonical ones
var Aliases = map[string]string{
	"data-analyst":      "analyst",
	"idea-guy":          "visionary",
	"creative":          "creative-director",
	"pm":                "project-manager",
	"security-sentinel": "security",
}

// Registry holds the profile definitions. It is safe for concurrent use and
// can be swapped wholesale by the watcher.
type Registry struct {
	mu       sync.RWMutex
	profiles []model.Profile
	byID     map[string]int
}

// NewRegistry builds a registry from a fixed list
func NewRegistry(profiles []model.Profile) *Registry {
	r := &Registry{}
	r.set(profiles)
	return r
}

// Load reads a profiles file (JSON, or YAML by extension)
func Load(path string) (*Registry, error) {
	profiles, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(profiles), nil
}

// ReadFile parses a profiles file without building a registry
func ReadFile(path string) ([]model.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read profiles %s: %v", model.ErrStorage, path, err)
	}

	var file model.ProfilesFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse profiles %s: %v", model.ErrStorage, path, err)
	}

	for i, p := range file.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: profile #%d in %s has no id", model.ErrStorage, i, path)
		}
	}
	return file.Profiles, nil
}

// Reload replaces the registry content
func (r *Registry) Reload(profiles []model.Profile) {
	r.set(profiles)
}

func (r *Registry) set(profiles []model.Profile) {
	byID := make(map[string]int, len(profiles))
	cp := make([]model.Profile, len(profiles))
	copy(cp, profiles)
	for i, p := range cp {
		if _, dup := byID[p.ID]; !dup {
			byID[p.ID] = i
		}
	}

	r.mu.Lock()
	r.profiles = cp
	r.byID = byID
	r.mu.Unlock()
}

// Get looks up a profile by its exact id
func (r *Registry) Get(id string) (model.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return model.Profile{}, false
	}
	return r.profiles[i], true
}

// Resolve looks up id directly and then through the alias table
func (r *Registry) Resolve(id string) (model.Profile, bool) {
	if p, ok := r.Get(id); ok {
		return p, true
	}
	if canonical, ok := Aliases[id]; ok {
		return r.Get(canonical)
	}
	return model.Profile{}, false
}

// First returns the first configured profile
func (r *Registry) First() (model.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.profiles) == 0 {
		return model.Profile{}, false
	}
	return r.profiles[0], true
}

// All returns a copy of every profile in file order
func (r *Registry) All() []model.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Len returns the number of profiles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}
