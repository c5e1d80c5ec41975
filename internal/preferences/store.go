package preferences

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/jsonstore"
	"agent_dashboard/internal/model"
)

// Store persists dashboard preferences in dashboard-preferences.json
type Store struct {
	doc    *jsonstore.Document[model.Preferences]
	logger *logrus.Entry
}

// NewStore opens the preferences file at path
func NewStore(path string, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("component", "preferences")
	return &Store{
		doc: jsonstore.Open(path, defaults,
			jsonstore.WithDecoder(decode),
			jsonstore.WithLogger[model.Preferences](logger)),
		logger: logger,
	}
}

// Close stops the document owner
func (s *Store) Close() {
	s.doc.Close()
}

// Get returns the stored preferences merged over the defaults. An unreadable
// file yields the defaults.
func (s *Store) Get(ctx context.Context) model.Preferences {
	var out model.Preferences
	err := s.doc.View(ctx, func(p *model.Preferences) error {
		out = *p
		return nil
	})
	if err != nil {
		s.logger.Warnf("Failed to read preferences, using defaults: %v", err)
		return defaults()
	}
	return out
}

// Save validates every field of body independently, replacing invalid or
// missing ones with the defaults, and persists the result
func (s *Store) Save(ctx context.Context, body []byte) (model.Preferences, error) {
	prefs, err := Sanitize(body)
	if err != nil {
		return model.Preferences{}, err
	}
	if err := s.doc.Replace(ctx, prefs); err != nil {
		return model.Preferences{}, err
	}
	return prefs, nil
}

// Sanitize parses a request body. Only malformed JSON is an error.
func Sanitize(body []byte) (model.Preferences, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.Preferences{}, fmt.Errorf("%w: invalid request body", model.ErrValidation)
	}

	prefs := defaults()
	if v, ok := raw["notificationsEnabled"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			prefs.NotificationsEnabled = b
		}
	}
	if v, ok := raw["soundEnabled"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			prefs.SoundEnabled = b
		}
	}
	if v, ok := raw["progressFrequency"]; ok {
		var n int
		if json.Unmarshal(v, &n) == nil && allowedFrequency(n) {
			prefs.ProgressFrequency = n
		}
	}
	return prefs, nil
}

func allowedFrequency(n int) bool {
	for _, f := range model.AllowedProgressFrequencies {
		if f == n {
			return true
		}
	}
	return false
}

func defaults() model.Preferences {
	return model.DefaultPreferences
}

// decode merges the file content over the defaults
func decode(data []byte) (model.Preferences, error) {
	prefs := defaults()
	err := json.Unmarshal(data, &prefs)
	return prefs, err
}
