package preferences

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_dashboard/internal/model"
)

func TestGet_DefaultsAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory", "dashboard-preferences.json")
	s := NewStore(path, nil)
	defer s.Close()
	ctx := context.Background()

	assert.Equal(t, model.DefaultPreferences, s.Get(ctx))

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"soundEnabled": false}`), 0o644))
	got := s.Get(ctx)
	assert.False(t, got.SoundEnabled)
	assert.True(t, got.NotificationsEnabled)
	assert.Equal(t, 30, got.ProgressFrequency)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	assert.Equal(t, model.DefaultPreferences, s.Get(ctx))
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s := NewStore(path, nil)
	defer s.Close()
	ctx := context.Background()

	tests := []struct {
		name string
		body string
		want model.Preferences
	}{
		{"valid", `{"notificationsEnabled": false, "soundEnabled": false, "progressFrequency": 300}`,
			model.Preferences{NotificationsEnabled: false, SoundEnabled: false, ProgressFrequency: 300}},
		{"bad frequency", `{"progressFrequency": 45}`, model.DefaultPreferences},
		{"wrong types", `{"notificationsEnabled": "no", "soundEnabled": 0, "progressFrequency": "60"}`, model.DefaultPreferences},
		{"empty", `{}`, model.DefaultPreferences},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Save(ctx, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, s.Get(ctx))
		})
	}

	_, err := s.Save(ctx, []byte(`{`))
	assert.ErrorIs(t, err, model.ErrValidation)
}
