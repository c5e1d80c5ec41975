package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_dashboard/internal/config"
	"agent_dashboard/internal/model"
	"agent_dashboard/internal/service"
)

const profilesJSON = `{"profiles":[{"id":"researcher","name":"Researcher","role":"Research"}]}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	t.Setenv("WORKSPACE_ROOT", root)
	t.Setenv("HEARTBEAT_COMMAND", "true")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ARCHIVE_MYSQL_DSN", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "subagent-profiles.json"), []byte(profilesJSON), 0o644))
	return cfg
}

func TestNew_CommandMode(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	res, err := a.Service.Spawn(ctx, service.SpawnRequest{ProfileID: "researcher", TaskDescription: "scan"}, "")
	require.NoError(t, err)
	assert.False(t, res.HeartbeatQueued)
	assert.FileExists(t, cfg.Paths.Queue)
	assert.FileExists(t, filepath.Join(cfg.Paths.MemoryDir, "researcher.json"))

	st, err := a.Projection.GetDashboardState(ctx)
	require.NoError(t, err)
	require.Len(t, st.ActiveInstances, 1)
	assert.Equal(t, model.TaskStatusPending, st.ActiveInstances[0].Status)
}

func TestNew_MissingProfilesFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Remove(cfg.Paths.Profiles))

	a, err := New(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 0, a.Profiles.Len())
}

func TestServeMode_Router(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, nil, Options{Serve: true})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	r := a.Router()
	for _, path := range []string{"/api/v1/ping", "/api/v1/health", "/metrics", "/api/v1/subagents"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
