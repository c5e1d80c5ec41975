package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"agent_dashboard/internal/activity"
	"agent_dashboard/internal/archive"
	authpkg "agent_dashboard/internal/auth"
	"agent_dashboard/internal/config"
	"agent_dashboard/internal/dashboard"
	"agent_dashboard/internal/httpx"
	"agent_dashboard/internal/memory"
	"agent_dashboard/internal/model"
	"agent_dashboard/internal/preferences"
	"agent_dashboard/internal/profiles"
	queuestore "agent_dashboard/internal/queue"
	"agent_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupTestRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	reg := newRegistry()
	q := queuestore.NewStore(queuestore.Options{Path: filepath.Join(dir, "task-queue.json"), Profiles: reg})
	mem := memory.NewStore(memory.Options{Dir: filepath.Join(dir, "memory")})
	log := activity.NewLog(activity.Options{Path: filepath.Join(dir, "activity-log.json")})
	prefs := preferences.NewStore(filepath.Join(dir, "prefs.json"), nil)
	sink, err := archive.OpenSQLite(filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() {
		q.Close()
		mem.Close()
		log.Close()
		prefs.Close()
		sink.Close()
	})

	svc := service.NewSubagentService(service.Deps{Profiles: reg, Queue: q, Memory: mem, Activity: log})
	proj := dashboard.New(dashboard.Options{Profiles: reg, Tasks: q, Memory: mem, Activity: log})

	if cfg == nil {
		cfg = &config.Config{}
	}
	r := gin.New()
	SetupRouter(r, Deps{
		Config:      cfg,
		State:       proj,
		Service:     svc,
		Preferences: prefs,
		Queue:       q,
		Archive:     sink,
	})
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestPing(t *testing.T) {
	authpkg.InitJWT("")
	r := setupTestRouter(t, nil)

	w, env := do(t, r, http.MethodGet, "/api/v1/ping", "", nil)
	if w.Code != http.StatusOK || env.Code != httpx.CodeSuccess {
		t.Fatalf("ping = %d/%d", w.Code, env.Code)
	}
}

func TestSpawnAndList(t *testing.T) {
	authpkg.InitJWT("")
	r := setupTestRouter(t, nil)

	w, env := do(t, r, http.MethodPost, "/api/v1/subagents",
		`{"profileId":"researcher","taskDescription":"scan feed"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("spawn status = %d, body %s", w.Code, w.Body.String())
	}
	var res service.SpawnResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode spawn: %v", err)
	}
	if res.Task.Status != model.TaskStatusPending || res.Task.ID == "" {
		t.Errorf("unexpected task %+v", res.Task)
	}

	w, env = do(t, r, http.MethodGet, "/api/v1/subagents", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var st dashboard.State
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(st.ActiveInstances) != 1 || st.ActiveInstances[0].ID != res.Task.ID {
		t.Errorf("active instances = %+v", st.ActiveInstances)
	}
	if len(st.RecentActivity) != 1 || st.RecentActivity[0].Action != model.ActionSpawned {
		t.Errorf("recent activity = %+v", st.RecentActivity)
	}

	w, _ = do(t, r, http.MethodGet, "/api/v1/subagents/"+res.Task.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get task status = %d", w.Code)
	}
}

func TestSpawnErrors(t *testing.T) {
	authpkg.InitJWT("")
	r := setupTestRouter(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   int
	}{
		{"unknown profile", `{"profileId":"ghost","taskDescription":"x"}`, http.StatusNotFound, httpx.CodeNotFound},
		{"missing fields", `{"profileId":"researcher"}`, http.StatusBadRequest, httpx.CodeParamMissing},
		{"malformed", `{`, http.StatusBadRequest, httpx.CodeParamInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/api/v1/subagents", tt.body, nil)
			if w.Code != tt.wantStatus || env.Code != tt.wantCode {
				t.Errorf("got %d/%d, want %d/%d (%s)", w.Code, env.Code, tt.wantStatus, tt.wantCode, env.Message)
			}
		})
	}
}

func TestStatusAndHeartbeat(t *testing.T) {
	authpkg.InitJWT("")
	r := setupTestRouter(t, nil)

	_, env := do(t, r, http.MethodPost, "/api/v1/subagents",
		`{"profileId":"analyst","taskDescription":"crunch"}`, nil)
	var res service.SpawnResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode spawn: %v", err)
	}
	base := "/api/v1/subagents/" + res.Task.ID

	w, env := do(t, r, http.MethodPost, base+"/status", `{"status":"COMPLETED"}`, nil)
	if w.Code != http.StatusConflict || env.Code != httpx.CodeStateConflict {
		t.Errorf("skip transition = %d/%d", w.Code, env.Code)
	}

	w, _ = do(t, r, http.MethodPost, base+"/heartbeat", `{"currentStep":"loading","progress":30}`, nil)
	if w.Code != http.StatusOK {
		t.Errorf("heartbeat status = %d, body %s", w.Code, w.Body.String())
	}

	w, _ = do(t, r, http.MethodPost, base+"/status", `{"status":"completed"}`, nil)
	if w.Code != http.StatusOK {
		t.Errorf("complete status = %d, body %s", w.Code, w.Body.String())
	}

	w, env = do(t, r, http.MethodPost, base+"/status", `{"status":"DONE"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown status = %d/%d", w.Code, env.Code)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/subagents/task_missing/status", `{"status":"RUNNING"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing task = %d", w.Code)
	}
}

func TestClearLogAndPreferences(t *testing.T) {
	authpkg.InitJWT("")
	r := setupTestRouter(t, nil)

	do(t, r, http.MethodPost, "/api/v1/subagents", `{"profileId":"researcher","taskDescription":"x"}`, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/v1/subagents"},
		{http.MethodPost, "/api/v1/subagents/clear-log"},
	} {
		w, _ := do(t, r, tc.method, tc.path, "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s %s = %d", tc.method, tc.path, w.Code)
		}
	}
	_, env := do(t, r, http.MethodGet, "/api/v1/subagents", "", nil)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if string(raw["recentActivity"]) != "[]" {
		t.Errorf("recentActivity = %s, want []", raw["recentActivity"])
	}

	_, env = do(t, r, http.MethodPost, "/api/v1/subagents/preferences", `{"soundEnabled":false,"progressFrequency":45}`, nil)
	var prefs model.Preferences
	if err := json.Unmarshal(env.Data, &prefs); err != nil {
		t.Fatalf("decode prefs: %v", err)
	}
	want := model.Preferences{NotificationsEnabled: true, SoundEnabled: false, ProgressFrequency: 30}
	if prefs != want {
		t.Errorf("prefs = %+v, want %+v", prefs, want)
	}
	_, env = do(t, r, http.MethodGet, "/api/v1/subagents/preferences", "", nil)
	prefs = model.Preferences{}
	_ = json.Unmarshal(env.Data, &prefs)
	if prefs != want {
		t.Errorf("stored prefs = %+v, want %+v", prefs, want)
	}
}

func TestQueueAndHealth(t *testing.T) {
	authpkg.InitJWT("")
	r := setupTestRouter(t, nil)

	do(t, r, http.MethodPost, "/api/v1/subagents", `{"profileId":"researcher","taskDescription":"x"}`, nil)
	_, env := do(t, r, http.MethodGet, "/api/v1/queue", "", nil)
	var sum queuestore.Summary
	if err := json.Unmarshal(env.Data, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Pending != 1 || sum.TotalEnqueued != 1 {
		t.Errorf("summary = %+v", sum)
	}

	w, env := do(t, r, http.MethodGet, "/api/v1/queue/archive?limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("archive status = %d", w.Code)
	}
	var list struct {
		Items []model.ArchivedTask `json:"items"`
		Total int64                `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if list.Items == nil || list.Total != 0 {
		t.Errorf("archive = %+v", list)
	}

	w, _ = do(t, r, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestWriteGuardAndLogin(t *testing.T) {
	hash, err := authpkg.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	authpkg.InitJWT("router-secret")
	defer authpkg.InitJWT("")

	cfg := &config.Config{
		JWT:   config.JWTConfig{Secret: "router-secret", ExpireMinutes: 60},
		Admin: config.AdminConfig{User: "ops", PasswordHash: hash},
	}
	r := setupTestRouter(t, cfg)
	spawn := `{"profileId":"researcher","taskDescription":"x"}`

	w, env := do(t, r, http.MethodPost, "/api/v1/subagents", spawn, nil)
	if w.Code != http.StatusUnauthorized || env.Code != httpx.CodeUnauthorized {
		t.Errorf("unauthenticated spawn = %d/%d", w.Code, env.Code)
	}
	w, _ = do(t, r, http.MethodGet, "/api/v1/subagents", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("reads stay public, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/auth/login", `{"username":"ops","password":"nope"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d", w.Code)
	}

	w, env = do(t, r, http.MethodPost, "/api/v1/auth/login", `{"username":"ops","password":"s3cret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d, body %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &login); err != nil || login.Token == "" {
		t.Fatalf("decode login: %v", err)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/subagents", spawn, map[string]string{"Authorization": "Bearer " + login.Token})
	if w.Code != http.StatusOK {
		t.Errorf("authenticated spawn = %d, body %s", w.Code, w.Body.String())
	}
}

func newRegistry() *profiles.Registry {
	return profiles.NewRegistry([]model.Profile{
		{ID: "researcher", Name: "Researcher", Role: "Research"},
		{ID: "analyst", Name: "Analyst", Role: "Data"},
	})
}
