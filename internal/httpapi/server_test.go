package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yuqie6/IdleCraft/internal/bootstrap"
	"github.com/yuqie6/IdleCraft/internal/persistence"
	"github.com/yuqie6/IdleCraft/internal/pkg/config"
)

func newTestServer(t *testing.T, withStorage bool) (*bootstrap.Core, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Seed = 11
	cfg.Storage.DBPath = ""
	if withStorage {
		cfg.Storage.DBPath = filepath.Join(t.TempDir(), "idlecraft.db")
	}
	core, err := bootstrap.NewCoreFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewCoreFromConfig error: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })
	if _, err := core.Services.Game.Boot(context.Background()); err != nil {
		t.Fatalf("Boot error: %v", err)
	}

	srv := httptest.NewServer(NewHandler(core, core.Hub))
	t.Cleanup(srv.Close)
	return core, srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s error: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestActivityLifecycle(t *testing.T) {
	core, srv := newTestServer(t, false)

	var start StartActivityResponseDTO
	code := doJSON(t, http.MethodPost, srv.URL+"/api/activity/start", `{"skill_id":"fishing","activity_id":"shrimp","loop":true}`, &start)
	if code != http.StatusOK || start.Status != "ok" || start.Skill == nil || !start.Skill.IsActive {
		t.Fatalf("start code=%d resp=%+v", code, start)
	}

	var loop map[string]bool
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/activity/loop", `{"skill_id":"fishing"}`, &loop); code != http.StatusOK || loop["loop"] {
		t.Fatalf("loop code=%d resp=%v", code, loop)
	}

	core.Engine.Tick(4 * time.Second)

	var state StateDTO
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/state", "", &state); code != http.StatusOK {
		t.Fatalf("state code=%d", code)
	}
	sk, ok := state.Snapshot.Skill("fishing")
	if !ok || sk.IsActive {
		t.Fatalf("non-looping shrimp should be idle after one cycle: %+v", sk)
	}
	if state.Status.StorageEnabled {
		t.Fatalf("storage should be disabled")
	}

	var stop map[string]bool
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/activity/stop", `{"skill_id":"fishing"}`, &stop); code != http.StatusOK || stop["stopped"] {
		t.Fatalf("stop on idle code=%d resp=%v", code, stop)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/activity/loop", `{"skill_id":"fishing"}`, nil); code != http.StatusConflict {
		t.Fatalf("loop on idle code=%d, want 409", code)
	}
}

func TestStartPreconditionStatuses(t *testing.T) {
	_, srv := newTestServer(t, false)

	var resp StartActivityResponseDTO
	code := doJSON(t, http.MethodPost, srv.URL+"/api/activity/start", `{"skill_id":"fishing","activity_id":"shrimpp"}`, &resp)
	if code != http.StatusNotFound || resp.Status != "unknown_activity" || resp.Suggestion != "shrimp" {
		t.Fatalf("code=%d resp=%+v", code, resp)
	}

	resp = StartActivityResponseDTO{}
	code = doJSON(t, http.MethodPost, srv.URL+"/api/activity/start", `{"skill_id":"fishng","activity_id":"shrimp"}`, &resp)
	if code != http.StatusNotFound || resp.Status != "unknown_skill" || resp.Suggestion != "fishing" {
		t.Fatalf("code=%d resp=%+v", code, resp)
	}

	resp = StartActivityResponseDTO{}
	code = doJSON(t, http.MethodPost, srv.URL+"/api/activity/start", `{"skill_id":"fishing","activity_id":"lobster"}`, &resp)
	if code != http.StatusForbidden || resp.Status != "level_too_low" {
		t.Fatalf("code=%d resp=%+v", code, resp)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/activity/start", `{"skill":"fishing"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field code=%d, want 400", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/activity/start", "", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET code=%d, want 405", code)
	}
}

func TestCatalogAndUnlocks(t *testing.T) {
	_, srv := newTestServer(t, false)

	var cat CatalogDTO
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/catalog", "", &cat); code != http.StatusOK {
		t.Fatalf("catalog code=%d", code)
	}
	if cat.PrimaryResource != "coins" || len(cat.Skills) == 0 || cat.Skills[0].ID != "woodcutting" {
		t.Fatalf("catalog=%+v", cat)
	}

	var unlocked []map[string]any
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/skills/activities?skill_id=fishing", "", &unlocked); code != http.StatusOK {
		t.Fatalf("activities code=%d", code)
	}
	if len(unlocked) != 1 || unlocked[0]["id"] != "shrimp" {
		t.Fatalf("level 1 unlocks=%v", unlocked)
	}
	unlocked = nil
	doJSON(t, http.MethodGet, srv.URL+"/api/skills/activities?skill_id=fishing&level=40", "", &unlocked)
	if len(unlocked) != 3 {
		t.Fatalf("level 40 unlocks=%d, want 3", len(unlocked))
	}

	var matches []map[string]any
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/catalog/search?q=lobstr", "", &matches); code != http.StatusOK || len(matches) == 0 {
		t.Fatalf("search code=%d matches=%v", code, matches)
	}
	found := false
	for _, m := range matches {
		if m["skill_id"] == "fishing" && m["activity_id"] == "lobster" {
			found = true
		}
	}
	if !found {
		t.Fatalf("lobster not in matches=%v", matches)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/catalog/search", "", nil); code != http.StatusBadRequest {
		t.Fatalf("empty query code=%d", code)
	}
}

func TestExperienceAndPause(t *testing.T) {
	core, srv := newTestServer(t, false)

	var sk map[string]any
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/skills/experience", `{"skill_id":"cooking","amount":100}`, &sk); code != http.StatusOK {
		t.Fatalf("experience code=%d", code)
	}
	if sk["level"].(float64) != 2 {
		t.Fatalf("cooking=%v, want level 2", sk)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/skills/experience", `{"skill_id":"cooking","amount":-1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("negative amount code=%d", code)
	}

	var running map[string]bool
	doJSON(t, http.MethodPost, srv.URL+"/api/engine/pause", "", &running)
	if running["running"] || core.Engine.IsRunning() {
		t.Fatalf("pause failed")
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/engine/resume", "", &running)
	if !running["running"] {
		t.Fatalf("resume failed")
	}
}

func TestStorageDisabledEndpoints(t *testing.T) {
	_, srv := newTestServer(t, false)

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/save", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("save code=%d, want 503", code)
	}
	var list []persistence.BackupInfo
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/backups", "", &list); code != http.StatusOK || list == nil || len(list) != 0 {
		t.Fatalf("backups code=%d list=%v", code, list)
	}

	resp, err := http.Get(srv.URL + "/api/export")
	if err != nil {
		t.Fatalf("export error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"skills"`) {
		t.Fatalf("export code=%d body=%s", resp.StatusCode, body)
	}
}

func TestSaveBackupImportFlow(t *testing.T) {
	core, srv := newTestServer(t, true)

	core.Engine.AddExperience("mining", 100)

	var saved SaveResponseDTO
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/save", "", &saved); code != http.StatusOK || saved.Timestamp == 0 {
		t.Fatalf("save code=%d resp=%+v", code, saved)
	}

	var info persistence.BackupInfo
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/backups", `{"label":"before"}`, &info); code != http.StatusOK || info.Key == "" {
		t.Fatalf("backup code=%d info=%+v", code, info)
	}

	core.Engine.AddExperience("mining", 1000)
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/backups/restore", `{"key":"`+info.Key+`"}`, nil); code != http.StatusOK {
		t.Fatalf("restore code=%d", code)
	}
	if sk, _ := core.Engine.SkillState("mining"); sk.Level != 2 {
		t.Fatalf("mining after restore=%+v", sk)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/backups/restore", `{"key":"other_backup_1"}`, nil); code != http.StatusNotFound {
		t.Fatalf("foreign key restore code=%d, want 404", code)
	}

	var rejected map[string]string
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/import", `{"skills":`, &rejected); code != http.StatusBadRequest || rejected["reason"] == "" {
		t.Fatalf("import code=%d resp=%v", code, rejected)
	}
	if sk, _ := core.Engine.SkillState("mining"); sk.Level != 2 {
		t.Fatalf("rejected import changed state: %+v", sk)
	}

	payload := `{"version":"1.0.0","timestamp":5,"resources":{"primary":9,"secondary":{"ore":3}},"skills":{"mining":{"level":4,"experience":0}}}`
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/import", payload, nil); code != http.StatusOK {
		t.Fatalf("import code=%d", code)
	}
	if snap := core.Engine.Snapshot(); snap.Resources.Primary != 9 || snap.Resources.Secondary["ore"] != 3 {
		t.Fatalf("resources after import=%+v", snap.Resources)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/backups/delete", `{"key":"`+info.Key+`"}`, nil); code != http.StatusOK {
		t.Fatalf("delete code=%d", code)
	}

	var corrupt map[string]any
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/diagnostics/corruption", "", &corrupt); code != http.StatusOK || corrupt["storage_enabled"] != true {
		t.Fatalf("corruption code=%d resp=%v", code, corrupt)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/reset", "", nil); code != http.StatusOK {
		t.Fatalf("reset code=%d", code)
	}
	if snap := core.Engine.Snapshot(); snap.Resources.Primary != 0 {
		t.Fatalf("reset left primary=%d", snap.Resources.Primary)
	}
}

func TestCharacterRoundTrip(t *testing.T) {
	_, srv := newTestServer(t, false)

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/character", `{"name": "Ada"}`, nil); code != http.StatusOK {
		t.Fatalf("set character code=%d", code)
	}
	var ch map[string]string
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/character", "", &ch); code != http.StatusOK || ch["name"] != "Ada" {
		t.Fatalf("character code=%d resp=%v", code, ch)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/character", `{oops`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid character code=%d", code)
	}
}

func TestSSEStreamsStateEvents(t *testing.T) {
	core, srv := newTestServer(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events error: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	if name := readEvent(); name != "ready" {
		t.Fatalf("first event=%q, want ready", name)
	}

	// 订阅在 ready 之前已完成，之后的变更必然送达
	core.Engine.AddExperience("woodcutting", 5)
	if name := readEvent(); name != "state" {
		t.Fatalf("event=%q, want state", name)
	}
}

func TestSanitizeSSEName(t *testing.T) {
	if got := sanitizeSSEName(" a\nb\r "); got != "ab" {
		t.Fatalf("got=%q", got)
	}
	if got := sanitizeSSEName(""); got != "message" {
		t.Fatalf("got=%q", got)
	}
}

func TestStartWritesAndRemovesBaseURLFile(t *testing.T) {
	core, _ := newTestServer(t, false)
	urlFile := filepath.Join(t.TempDir(), "run", "base_url")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ls, err := Start(ctx, core, Options{BaseURLFile: urlFile})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !strings.HasPrefix(ls.BaseURL(), "http://127.0.0.1:") {
		t.Fatalf("base url=%q", ls.BaseURL())
	}
	b, err := os.ReadFile(urlFile)
	if err != nil || string(b) != ls.BaseURL() {
		t.Fatalf("base url file=%q err=%v", b, err)
	}

	var health map[string]any
	if code := doJSON(t, http.MethodGet, ls.BaseURL()+"/health", "", &health); code != http.StatusOK {
		t.Fatalf("health code=%d", code)
	}
	if health["ok"] != true || health["storage"] != false {
		t.Fatalf("health=%v", health)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(urlFile); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("base url file not removed after shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRejectsNilCore(t *testing.T) {
	if _, err := Start(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("nil core should fail")
	}
}

func TestLogRequestsKeepsStatusAndFlush(t *testing.T) {
	h := logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Errorf("wrapped writer lost Flush")
		}
		writeError(w, http.StatusTeapot, "nope")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("code=%d", rec.Code)
	}
}
