package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/engine"
	"github.com/yuqie6/IdleCraft/internal/persistence"
	"github.com/yuqie6/IdleCraft/internal/service"
)

// ========== DTOs ==========

type StateDTO struct {
	Snapshot  engine.Snapshot `json:"snapshot"`
	Status    service.Status  `json:"status"`
	Character json.RawMessage `json:"character,omitempty"`
}

type CatalogDTO struct {
	PrimaryResource string                    `json:"primary_resource"`
	Skills          []catalog.SkillDefinition `json:"skills"`
}

type StartActivityRequestDTO struct {
	SkillID    string `json:"skill_id"`
	ActivityID string `json:"activity_id"`
	Loop       bool   `json:"loop"`
}

type StartActivityResponseDTO struct {
	Status     string             `json:"status"`
	Suggestion string             `json:"suggestion,omitempty"`
	Skill      *engine.SkillState `json:"skill,omitempty"`
}

type SkillRequestDTO struct {
	SkillID string `json:"skill_id"`
}

type ExperienceRequestDTO struct {
	SkillID string  `json:"skill_id"`
	Amount  float64 `json:"amount"`
}

type BackupRequestDTO struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type SaveResponseDTO struct {
	Timestamp int64 `json:"timestamp"`
}

func (a *apiServer) registerJSONRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", a.wrapGET(a.getState))
	mux.HandleFunc("/api/catalog", a.wrapGET(a.getCatalog))
	mux.HandleFunc("/api/catalog/search", a.wrapGET(a.searchCatalog))
	mux.HandleFunc("/api/skills/activities", a.wrapGET(a.getUnlockedActivities))
	mux.HandleFunc("/api/skills/experience", a.wrapPOST(a.addExperience))

	mux.HandleFunc("/api/activity/start", a.wrapPOST(a.startActivity))
	mux.HandleFunc("/api/activity/stop", a.wrapPOST(a.stopActivity))
	mux.HandleFunc("/api/activity/loop", a.wrapPOST(a.toggleLoop))

	mux.HandleFunc("/api/engine/pause", a.wrapPOST(a.setRunning(false)))
	mux.HandleFunc("/api/engine/resume", a.wrapPOST(a.setRunning(true)))

	mux.HandleFunc("/api/character", a.wrapAny(a.character))

	mux.HandleFunc("/api/save", a.wrapPOST(a.saveNow))
	mux.HandleFunc("/api/backups", a.wrapAny(a.backups))
	mux.HandleFunc("/api/backups/restore", a.wrapPOST(a.restoreBackup))
	mux.HandleFunc("/api/backups/delete", a.wrapPOST(a.deleteBackup))
	mux.HandleFunc("/api/export", a.wrapGET(a.exportSave))
	mux.HandleFunc("/api/import", a.wrapPOST(a.importSave))
	mux.HandleFunc("/api/reset", a.wrapPOST(a.resetGame))
	mux.HandleFunc("/api/diagnostics/corruption", a.wrapGET(a.getCorruption))
}

func (a *apiServer) wrapGET(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) wrapPOST(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func (a *apiServer) wrapAny(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { fn(w, r) }
}

// ========== handlers ==========

func (a *apiServer) game() *service.GameService {
	return a.core.Services.Game
}

func (a *apiServer) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateDTO{
		Snapshot:  a.core.Engine.Snapshot(),
		Status:    a.game().Status(),
		Character: a.game().Character(),
	})
}

func (a *apiServer) getCatalog(w http.ResponseWriter, r *http.Request) {
	cat := a.core.Catalog
	writeJSON(w, http.StatusOK, CatalogDTO{
		PrimaryResource: cat.PrimaryResource(),
		Skills:          cat.Skills(),
	})
}

func (a *apiServer) searchCatalog(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q 不能为空")
		return
	}
	matches := a.core.Catalog.Search(q)
	if limit, ok := queryInt(r, "limit"); ok && limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	writeJSON(w, http.StatusOK, matches)
}

func (a *apiServer) getUnlockedActivities(w http.ResponseWriter, r *http.Request) {
	skillID := strings.TrimSpace(r.URL.Query().Get("skill_id"))
	if !a.core.Catalog.HasSkill(skillID) {
		writeUnknownSkill(w, a.core.Catalog, skillID)
		return
	}
	level, ok := queryInt(r, "level")
	if !ok {
		sk, _ := a.core.Engine.SkillState(skillID)
		level = sk.Level
	}
	writeJSON(w, http.StatusOK, a.core.Engine.UnlockedActivities(skillID, level))
}

func (a *apiServer) addExperience(w http.ResponseWriter, r *http.Request) {
	var req ExperienceRequestDTO
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if !a.core.Catalog.HasSkill(req.SkillID) {
		writeUnknownSkill(w, a.core.Catalog, req.SkillID)
		return
	}
	if !a.core.Engine.AddExperience(req.SkillID, req.Amount) {
		writeError(w, http.StatusBadRequest, "经验值必须为正数")
		return
	}
	sk, _ := a.core.Engine.SkillState(req.SkillID)
	writeJSON(w, http.StatusOK, sk)
}

func (a *apiServer) startActivity(w http.ResponseWriter, r *http.Request) {
	var req StartActivityRequestDTO
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}

	st := a.core.Engine.StartActivity(req.SkillID, req.ActivityID, engine.StartOptions{Loop: req.Loop})
	resp := StartActivityResponseDTO{Status: string(st)}
	if st.Started() {
		sk, _ := a.core.Engine.SkillState(req.SkillID)
		resp.Skill = &sk
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Suggestion = suggestionFor(a.core.Catalog, st, req.SkillID, req.ActivityID)
	writeJSON(w, statusForStart(st), resp)
}

func (a *apiServer) stopActivity(w http.ResponseWriter, r *http.Request) {
	var req SkillRequestDTO
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if !a.core.Catalog.HasSkill(req.SkillID) {
		writeUnknownSkill(w, a.core.Catalog, req.SkillID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": a.core.Engine.StopActivity(req.SkillID)})
}

func (a *apiServer) toggleLoop(w http.ResponseWriter, r *http.Request) {
	var req SkillRequestDTO
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if !a.core.Catalog.HasSkill(req.SkillID) {
		writeUnknownSkill(w, a.core.Catalog, req.SkillID)
		return
	}
	loop, ok := a.core.Engine.ToggleLoop(req.SkillID)
	if !ok {
		writeError(w, http.StatusConflict, "技能当前没有进行中的活动")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loop": loop})
}

func (a *apiServer) setRunning(running bool) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		a.core.Engine.SetRunning(running)
		writeJSON(w, http.StatusOK, map[string]any{"running": a.core.Engine.IsRunning()})
	}
}

func (a *apiServer) character(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		raw := a.game().Character()
		if raw == nil {
			raw = json.RawMessage("null")
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	case http.MethodPost:
		defer r.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "读取请求失败")
			return
		}
		if err := a.game().SetCharacter(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *apiServer) saveNow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec, err := a.game().SaveNow(ctx)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SaveResponseDTO{Timestamp: rec.Timestamp})
}

func (a *apiServer) backups(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.game().ListBackups(ctx))
	case http.MethodPost:
		var req BackupRequestDTO
		if r.ContentLength != 0 {
			if err := readJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
				return
			}
		}
		info, err := a.game().CreateBackup(ctx, strings.TrimSpace(req.Label))
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, info)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *apiServer) restoreBackup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req BackupRequestDTO
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	rec, err := a.game().RestoreBackup(ctx, strings.TrimSpace(req.Key))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SaveResponseDTO{Timestamp: rec.Timestamp})
}

func (a *apiServer) deleteBackup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req BackupRequestDTO
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if err := a.game().DeleteBackup(ctx, strings.TrimSpace(req.Key)); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *apiServer) exportSave(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var buf bytes.Buffer
	if err := a.game().Export(ctx, &buf); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFileName(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *apiServer) importSave(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	defer r.Body.Close()

	rec, err := a.game().Import(ctx, r.Body)
	if err != nil {
		var ie *persistence.ImportError
		if errors.As(err, &ie) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "reason": ie.Reason})
			return
		}
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SaveResponseDTO{Timestamp: rec.Timestamp})
}

func (a *apiServer) resetGame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := a.game().NewGame(ctx); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.core.Engine.Snapshot())
}

func (a *apiServer) getCorruption(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]any{
		"storage_enabled": a.game().Status().StorageEnabled,
		"entries":         a.game().Corruption(ctx),
	})
}
