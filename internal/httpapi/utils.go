package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/persistence"
	"github.com/yuqie6/IdleCraft/internal/scheduler"
)

func queryInt(r *http.Request, key string) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// statusForStart 前置条件失败映射为 4xx，响应体仍带 status 字段
func statusForStart(st scheduler.StartStatus) int {
	switch st {
	case scheduler.StartUnknownSkill, scheduler.StartUnknownActivity:
		return http.StatusNotFound
	case scheduler.StartLevelTooLow:
		return http.StatusForbidden
	case scheduler.StartAlreadyRunning:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func statusForError(err error) int {
	var ie *persistence.ImportError
	switch {
	case errors.Is(err, persistence.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, persistence.ErrNoSave), errors.Is(err, persistence.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.As(err, &ie):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func suggestionFor(cat *catalog.Catalog, st scheduler.StartStatus, skillID, activityID string) string {
	switch st {
	case scheduler.StartUnknownSkill:
		return cat.SuggestSkill(skillID)
	case scheduler.StartUnknownActivity:
		return cat.SuggestActivity(skillID, activityID)
	}
	return ""
}

func writeUnknownSkill(w http.ResponseWriter, cat *catalog.Catalog, skillID string) {
	body := map[string]any{"error": "未知技能: " + skillID}
	if s := cat.SuggestSkill(skillID); s != "" {
		body["suggestion"] = s
	}
	writeJSON(w, http.StatusNotFound, body)
}

func exportFileName(now time.Time) string {
	return "idlecraft-save-" + now.Format("20060102-150405") + ".json"
}
