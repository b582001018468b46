package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/yuqie6/IdleCraft/internal/engine"
)

// SchemaVersion 当前存档格式版本
const SchemaVersion = "1.0.0"

// SkillRecord 单个技能的存档字段
type SkillRecord struct {
	Level            int     `json:"level"`
	Experience       float64 `json:"experience"`
	IsActive         bool    `json:"isActive"`
	ActiveActivityID string  `json:"activeActivityId,omitempty"`
	Progress         float64 `json:"progress"`
	BaseTime         float64 `json:"baseTime,omitempty"`
	TotalExperience  float64 `json:"totalExperience,omitempty"`
	Loop             bool    `json:"loop,omitempty"`
	LoopCount        int     `json:"loopCount,omitempty"`
	StartedAt        int64   `json:"startedAt,omitempty"`
	RunID            string  `json:"runId,omitempty"`
}

// ResourcesRecord 资源账本存档
type ResourcesRecord struct {
	Primary   int64            `json:"primary"`
	Secondary map[string]int64 `json:"secondary"`
}

// SaveRecord 带版本的存档快照。Character 对引擎不透明，原样保存。
type SaveRecord struct {
	Version     string                 `json:"version"`
	Timestamp   int64                  `json:"timestamp"` // Unix ms
	Resources   ResourcesRecord        `json:"resources"`
	Skills      map[string]SkillRecord `json:"skills"`
	Character   json.RawMessage        `json:"character,omitempty"`
	Description string                 `json:"description,omitempty"`
	IsRunning   *bool                  `json:"isRunning,omitempty"`
}

// Running 存档时模拟是否在运行，旧存档缺省视为运行
func (r *SaveRecord) Running() bool {
	return r.IsRunning == nil || *r.IsRunning
}

// FromSnapshot 由引擎快照构造存档
func FromSnapshot(snap engine.Snapshot, character json.RawMessage) *SaveRecord {
	running := snap.Running
	rec := &SaveRecord{
		Version:   SchemaVersion,
		Timestamp: snap.Timestamp,
		Resources: ResourcesRecord{
			Primary:   snap.Resources.Primary,
			Secondary: make(map[string]int64, len(snap.Resources.Secondary)),
		},
		Skills:    make(map[string]SkillRecord, len(snap.Skills)),
		IsRunning: &running,
	}
	for k, v := range snap.Resources.Secondary {
		rec.Resources.Secondary[k] = v
	}
	for _, sk := range snap.Skills {
		rec.Skills[sk.SkillID] = SkillRecord{
			Level:            sk.Level,
			Experience:       sk.Experience,
			IsActive:         sk.IsActive,
			ActiveActivityID: sk.ActiveActivityID,
			Progress:         sk.Progress,
			BaseTime:         sk.BaseTime,
			TotalExperience:  sk.TotalExperience,
			Loop:             sk.Loop,
			LoopCount:        sk.LoopCount,
			StartedAt:        sk.StartedAt,
			RunID:            sk.RunID,
		}
	}
	if len(character) > 0 {
		rec.Character = append(json.RawMessage(nil), character...)
	}
	return rec
}

// Snapshot 转换为引擎可恢复的快照，技能按 id 排序
func (r *SaveRecord) Snapshot() engine.Snapshot {
	snap := engine.Snapshot{
		Timestamp: r.Timestamp,
		Running:   r.Running(),
		Resources: engine.Resources{
			Primary:   r.Resources.Primary,
			Secondary: make(map[string]int64, len(r.Resources.Secondary)),
		},
		Skills: make([]engine.SkillState, 0, len(r.Skills)),
	}
	for k, v := range r.Resources.Secondary {
		snap.Resources.Secondary[k] = v
	}
	ids := make([]string, 0, len(r.Skills))
	for id := range r.Skills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sk := r.Skills[id]
		snap.Skills = append(snap.Skills, engine.SkillState{
			SkillID:          id,
			Level:            sk.Level,
			Experience:       sk.Experience,
			TotalExperience:  sk.TotalExperience,
			IsActive:         sk.IsActive,
			ActiveActivityID: sk.ActiveActivityID,
			Progress:         sk.Progress,
			BaseTime:         sk.BaseTime,
			Loop:             sk.Loop,
			LoopCount:        sk.LoopCount,
			StartedAt:        sk.StartedAt,
			RunID:            sk.RunID,
		})
	}
	return snap
}

// Clone 深拷贝
func (r *SaveRecord) Clone() *SaveRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Resources.Secondary = make(map[string]int64, len(r.Resources.Secondary))
	for k, v := range r.Resources.Secondary {
		out.Resources.Secondary[k] = v
	}
	out.Skills = make(map[string]SkillRecord, len(r.Skills))
	for k, v := range r.Skills {
		out.Skills[k] = v
	}
	if r.Character != nil {
		out.Character = append(json.RawMessage(nil), r.Character...)
	}
	if r.IsRunning != nil {
		running := *r.IsRunning
		out.IsRunning = &running
	}
	return &out
}

// Encode 序列化存档
func Encode(r *SaveRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("序列化存档失败: %w", err)
	}
	return data, nil
}

// Decode 解析存档并做结构检查；缺失的版本号与空字段补默认值
func Decode(data []byte) (*SaveRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("存档内容为空")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("存档不是 JSON 对象: %w", err)
	}
	for _, key := range []string{"skills", "resources"} {
		raw, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, fmt.Errorf("存档缺少字段 %s", key)
		}
	}

	var rec SaveRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("解析存档失败: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("存档末尾存在多余内容")
	}
	if err := checkShape(&rec); err != nil {
		return nil, err
	}

	if err := compactCharacter(&rec); err != nil {
		return nil, err
	}

	if rec.Version == "" {
		rec.Version = SchemaVersion
	}
	if rec.Resources.Secondary == nil {
		rec.Resources.Secondary = make(map[string]int64)
	}
	if rec.Skills == nil {
		rec.Skills = make(map[string]SkillRecord)
	}
	return &rec, nil
}

// compactCharacter 去掉角色数据里的空白，导出时的缩进不会在导入后残留
func compactCharacter(rec *SaveRecord) error {
	raw := bytes.TrimSpace(rec.Character)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		rec.Character = nil
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("角色数据不是合法 JSON: %w", err)
	}
	rec.Character = json.RawMessage(buf.Bytes())
	return nil
}

func checkShape(rec *SaveRecord) error {
	if rec.Timestamp < 0 {
		return fmt.Errorf("存档时间戳非法: %d", rec.Timestamp)
	}
	for id, sk := range rec.Skills {
		if id == "" {
			return fmt.Errorf("存档中存在空技能 id")
		}
		if math.IsNaN(sk.Experience) || math.IsInf(sk.Experience, 0) ||
			math.IsNaN(sk.Progress) || math.IsInf(sk.Progress, 0) {
			return fmt.Errorf("技能 %s 的数值非法", id)
		}
	}
	return nil
}
