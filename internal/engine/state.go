package engine

import (
	"sort"

	"github.com/yuqie6/IdleCraft/internal/scheduler"
)

// SkillState 某个技能的状态快照
type SkillState struct {
	SkillID          string  `json:"skill_id"`
	Level            int     `json:"level"`
	// Experience 当前等级内的经验，未满级时小于 ExperienceToNext。
	// 满级后经验继续累积，可能超过 ExperienceToNext。
	Experience       float64 `json:"experience"`
	ExperienceToNext float64 `json:"experience_to_next"`
	TotalExperience  float64 `json:"total_experience"` // 累计经验
	Efficiency       float64 `json:"efficiency"`
	IsActive         bool    `json:"is_active"`
	ActiveActivityID string  `json:"active_activity_id,omitempty"`
	Progress         float64 `json:"progress"`
	BaseTime         float64 `json:"base_time,omitempty"`
	Loop             bool    `json:"loop"`
	LoopCount        int     `json:"loop_count"`
	StartedAt        int64   `json:"started_at,omitempty"` // Unix ms
	RunID            string  `json:"run_id,omitempty"`
}

// Resources 资源账本快照
type Resources struct {
	Primary   int64            `json:"primary"`
	Secondary map[string]int64 `json:"secondary"`
}

// Snapshot 引擎状态的只读副本
type Snapshot struct {
	Timestamp int64        `json:"timestamp"` // Unix ms
	Running   bool         `json:"running"`
	Resources Resources    `json:"resources"`
	Skills    []SkillState `json:"skills"` // 按注册顺序
}

// Skill 按 id 查找技能快照
func (s Snapshot) Skill(id string) (SkillState, bool) {
	for _, sk := range s.Skills {
		if sk.SkillID == id {
			return sk, true
		}
	}
	return SkillState{}, false
}

// LevelUp 一次升级记录
type LevelUp struct {
	SkillID string `json:"skill_id"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

// ChangeReason 事件触发原因
type ChangeReason string

const (
	ReasonTick       ChangeReason = "tick"
	ReasonStart      ChangeReason = "start"
	ReasonStop       ChangeReason = "stop"
	ReasonLoop       ChangeReason = "loop"
	ReasonExperience ChangeReason = "experience"
	ReasonRunning    ChangeReason = "running"
	ReasonRestore    ChangeReason = "restore"
	ReasonReset      ChangeReason = "reset"
)

// MaxEventCompletions 单个事件逐条保留的结算数，离线追赶时只留最后这些
const MaxEventCompletions = 64

// ChangeEvent 每次状态变更后推送一次；tick 内的所有结算合并为一个事件
type ChangeEvent struct {
	Reason      ChangeReason           `json:"reason"`
	SkillID     string                 `json:"skill_id,omitempty"`
	Completions []scheduler.Completion `json:"completions,omitempty"`
	// CompletionCounts 本次全部结算按技能计数，包括未逐条列出的
	CompletionCounts   map[string]int `json:"completion_counts,omitempty"`
	DroppedCompletions int            `json:"dropped_completions,omitempty"`
	LevelUps           []LevelUp      `json:"level_ups,omitempty"`
	Snapshot           Snapshot       `json:"snapshot"`
}

// Ledger 资源账本，数量永不为负
type Ledger struct {
	primaryID string
	primary   int64
	items     map[string]int64
}

// NewLedger primaryID 对应的资源记入主货币
func NewLedger(primaryID string) *Ledger {
	return &Ledger{primaryID: primaryID, items: make(map[string]int64)}
}

// Credit 记入资源，非正数量忽略
func (l *Ledger) Credit(resource string, amount int64) {
	if amount <= 0 || resource == "" {
		return
	}
	if resource == l.primaryID {
		l.primary += amount
		return
	}
	l.items[resource] += amount
}

// Quantity 查询资源数量
func (l *Ledger) Quantity(resource string) int64 {
	if resource == l.primaryID {
		return l.primary
	}
	return l.items[resource]
}

// Primary 主货币
func (l *Ledger) Primary() int64 {
	return l.primary
}

// Set 覆盖账本，负数钳制为 0
func (l *Ledger) Set(r Resources) {
	l.primary = max(0, r.Primary)
	l.items = make(map[string]int64, len(r.Secondary))
	for k, v := range r.Secondary {
		if k == "" || v <= 0 {
			continue
		}
		if k == l.primaryID {
			l.primary += v
			continue
		}
		l.items[k] = v
	}
}

// Snapshot 返回账本副本
func (l *Ledger) Snapshot() Resources {
	out := Resources{Primary: l.primary, Secondary: make(map[string]int64, len(l.items))}
	for k, v := range l.items {
		out.Secondary[k] = v
	}
	return out
}

// ResourceIDs 有库存的资源 id，按字母序
func (r Resources) ResourceIDs() []string {
	ids := make([]string, 0, len(r.Secondary))
	for k := range r.Secondary {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Clone 深拷贝
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Resources = Resources{Primary: s.Resources.Primary, Secondary: make(map[string]int64, len(s.Resources.Secondary))}
	for k, v := range s.Resources.Secondary {
		out.Resources.Secondary[k] = v
	}
	if s.Skills != nil {
		out.Skills = append([]SkillState(nil), s.Skills...)
	}
	return out
}
