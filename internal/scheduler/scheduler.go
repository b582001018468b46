package scheduler

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/reward"
)

// State 调度器状态
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// StartStatus Start 的结果；前置条件失败不是错误，调用方自行检查
type StartStatus string

const (
	StartOK              StartStatus = "ok"
	StartUnknownSkill    StartStatus = "unknown_skill"
	StartUnknownActivity StartStatus = "unknown_activity"
	StartLevelTooLow     StartStatus = "level_too_low"
	StartAlreadyRunning  StartStatus = "already_running"
)

// Started 是否成功开始
func (s StartStatus) Started() bool {
	return s == StartOK
}

// Roller 奖励掷骰
type Roller interface {
	Roll(def catalog.ActivityDefinition, level int) reward.Reward
}

// ActiveActivity 正在运行的活动，仅在 Running 时存在
type ActiveActivity struct {
	RunID     string
	SkillID   string
	Activity  catalog.ActivityDefinition
	StartedAt time.Time
	Loop      bool
	LoopCount int
}

// Completion 一个完整周期的结算结果
type Completion struct {
	RunID      string        `json:"run_id"`
	SkillID    string        `json:"skill_id"`
	ActivityID string        `json:"activity_id"`
	Cycle      int           `json:"cycle"` // 本次运行中的第几个周期，从 1 开始
	Level      int           `json:"level"` // 掷骰时的技能等级
	Reward     reward.Reward `json:"reward"`
	Final      bool          `json:"final"` // 非循环活动结束
}

// CycleSink 接收周期结算，由引擎实现
type CycleSink interface {
	SkillLevel(skillID string) int
	ApplyCompletion(c Completion)
}

// Scheduler 单个技能的活动状态机。一个技能同一时刻最多一个活动。
type Scheduler struct {
	skillID  string
	roller   Roller
	active   *ActiveActivity
	progress float64 // 0-100，周期内进度
}

// New 创建技能调度器
func New(skillID string, roller Roller) *Scheduler {
	return &Scheduler{skillID: skillID, roller: roller}
}

// SkillID 所属技能
func (s *Scheduler) SkillID() string {
	return s.skillID
}

// State 当前状态
func (s *Scheduler) State() State {
	if s.active == nil {
		return Idle
	}
	return Running
}

// Progress 当前周期进度 [0,100)
func (s *Scheduler) Progress() float64 {
	return s.progress
}

// Active 返回运行中活动的副本
func (s *Scheduler) Active() (ActiveActivity, bool) {
	if s.active == nil {
		return ActiveActivity{}, false
	}
	return *s.active, true
}

// Start 开始活动。运行其他活动时先停止再开始；同一活动已在运行时拒绝。
func (s *Scheduler) Start(def catalog.ActivityDefinition, level int, loop bool, now time.Time) StartStatus {
	if def.ID == "" || (def.SkillID != "" && def.SkillID != s.skillID) {
		return StartUnknownActivity
	}
	if level < def.RequiredLevel {
		return StartLevelTooLow
	}
	if s.active != nil && s.active.Activity.ID == def.ID {
		return StartAlreadyRunning
	}

	s.Stop()
	s.active = &ActiveActivity{
		RunID:     uuid.NewString(),
		SkillID:   s.skillID,
		Activity:  def,
		StartedAt: now,
		Loop:      loop,
	}
	s.progress = 0
	return StartOK
}

// Stop 立即停止，丢弃未完成的进度，不给奖励
func (s *Scheduler) Stop() bool {
	if s.active == nil {
		return false
	}
	s.active = nil
	s.progress = 0
	return true
}

// SetLoop 设置循环标记，空闲时返回 false
func (s *Scheduler) SetLoop(loop bool) bool {
	if s.active == nil {
		return false
	}
	s.active.Loop = loop
	return true
}

// Restore 从存档恢复运行状态
func (s *Scheduler) Restore(active ActiveActivity, progress float64) {
	a := active
	a.SkillID = s.skillID
	if a.RunID == "" {
		a.RunID = uuid.NewString()
	}
	s.active = &a
	s.progress = clampProgress(progress)
}

// Tick 推进 elapsed 时长，逐个结算所有到期周期，返回结算次数
func (s *Scheduler) Tick(elapsed time.Duration, sink CycleSink) int {
	if s.active == nil || elapsed <= 0 {
		return 0
	}
	base := s.active.Activity.BaseTime
	if base <= 0 {
		return 0
	}

	ms := float64(elapsed) / float64(time.Millisecond)
	s.progress += 100 * ms / (base * 1000)

	completions := 0
	for s.active != nil && s.progress >= 100 {
		s.progress -= 100
		completions++
		s.active.LoopCount++

		level := sink.SkillLevel(s.skillID)
		c := Completion{
			RunID:      s.active.RunID,
			SkillID:    s.skillID,
			ActivityID: s.active.Activity.ID,
			Cycle:      s.active.LoopCount,
			Level:      level,
			Reward:     s.roller.Roll(s.active.Activity, level),
			Final:      !s.active.Loop,
		}
		if c.Final {
			s.active = nil
			s.progress = 0
		}
		sink.ApplyCompletion(c)
	}
	s.progress = clampProgress(s.progress)
	return completions
}

func clampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p >= 100 {
		return math.Nextafter(100, 0)
	}
	return p
}
