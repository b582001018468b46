package engine

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/progression"
	"github.com/yuqie6/IdleCraft/internal/scheduler"
)

// StartOptions 开始活动的选项
type StartOptions struct {
	Loop bool
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

type skillEntry struct {
	level      int
	experience float64
	total      float64
	efficiency float64
	sched      *scheduler.Scheduler
}

// Engine 进度引擎核心：唯一持有技能状态与资源账本的写者。
// 所有变更在 mu 下串行执行，对外只暴露快照。
type Engine struct {
	mu      sync.Mutex
	cat     *catalog.Catalog
	roller  scheduler.Roller
	now     func() time.Time
	order   []string
	skills  map[string]*skillEntry
	ledger  *Ledger
	running bool

	// 当前 tick 累积的结算，提交事件时清空
	pendingCompletions []scheduler.Completion
	pendingCounts      map[string]int
	pendingDropped     int
	pendingLevelUps    []LevelUp

	// deliverMu 保证事件按提交顺序投递
	deliverMu sync.Mutex
	listeners listenerSet
}

// New 创建引擎，所有技能为默认状态，模拟处于运行中
func New(cat *catalog.Catalog, roller scheduler.Roller, opts ...Option) *Engine {
	e := &Engine{
		cat:     cat,
		roller:  roller,
		now:     time.Now,
		order:   cat.SkillIDs(),
		skills:  make(map[string]*skillEntry),
		ledger:  NewLedger(cat.PrimaryResource()),
		running: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, id := range e.order {
		e.skills[id] = e.defaultEntry(id)
	}
	return e
}

func (e *Engine) defaultEntry(skillID string) *skillEntry {
	return &skillEntry{
		level: 1,
		sched: scheduler.New(skillID, e.roller),
	}
}

// Catalog 技能目录
func (e *Engine) Catalog() *catalog.Catalog {
	return e.cat
}

// Subscribe 注册监听器，返回取消函数。
// 监听器在投递锁内被同步调用，不得同步调用引擎的变更方法。
func (e *Engine) Subscribe(fn func(ChangeEvent)) func() {
	return e.listeners.add(fn)
}

// IsRunning 模拟是否在运行
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetRunning 暂停/恢复。暂停期间 tick 不推进任何调度器。
func (e *Engine) SetRunning(running bool) {
	e.mu.Lock()
	if e.running == running {
		e.mu.Unlock()
		return
	}
	e.running = running
	slog.Info("模拟运行状态变更", "running", running)
	e.commit(ChangeEvent{Reason: ReasonRunning})
}

// StartActivity 为技能开始活动
func (e *Engine) StartActivity(skillID, activityID string, opts StartOptions) scheduler.StartStatus {
	e.mu.Lock()
	entry, ok := e.skills[skillID]
	if !ok {
		e.mu.Unlock()
		return scheduler.StartUnknownSkill
	}
	def, ok := e.cat.Activity(skillID, activityID)
	if !ok {
		e.mu.Unlock()
		return scheduler.StartUnknownActivity
	}
	st := entry.sched.Start(def, entry.level, opts.Loop, e.now())
	if !st.Started() {
		e.mu.Unlock()
		slog.Debug("开始活动被拒绝", "skill", skillID, "activity", activityID, "status", st)
		return st
	}
	e.commit(ChangeEvent{Reason: ReasonStart, SkillID: skillID})
	return st
}

// StopActivity 停止技能当前活动，丢弃未完成进度
func (e *Engine) StopActivity(skillID string) bool {
	e.mu.Lock()
	entry, ok := e.skills[skillID]
	if !ok || !entry.sched.Stop() {
		e.mu.Unlock()
		return false
	}
	e.commit(ChangeEvent{Reason: ReasonStop, SkillID: skillID})
	return true
}

// ToggleLoop 切换当前活动的循环标记，返回新值；技能空闲时 ok=false
func (e *Engine) ToggleLoop(skillID string) (loop bool, ok bool) {
	e.mu.Lock()
	entry, exists := e.skills[skillID]
	if !exists {
		e.mu.Unlock()
		return false, false
	}
	active, running := entry.sched.Active()
	if !running {
		e.mu.Unlock()
		return false, false
	}
	loop = !active.Loop
	entry.sched.SetLoop(loop)
	e.commit(ChangeEvent{Reason: ReasonLoop, SkillID: skillID})
	return loop, true
}

// AddExperience 直接增加经验（调试/管理入口）
func (e *Engine) AddExperience(skillID string, amount float64) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return false
	}
	e.mu.Lock()
	entry, ok := e.skills[skillID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.creditExperience(skillID, entry, amount)
	e.commit(ChangeEvent{Reason: ReasonExperience, SkillID: skillID})
	return true
}

// UnlockedActivities 指定等级下技能可用的活动
func (e *Engine) UnlockedActivities(skillID string, level int) []catalog.ActivityDefinition {
	return e.cat.UnlockedActivities(skillID, level)
}

// Tick 推进所有运行中的调度器。技能按注册顺序处理，整个 tick 应用完后才推送一次事件。
// 返回本次结算的周期数。
func (e *Engine) Tick(elapsed time.Duration) int {
	e.mu.Lock()
	if !e.running || elapsed <= 0 {
		e.mu.Unlock()
		return 0
	}

	sink := tickSink{e: e}
	advanced := false
	completions := 0
	for _, id := range e.order {
		entry := e.skills[id]
		if entry.sched.State() != scheduler.Running {
			continue
		}
		completions += entry.sched.Tick(elapsed, sink)
		advanced = true
	}
	if !advanced {
		e.mu.Unlock()
		return 0
	}
	e.commit(ChangeEvent{Reason: ReasonTick})
	return completions
}

// Snapshot 当前状态副本
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// SkillState 单个技能的快照
func (e *Engine) SkillState(skillID string) (SkillState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.skills[skillID]
	if !ok {
		return SkillState{}, false
	}
	return e.skillStateLocked(skillID, entry), true
}

// Restore 用快照替换全部状态，非法字段被钳制，目录中不存在的技能/活动被忽略
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	byID := make(map[string]SkillState, len(snap.Skills))
	for _, sk := range snap.Skills {
		if !e.cat.HasSkill(sk.SkillID) {
			slog.Warn("存档中存在未知技能，已忽略", "skill", sk.SkillID)
			continue
		}
		byID[sk.SkillID] = sk
	}

	for _, id := range e.order {
		entry := e.defaultEntry(id)
		if sk, ok := byID[id]; ok {
			e.restoreEntry(id, entry, sk)
		}
		e.skills[id] = entry
	}
	e.ledger.Set(snap.Resources)
	e.running = snap.Running
	e.clearPending()
	e.commit(ChangeEvent{Reason: ReasonRestore})
}

// Reset 恢复到新游戏状态
func (e *Engine) Reset() {
	e.mu.Lock()
	for _, id := range e.order {
		e.skills[id] = e.defaultEntry(id)
	}
	e.ledger = NewLedger(e.cat.PrimaryResource())
	e.running = true
	e.clearPending()
	e.commit(ChangeEvent{Reason: ReasonReset})
}

func (e *Engine) restoreEntry(skillID string, entry *skillEntry, sk SkillState) {
	level := progression.ClampLevel(sk.Level)
	exp := sk.Experience
	if math.IsNaN(exp) || exp < 0 {
		exp = 0
	}
	// 余量超过本级需求时重新归一
	level, exp, _ = progression.AddExperience(level, exp, 0)
	entry.level = level
	entry.experience = exp
	entry.efficiency = progression.EfficiencyForLevel(level)

	floor := progression.CumulativeExperience(level) + exp
	entry.total = sk.TotalExperience
	if math.IsNaN(entry.total) || entry.total < floor {
		entry.total = floor
	}

	if !sk.IsActive || sk.ActiveActivityID == "" {
		return
	}
	def, ok := e.cat.Activity(skillID, sk.ActiveActivityID)
	if !ok || def.RequiredLevel > level {
		slog.Warn("存档中的活动不可恢复，已置为空闲", "skill", skillID, "activity", sk.ActiveActivityID)
		return
	}
	var startedAt time.Time
	if sk.StartedAt > 0 {
		startedAt = time.UnixMilli(sk.StartedAt)
	}
	entry.sched.Restore(scheduler.ActiveActivity{
		RunID:     sk.RunID,
		Activity:  def,
		StartedAt: startedAt,
		Loop:      sk.Loop,
		LoopCount: max(0, sk.LoopCount),
	}, sk.Progress)
}

// creditExperience 调用方持有 mu
func (e *Engine) creditExperience(skillID string, entry *skillEntry, amount float64) {
	if amount <= 0 {
		return
	}
	from := entry.level
	level, exp, gained := progression.AddExperience(entry.level, entry.experience, amount)
	entry.level = level
	entry.experience = exp
	entry.total += amount
	if gained > 0 {
		entry.efficiency = progression.EfficiencyForLevel(level)
		e.pendingLevelUps = append(e.pendingLevelUps, LevelUp{SkillID: skillID, From: from, To: level})
		slog.Info("技能升级", "skill", skillID, "from", from, "to", level)
	}
}

// commit 在持有 mu 时调用：附加快照、释放 mu 并按顺序投递事件
func (e *Engine) commit(evt ChangeEvent) {
	evt.Snapshot = e.snapshotLocked()
	if n := len(e.pendingCompletions); n > 0 {
		keep := e.pendingCompletions
		if n > MaxEventCompletions {
			e.pendingDropped += n - MaxEventCompletions
			keep = append([]scheduler.Completion(nil), keep[n-MaxEventCompletions:]...)
		}
		evt.Completions = keep
		evt.CompletionCounts = e.pendingCounts
		evt.DroppedCompletions = e.pendingDropped
	}
	if len(e.pendingLevelUps) > 0 {
		evt.LevelUps = e.pendingLevelUps
	}
	e.clearPending()

	e.deliverMu.Lock()
	e.mu.Unlock()
	defer e.deliverMu.Unlock()
	e.listeners.deliver(evt)
}

func (e *Engine) clearPending() {
	e.pendingCompletions = nil
	e.pendingCounts = nil
	e.pendingDropped = 0
	e.pendingLevelUps = nil
}

// recordCompletion 只保留最近的结算，计数不丢
func (e *Engine) recordCompletion(c scheduler.Completion) {
	if e.pendingCounts == nil {
		e.pendingCounts = make(map[string]int)
	}
	e.pendingCounts[c.SkillID]++
	e.pendingCompletions = append(e.pendingCompletions, c)
	if n := len(e.pendingCompletions); n >= 2*MaxEventCompletions {
		e.pendingDropped += n - MaxEventCompletions
		e.pendingCompletions = e.pendingCompletions[:copy(e.pendingCompletions, e.pendingCompletions[n-MaxEventCompletions:])]
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Timestamp: e.now().UnixMilli(),
		Running:   e.running,
		Resources: e.ledger.Snapshot(),
		Skills:    make([]SkillState, 0, len(e.order)),
	}
	for _, id := range e.order {
		snap.Skills = append(snap.Skills, e.skillStateLocked(id, e.skills[id]))
	}
	return snap
}

func (e *Engine) skillStateLocked(skillID string, entry *skillEntry) SkillState {
	st := SkillState{
		SkillID:          skillID,
		Level:            entry.level,
		Experience:       entry.experience,
		ExperienceToNext: progression.ExperienceForLevel(entry.level),
		TotalExperience:  entry.total,
		Efficiency:       entry.efficiency,
		Progress:         entry.sched.Progress(),
	}
	if active, ok := entry.sched.Active(); ok {
		st.IsActive = true
		st.ActiveActivityID = active.Activity.ID
		st.BaseTime = active.Activity.BaseTime
		st.Loop = active.Loop
		st.LoopCount = active.LoopCount
		st.RunID = active.RunID
		if !active.StartedAt.IsZero() {
			st.StartedAt = active.StartedAt.UnixMilli()
		}
	}
	return st
}

// tickSink 调度器回调，只在 Tick 持有 mu 时使用
type tickSink struct {
	e *Engine
}

func (s tickSink) SkillLevel(skillID string) int {
	if entry, ok := s.e.skills[skillID]; ok {
		return entry.level
	}
	return 1
}

func (s tickSink) ApplyCompletion(c scheduler.Completion) {
	entry, ok := s.e.skills[c.SkillID]
	if !ok {
		return
	}
	for _, item := range c.Reward.Items {
		s.e.ledger.Credit(item.Resource, item.Amount)
	}
	s.e.creditExperience(c.SkillID, entry, c.Reward.Experience)
	s.e.recordCompletion(c)
}
