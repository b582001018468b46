package catalog

import (
	"fmt"
	"strings"
	"time"
)

// RewardLine 一条独立掷骰的奖励
type RewardLine struct {
	Resource   string  `yaml:"resource" toml:"resource" json:"resource"`
	Min        int64   `yaml:"min" toml:"min" json:"min"`
	Max        int64   `yaml:"max" toml:"max" json:"max"`
	Chance     float64 `yaml:"chance" toml:"chance" json:"chance"`             // 掉落概率 (0,1]
	Experience float64 `yaml:"experience" toml:"experience" json:"experience"` // 命中时给予的经验
}

// ActivityDefinition 技能下的一个限时活动（砍某种树、挖某种矿）
type ActivityDefinition struct {
	ID            string       `yaml:"id" toml:"id" json:"id"`
	SkillID       string       `yaml:"-" toml:"-" json:"skill_id"`
	Name          string       `yaml:"name" toml:"name" json:"name"`
	RequiredLevel int          `yaml:"required_level" toml:"required_level" json:"required_level"`
	BaseTime      float64      `yaml:"base_time" toml:"base_time" json:"base_time"` // 秒
	Rewards       []RewardLine `yaml:"rewards" toml:"rewards" json:"rewards"`
}

// Duration 单个周期时长
func (a ActivityDefinition) Duration() time.Duration {
	return time.Duration(a.BaseTime * float64(time.Second))
}

func (a ActivityDefinition) clone() ActivityDefinition {
	out := a
	out.Rewards = append([]RewardLine(nil), a.Rewards...)
	return out
}

// SkillDefinition 技能定义，启动时加载后不再修改
type SkillDefinition struct {
	ID         string               `yaml:"id" toml:"id" json:"id"`
	Name       string               `yaml:"name" toml:"name" json:"name"`
	Activities []ActivityDefinition `yaml:"activities" toml:"activities" json:"activities"`
}

func (s SkillDefinition) clone() SkillDefinition {
	out := s
	out.Activities = make([]ActivityDefinition, len(s.Activities))
	for i, a := range s.Activities {
		out.Activities[i] = a.clone()
	}
	return out
}

// Document 目录文件的原始结构
type Document struct {
	PrimaryResource string            `yaml:"primary_resource" toml:"primary_resource" json:"primary_resource"`
	Skills          []SkillDefinition `yaml:"skills" toml:"skills" json:"skills"`
}

// Catalog 只读的技能/活动注册表
type Catalog struct {
	primary    string
	skills     []SkillDefinition
	skillIndex map[string]int
	actIndex   map[string]map[string]int
}

// New 校验文档并构建目录
func New(doc Document) (*Catalog, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		primary:    strings.TrimSpace(doc.PrimaryResource),
		skills:     make([]SkillDefinition, 0, len(doc.Skills)),
		skillIndex: make(map[string]int, len(doc.Skills)),
		actIndex:   make(map[string]map[string]int, len(doc.Skills)),
	}
	for i, s := range doc.Skills {
		s = s.clone()
		acts := make(map[string]int, len(s.Activities))
		for j := range s.Activities {
			s.Activities[j].SkillID = s.ID
			acts[s.Activities[j].ID] = j
		}
		c.skills = append(c.skills, s)
		c.skillIndex[s.ID] = i
		c.actIndex[s.ID] = acts
	}
	return c, nil
}

// MaxRewardAmount 单条奖励数量上限，留足等级加成与账本累加的余量
const MaxRewardAmount int64 = 1 << 40

// Validate 检查目录不变量
func (d Document) Validate() error {
	if len(d.Skills) == 0 {
		return fmt.Errorf("目录中没有技能")
	}
	seenSkills := make(map[string]struct{}, len(d.Skills))
	for _, s := range d.Skills {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("技能 id 不能为空")
		}
		if _, ok := seenSkills[s.ID]; ok {
			return fmt.Errorf("技能 id 重复: %s", s.ID)
		}
		seenSkills[s.ID] = struct{}{}

		seenActs := make(map[string]struct{}, len(s.Activities))
		for _, a := range s.Activities {
			if strings.TrimSpace(a.ID) == "" {
				return fmt.Errorf("技能 %s 存在空 id 的活动", s.ID)
			}
			if _, ok := seenActs[a.ID]; ok {
				return fmt.Errorf("技能 %s 的活动 id 重复: %s", s.ID, a.ID)
			}
			seenActs[a.ID] = struct{}{}
			if a.RequiredLevel < 1 {
				return fmt.Errorf("活动 %s/%s required_level 必须 >= 1", s.ID, a.ID)
			}
			if a.BaseTime <= 0 {
				return fmt.Errorf("活动 %s/%s base_time 必须 > 0", s.ID, a.ID)
			}
			for _, r := range a.Rewards {
				if strings.TrimSpace(r.Resource) == "" {
					return fmt.Errorf("活动 %s/%s 存在空资源的奖励", s.ID, a.ID)
				}
				if r.Chance <= 0 || r.Chance > 1 {
					return fmt.Errorf("活动 %s/%s 奖励 %s chance=%v 不在 (0,1]", s.ID, a.ID, r.Resource, r.Chance)
				}
				if r.Min < 0 || r.Max < r.Min || r.Max > MaxRewardAmount {
					return fmt.Errorf("活动 %s/%s 奖励 %s 数量区间非法 [%d,%d]", s.ID, a.ID, r.Resource, r.Min, r.Max)
				}
				if r.Experience < 0 {
					return fmt.Errorf("活动 %s/%s 奖励 %s 经验为负", s.ID, a.ID, r.Resource)
				}
			}
		}
	}
	return nil
}

// PrimaryResource 主货币的资源 id
func (c *Catalog) PrimaryResource() string {
	return c.primary
}

// Skills 按注册顺序返回所有技能（副本）
func (c *Catalog) Skills() []SkillDefinition {
	out := make([]SkillDefinition, len(c.skills))
	for i, s := range c.skills {
		out[i] = s.clone()
	}
	return out
}

// SkillIDs 按注册顺序返回技能 id，即 tick 的处理顺序
func (c *Catalog) SkillIDs() []string {
	out := make([]string, len(c.skills))
	for i, s := range c.skills {
		out[i] = s.ID
	}
	return out
}

// Skill 根据 id 查询技能
func (c *Catalog) Skill(id string) (SkillDefinition, bool) {
	i, ok := c.skillIndex[id]
	if !ok {
		return SkillDefinition{}, false
	}
	return c.skills[i].clone(), true
}

// HasSkill 技能是否存在
func (c *Catalog) HasSkill(id string) bool {
	_, ok := c.skillIndex[id]
	return ok
}

// Activity 查询某技能下的活动
func (c *Catalog) Activity(skillID, activityID string) (ActivityDefinition, bool) {
	i, ok := c.skillIndex[skillID]
	if !ok {
		return ActivityDefinition{}, false
	}
	j, ok := c.actIndex[skillID][activityID]
	if !ok {
		return ActivityDefinition{}, false
	}
	return c.skills[i].Activities[j].clone(), true
}

// UnlockedActivities 返回 level 已解锁的活动，保持目录顺序
func (c *Catalog) UnlockedActivities(skillID string, level int) []ActivityDefinition {
	i, ok := c.skillIndex[skillID]
	if !ok {
		return []ActivityDefinition{}
	}
	out := make([]ActivityDefinition, 0, len(c.skills[i].Activities))
	for _, a := range c.skills[i].Activities {
		if a.RequiredLevel <= level {
			out = append(out, a.clone())
		}
	}
	return out
}
