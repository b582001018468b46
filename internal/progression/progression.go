package progression

import "math"

const (
	// BaseExperience 1 级升 2 级所需经验
	BaseExperience = 100.0
	// Growth 每级所需经验的增长倍率
	Growth = 1.1
	// MaxLevel 等级上限，达到后经验继续累积为余量
	MaxLevel = 99
	// MaxEfficiency 效率上限（百分比）
	MaxEfficiency = 100.0
)

// ExperienceForLevel 从 level 升到 level+1 所需经验（取整，单调不减）
func ExperienceForLevel(level int) float64 {
	if level < 1 {
		level = 1
	}
	return math.Floor(BaseExperience * math.Pow(Growth, float64(level-1)))
}

// CumulativeExperience 从 1 级到达 level 所需的总经验
func CumulativeExperience(level int) float64 {
	if level > MaxLevel {
		level = MaxLevel
	}
	total := 0.0
	for l := 1; l < level; l++ {
		total += ExperienceForLevel(l)
	}
	return total
}

// LevelFromExperience 由累计经验反推 (等级, 当前等级内余量)
func LevelFromExperience(total float64) (int, float64) {
	if math.IsNaN(total) || total < 0 {
		total = 0
	}
	level := 1
	for level < MaxLevel {
		need := ExperienceForLevel(level)
		if total < need {
			break
		}
		total -= need
		level++
	}
	return level, total
}

// AddExperience 在 (level, exp) 上增加 gain，返回新等级、新余量和升级次数。
// 非法输入会被钳制。
func AddExperience(level int, exp, gain float64) (int, float64, int) {
	level = ClampLevel(level)
	if math.IsNaN(exp) || exp < 0 {
		exp = 0
	}
	if math.IsNaN(gain) || gain < 0 {
		gain = 0
	}

	exp += gain
	gained := 0
	for level < MaxLevel {
		need := ExperienceForLevel(level)
		if exp < need {
			break
		}
		exp -= need
		level++
		gained++
	}
	return level, exp, gained
}

// EfficiencyForLevel 等级带来的效率百分比，1 级为 0，满级为 100
func EfficiencyForLevel(level int) float64 {
	level = ClampLevel(level)
	eff := float64(level-1) * MaxEfficiency / float64(MaxLevel-1)
	return math.Min(MaxEfficiency, eff)
}

// ClampLevel 将等级限制在 [1, MaxLevel]
func ClampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
