package reward

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/progression"
)

// YieldBonusFactor 满效率时额外产出的比例
const YieldBonusFactor = 0.5

// Source 随机源，*rand.Rand 满足该接口
type Source interface {
	Float64() float64
	IntN(n int) int
}

// ResourceDelta 一次奖励中某种资源的增量
type ResourceDelta struct {
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
}

// Reward 一次周期结算的具体奖励
type Reward struct {
	Items      []ResourceDelta `json:"items"`
	Experience float64         `json:"experience"`
}

// Empty 没有任何产出
func (r Reward) Empty() bool {
	return len(r.Items) == 0 && r.Experience == 0
}

// Roller 奖励掷骰器
type Roller struct {
	mu  sync.Mutex
	src Source
}

// NewRoller 使用给定随机源
func NewRoller(src Source) *Roller {
	if src == nil {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Roller{src: src}
}

// NewSeededRoller 固定种子，序列可复现
func NewSeededRoller(seed int64) *Roller {
	// 模拟用的非加密随机数
	// #nosec G404
	return NewRoller(rand.New(rand.NewPCG(seedWord(seed, "a"), seedWord(seed, "b"))))
}

func seedWord(seed int64, salt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%s", seed, salt)))
	return h.Sum64()
}

// Roll 对活动的每条奖励独立掷骰。没有奖励行时返回空奖励。
func (r *Roller) Roll(def catalog.ActivityDefinition, level int) Reward {
	out := Reward{Items: []ResourceDelta{}}
	if len(def.Rewards) == 0 {
		return out
	}

	eff := progression.EfficiencyForLevel(level)

	r.mu.Lock()
	defer r.mu.Unlock()

	index := make(map[string]int, len(def.Rewards))
	for _, line := range def.Rewards {
		// u ∈ [0,1)，chance=1 必中，chance=0 必不中
		if r.src.Float64() >= line.Chance {
			continue
		}
		out.Experience += line.Experience

		amount := r.rollRange(line.Min, line.Max)
		amount += yieldBonus(amount, eff)
		if amount <= 0 {
			continue
		}
		if i, ok := index[line.Resource]; ok {
			out.Items[i].Amount += amount
			continue
		}
		index[line.Resource] = len(out.Items)
		out.Items = append(out.Items, ResourceDelta{Resource: line.Resource, Amount: amount})
	}
	return out
}

// rollRange 闭区间 [min,max] 上均匀取整
func (r *Roller) rollRange(min, max int64) int64 {
	if max < min {
		min, max = max, min
	}
	if min == max {
		return min
	}
	// 无符号差值不会溢出；超出 int 范围时截断区间
	span := uint64(max) - uint64(min)
	if span >= math.MaxInt {
		span = math.MaxInt - 1
	}
	return min + int64(r.src.IntN(int(span)+1))
}

func yieldBonus(amount int64, efficiency float64) int64 {
	if amount <= 0 || efficiency <= 0 {
		return 0
	}
	bonus := math.Floor(float64(amount) * efficiency / 100 * YieldBonusFactor)
	if headroom := float64(math.MaxInt64 - amount); bonus >= headroom {
		return math.MaxInt64 - amount
	}
	return int64(bonus)
}
