package reward

import (
	"math"
	"testing"

	"github.com/yuqie6/IdleCraft/internal/catalog"
	"github.com/yuqie6/IdleCraft/internal/progression"
)

// fixedSource 按顺序返回预设值
type fixedSource struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (f *fixedSource) Float64() float64 {
	v := f.floats[f.fi%len(f.floats)]
	f.fi++
	return v
}

func (f *fixedSource) IntN(n int) int {
	if len(f.ints) == 0 {
		return 0
	}
	v := f.ints[f.ii%len(f.ints)] % n
	f.ii++
	return v
}

func TestRollIndependentLines(t *testing.T) {
	def := catalog.ActivityDefinition{
		ID:       "tree",
		BaseTime: 3,
		Rewards: []catalog.RewardLine{
			{Resource: "logs", Min: 1, Max: 1, Chance: 1.0, Experience: 10},
			{Resource: "gem", Min: 1, Max: 1, Chance: 0.0, Experience: 50},
		},
	}
	r := NewSeededRoller(42)
	for i := 0; i < 5000; i++ {
		got := r.Roll(def, 1)
		if len(got.Items) != 1 || got.Items[0].Resource != "logs" {
			t.Fatalf("roll %d items=%v, want only logs", i, got.Items)
		}
		if got.Experience != 10 {
			t.Fatalf("roll %d exp=%v, want 10", i, got.Experience)
		}
	}
}

func TestRollZeroLinesIsEmpty(t *testing.T) {
	r := NewSeededRoller(1)
	got := r.Roll(catalog.ActivityDefinition{ID: "idle", BaseTime: 1}, 1)
	if !got.Empty() || got.Items == nil {
		t.Fatalf("got=%+v, want empty non-nil reward", got)
	}
}

func TestRollAmountWithinRange(t *testing.T) {
	def := catalog.ActivityDefinition{
		Rewards: []catalog.RewardLine{{Resource: "ore", Min: 2, Max: 5, Chance: 1, Experience: 1}},
	}
	r := NewSeededRoller(7)
	seen := make(map[int64]bool)
	for i := 0; i < 2000; i++ {
		got := r.Roll(def, 1)
		amt := got.Items[0].Amount
		if amt < 2 || amt > 5 {
			t.Fatalf("amount=%d out of [2,5]", amt)
		}
		seen[amt] = true
	}
	if len(seen) != 4 {
		t.Fatalf("inclusive range not covered, seen=%v", seen)
	}
}

func TestRollMergesSameResourceAndUsesThreshold(t *testing.T) {
	def := catalog.ActivityDefinition{
		Rewards: []catalog.RewardLine{
			{Resource: "coins", Min: 1, Max: 1, Chance: 0.5, Experience: 1},
			{Resource: "logs", Min: 1, Max: 1, Chance: 0.5, Experience: 2},
			{Resource: "coins", Min: 3, Max: 3, Chance: 0.5, Experience: 4},
		},
	}
	// 0.49 命中，0.5 未命中（阈值为严格小于）
	src := &fixedSource{floats: []float64{0.49, 0.5, 0.1}}
	got := NewRoller(src).Roll(def, 1)
	if len(got.Items) != 1 || got.Items[0].Resource != "coins" || got.Items[0].Amount != 4 {
		t.Fatalf("items=%v, want coins=4", got.Items)
	}
	if got.Experience != 5 {
		t.Fatalf("exp=%v, want 5", got.Experience)
	}
}

func TestRollYieldBonusScalesWithLevel(t *testing.T) {
	def := catalog.ActivityDefinition{
		Rewards: []catalog.RewardLine{{Resource: "logs", Min: 10, Max: 10, Chance: 1}},
	}
	r := NewSeededRoller(3)
	if got := r.Roll(def, 1).Items[0].Amount; got != 10 {
		t.Fatalf("level1 amount=%d, want 10", got)
	}
	if got := r.Roll(def, progression.MaxLevel).Items[0].Amount; got != 15 {
		t.Fatalf("max level amount=%d, want 15", got)
	}
}

func TestSeededRollerDeterministic(t *testing.T) {
	def := catalog.ActivityDefinition{
		Rewards: []catalog.RewardLine{
			{Resource: "a", Min: 1, Max: 100, Chance: 0.5, Experience: 1},
			{Resource: "b", Min: 1, Max: 100, Chance: 0.5, Experience: 1},
		},
	}
	a, b := NewSeededRoller(99), NewSeededRoller(99)
	for i := 0; i < 100; i++ {
		ra, rb := a.Roll(def, 1), b.Roll(def, 1)
		if len(ra.Items) != len(rb.Items) || ra.Experience != rb.Experience {
			t.Fatalf("mismatch at %d: %+v vs %+v", i, ra, rb)
		}
		for j := range ra.Items {
			if ra.Items[j] != rb.Items[j] {
				t.Fatalf("mismatch at %d/%d: %+v vs %+v", i, j, ra.Items[j], rb.Items[j])
			}
		}
	}
}

func TestRollFullInt64RangeDoesNotPanic(t *testing.T) {
	def := catalog.ActivityDefinition{
		Rewards: []catalog.RewardLine{{Resource: "coins", Min: 0, Max: math.MaxInt64, Chance: 1}},
	}
	r := NewSeededRoller(1)
	for _, level := range []int{1, progression.MaxLevel} {
		got := r.Roll(def, level)
		for _, it := range got.Items {
			if it.Amount < 0 {
				t.Fatalf("level %d amount=%d overflowed", level, it.Amount)
			}
		}
	}
}

func TestYieldBonusSaturates(t *testing.T) {
	if got := yieldBonus(math.MaxInt64-1, 100); got != 1 {
		t.Fatalf("bonus=%d, want 1", got)
	}
}
