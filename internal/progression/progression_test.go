package progression

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestExperienceForLevelMonotonic(t *testing.T) {
	for level := 1; level < 500; level++ {
		if ExperienceForLevel(level+1) < ExperienceForLevel(level) {
			t.Fatalf("ExperienceForLevel(%d)=%v < ExperienceForLevel(%d)=%v",
				level+1, ExperienceForLevel(level+1), level, ExperienceForLevel(level))
		}
	}
}

func TestExperienceForLevelDeterministic(t *testing.T) {
	for level := 1; level <= MaxLevel; level++ {
		if ExperienceForLevel(level) != ExperienceForLevel(level) {
			t.Fatalf("ExperienceForLevel(%d) not deterministic", level)
		}
	}
	if got := ExperienceForLevel(1); got != BaseExperience {
		t.Fatalf("level1=%v, want %v", got, BaseExperience)
	}
	if got := ExperienceForLevel(0); got != ExperienceForLevel(1) {
		t.Fatalf("level0=%v, want clamp to level1", got)
	}
}

// 逐级扣减与直接公式一致
func TestLevelFromExperienceRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	max := CumulativeExperience(MaxLevel) + 10000
	for i := 0; i < 2000; i++ {
		total := math.Floor(rng.Float64() * max)

		level, remainder := LevelFromExperience(total)

		// 逐级扣减
		wantLevel, rest := 1, total
		for wantLevel < MaxLevel && rest >= ExperienceForLevel(wantLevel) {
			rest -= ExperienceForLevel(wantLevel)
			wantLevel++
		}
		if level != wantLevel || remainder != rest {
			t.Fatalf("total=%v: got (%d,%v), want (%d,%v)", total, level, remainder, wantLevel, rest)
		}

		// 重建
		if rebuilt := CumulativeExperience(level) + remainder; rebuilt != total {
			t.Fatalf("total=%v rebuilt=%v", total, rebuilt)
		}
	}
}

func TestLevelFromExperienceFractional(t *testing.T) {
	level, rem := LevelFromExperience(150.25)
	if level != 2 || math.Abs(rem-50.25) > 1e-9 {
		t.Fatalf("got (%d,%v), want (2,50.25)", level, rem)
	}
	level, rem = LevelFromExperience(-5)
	if level != 1 || rem != 0 {
		t.Fatalf("negative total: got (%d,%v), want (1,0)", level, rem)
	}
	level, _ = LevelFromExperience(math.NaN())
	if level != 1 {
		t.Fatalf("NaN total level=%d, want 1", level)
	}
}

func TestAddExperienceLevelsUp(t *testing.T) {
	level, exp, gained := AddExperience(1, 0, 300) // 100 + 110 = 210，足够升两级
	if level != 3 || gained != 2 {
		t.Fatalf("level=%d gained=%d, want 3,2", level, gained)
	}
	if exp < 0 || exp >= ExperienceForLevel(level) {
		t.Fatalf("exp=%v out of range", exp)
	}

	level, exp, gained = AddExperience(0, -10, -5)
	if level != 1 || exp != 0 || gained != 0 {
		t.Fatalf("invalid input not clamped: (%d,%v,%d)", level, exp, gained)
	}
}

func TestAddExperienceStopsAtMaxLevel(t *testing.T) {
	level, exp, _ := AddExperience(MaxLevel, 0, 1e12)
	if level != MaxLevel {
		t.Fatalf("level=%d, want %d", level, MaxLevel)
	}
	if exp != 1e12 {
		t.Fatalf("exp=%v, want accrued remainder", exp)
	}
}

func TestEfficiencyForLevel(t *testing.T) {
	prev := -1.0
	for level := 1; level <= MaxLevel+10; level++ {
		eff := EfficiencyForLevel(level)
		if eff < prev {
			t.Fatalf("efficiency decreased at level %d", level)
		}
		if eff < 0 || eff > 100 {
			t.Fatalf("efficiency=%v out of [0,100]", eff)
		}
		prev = eff
	}
	if EfficiencyForLevel(1) != 0 || EfficiencyForLevel(MaxLevel) != 100 {
		t.Fatalf("bounds: level1=%v max=%v", EfficiencyForLevel(1), EfficiencyForLevel(MaxLevel))
	}
}
