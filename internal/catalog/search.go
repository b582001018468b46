package catalog

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

// ActivityMatch 模糊搜索命中
type ActivityMatch struct {
	SkillID    string `json:"skill_id"`
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
}

// searchItems 实现 fuzzy.Source
type searchItems []searchItem

type searchItem struct {
	skillID    string
	activityID string
	name       string
	text       string
}

func (s searchItems) String(i int) string { return s[i].text }
func (s searchItems) Len() int            { return len(s) }

// Search 按活动名/技能名模糊搜索，结果按相关度排序
func (c *Catalog) Search(query string) []ActivityMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []ActivityMatch{}
	}

	items := make(searchItems, 0)
	for _, s := range c.skills {
		for _, a := range s.Activities {
			items = append(items, searchItem{
				skillID:    s.ID,
				activityID: a.ID,
				name:       a.Name,
				text:       strings.ToLower(a.Name + " " + a.ID + " " + s.Name),
			})
		}
	}

	matches := fuzzy.FindFrom(query, items)
	out := make([]ActivityMatch, 0, len(matches))
	for _, m := range matches {
		it := items[m.Index]
		out = append(out, ActivityMatch{
			SkillID:    it.skillID,
			ActivityID: it.activityID,
			Name:       it.name,
			Score:      m.Score,
		})
	}
	return out
}

// SuggestSkill 对未知技能 id 给出最接近的已知 id，无合适候选时返回空串
func (c *Catalog) SuggestSkill(id string) string {
	candidates := make([]string, 0, len(c.skills))
	for _, s := range c.skills {
		candidates = append(candidates, s.ID)
	}
	return closest(id, candidates)
}

// SuggestActivity 对未知活动 id 给出最接近的候选
func (c *Catalog) SuggestActivity(skillID, id string) string {
	i, ok := c.skillIndex[skillID]
	if !ok {
		return ""
	}
	candidates := make([]string, 0, len(c.skills[i].Activities))
	for _, a := range c.skills[i].Activities {
		candidates = append(candidates, a.ID)
	}
	return closest(id, candidates)
}

func closest(token string, candidates []string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return ""
	}
	best := ""
	bestDist := -1
	for _, cand := range candidates {
		dist := levenshtein.ComputeDistance(token, strings.ToLower(cand))
		if dist > suggestLimit(len(cand)) {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best = cand
			bestDist = dist
		}
	}
	return best
}

func suggestLimit(n int) int {
	switch {
	case n <= 4:
		return 1
	case n <= 8:
		return 2
	default:
		return 3
	}
}
