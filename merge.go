package siseon

import (
	"sort"
	"strings"
)

// Group is a final candidate issue: a large subgroup, a pattern merge of
// small subgroups, or a small subgroup kept as it is.
type Group struct {
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	EventType string    `json:"event_type"`
	Merged    bool      `json:"merged"`
	Pattern   string    `json:"pattern,omitempty"`
	Subgroups []string  `json:"subgroups"`
	Articles  []Article `json:"articles"`
}

// Size returns the number of member articles.
func (g Group) Size() int { return len(g.Articles) }

// ArticleIDs returns the member ids in order.
func (g Group) ArticleIDs() []string {
	ids := make([]string, len(g.Articles))
	for i, a := range g.Articles {
		ids[i] = a.ID
	}
	return ids
}

// RankedGroup is a group with its ranking score.
type RankedGroup struct {
	Group
	Score int `json:"score"`
}

// SubgroupMerger folds small subgroups into recurring narrative patterns and ranks the result.
type SubgroupMerger struct {
	cfg   ClusteringConfig
	vocab Vocabulary
}

func NewSubgroupMerger(cfg ClusteringConfig, vocab Vocabulary) *SubgroupMerger {
	return &SubgroupMerger{cfg: cfg, vocab: vocab}
}

// Merge keeps subgroups of at least MinSubgroupSize as they are. Smaller ones
// join the first pattern with MinPatternMatches keywords in their title;
// pattern buckets that reach MinSubgroupSize become one merged group, the
// rest stay individual groups. No article is lost or duplicated.
func (m *SubgroupMerger) Merge(subgroups []Subgroup) []Group {
	var kept, leftovers []Group
	buckets := make([][]Subgroup, len(m.vocab.EventPatterns))

	for _, sg := range subgroups {
		if sg.Size() >= m.cfg.MinSubgroupSize {
			kept = append(kept, groupOf(sg))
			continue
		}
		if p := m.matchPattern(sg.Title); p >= 0 {
			buckets[p] = append(buckets[p], sg)
			continue
		}
		leftovers = append(leftovers, groupOf(sg))
	}

	var merged []Group
	for p, bucket := range buckets {
		total := 0
		for _, sg := range bucket {
			total += sg.Size()
		}
		if total < m.cfg.MinSubgroupSize {
			for _, sg := range bucket {
				leftovers = append(leftovers, groupOf(sg))
			}
			continue
		}
		pattern := m.vocab.EventPatterns[p]
		g := Group{
			Title:     pattern.Name,
			EventType: pattern.EventType,
			Merged:    true,
			Pattern:   pattern.Name,
		}
		for _, sg := range bucket {
			g.Subgroups = append(g.Subgroups, sg.ID)
			g.Articles = append(g.Articles, sg.Articles...)
		}
		merged = append(merged, g)
	}

	out := make([]Group, 0, len(kept)+len(merged)+len(leftovers))
	out = append(out, kept...)
	out = append(out, merged...)
	return append(out, leftovers...)
}

// matchPattern returns the index of the first pattern with enough keywords in title, or -1.
func (m *SubgroupMerger) matchPattern(title string) int {
	lower := strings.ToLower(title)
	for p, pattern := range m.vocab.EventPatterns {
		hits := 0
		for _, k := range pattern.Keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				hits++
			}
		}
		if hits >= m.cfg.MinPatternMatches {
			return p
		}
	}
	return -1
}

// Score is the article count plus bonuses for high-confidence event types and
// merges. Groups below MinIssueArticles score 0.
func (m *SubgroupMerger) Score(g Group) int {
	if g.Size() < m.cfg.MinIssueArticles {
		return 0
	}
	score := g.Size()
	if m.vocab.IsHighConfidence(g.EventType) {
		score += m.cfg.HighConfidenceBonus
	}
	if g.Merged {
		score += m.cfg.MergeBonus
	}
	return score
}

// Rank returns the groups eligible for promotion, best first. Groups under
// the persistence threshold are left out; ties keep input order.
func (m *SubgroupMerger) Rank(groups []Group) []RankedGroup {
	var ranked []RankedGroup
	for _, g := range groups {
		if g.Size() < m.cfg.MinIssueArticles {
			continue
		}
		ranked = append(ranked, RankedGroup{Group: g, Score: m.Score(g)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// SelectTop returns at most n of the best ranked groups.
func (m *SubgroupMerger) SelectTop(groups []Group, n int) []RankedGroup {
	ranked := m.Rank(groups)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func groupOf(sg Subgroup) Group {
	return Group{
		Title:     sg.Title,
		EventType: sg.EventType,
		Subgroups: []string{sg.ID},
		Articles:  sg.Articles,
	}
}
