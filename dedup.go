package siseon

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// DuplicateEdge links a dropped article to the article that is kept in its place.
// Keep and Drop index into DedupResult.Sorted.
type DuplicateEdge struct {
	Keep   int              `json:"keep"`
	Drop   int              `json:"drop"`
	KeepID string           `json:"keep_id"`
	DropID string           `json:"drop_id"`
	Result SimilarityResult `json:"result"`
}

// DedupStats counts what each tier did.
type DedupStats struct {
	Input             int  `json:"input"`
	Ineligible        int  `json:"ineligible"`
	Exact             int  `json:"exact"`
	Signature         int  `json:"signature"`
	LengthGroup       int  `json:"length_group"`
	LengthTierSkipped bool `json:"length_tier_skipped"`
}

// Dropped returns the number of articles marked as duplicates.
func (s DedupStats) Dropped() int {
	return s.Exact + s.Signature + s.LengthGroup
}

// DedupResult is the output of HybridDeduplicator.Deduplicate.
type DedupResult struct {
	Sorted    []Article       `json:"-"`
	Edges     []DuplicateEdge `json:"edges"`
	Survivors []Article       `json:"-"`
	Stats     DedupStats      `json:"stats"`
}

// DuplicateOf maps every dropped article id to the surviving article it duplicates.
// Chains (A kept B, then C dropped A) resolve to the final survivor.
func (r DedupResult) DuplicateOf() map[string]string {
	keepOf := make(map[int]int, len(r.Edges))
	for _, e := range r.Edges {
		keepOf[e.Drop] = e.Keep
	}
	out := make(map[string]string, len(keepOf))
	for drop := range keepOf {
		root := keepOf[drop]
		for {
			next, ok := keepOf[root]
			if !ok {
				break
			}
			root = next
		}
		out[r.Sorted[drop].ID] = r.Sorted[root].ID
	}
	return out
}

// HybridDeduplicator finds duplicate articles with three tiers of increasing cost:
// exact body hash, title+lead signature hash, and length-bucketed pairwise scoring.
type HybridDeduplicator struct {
	cfg DedupConfig
}

func NewHybridDeduplicator(cfg DedupConfig) *HybridDeduplicator {
	return &HybridDeduplicator{cfg: cfg}
}

// dedupRun carries the per-call state shared by the tiers.
type dedupRun struct {
	cfg      DedupConfig
	sorted   []Article
	normBody []string
	eligible []bool
	excluded []bool
	result   *DedupResult
}

// Deduplicate sorts the articles newest first and runs the tiers in order.
// An article dropped by any tier is never compared again. It never fails:
// records that cannot be processed are logged and retained.
func (d *HybridDeduplicator) Deduplicate(articles []Article) DedupResult {
	sorted := make([]Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
	})

	result := DedupResult{Sorted: sorted}
	result.Stats.Input = len(sorted)

	run := &dedupRun{
		cfg:      d.cfg,
		sorted:   sorted,
		normBody: make([]string, len(sorted)),
		eligible: make([]bool, len(sorted)),
		excluded: make([]bool, len(sorted)),
		result:   &result,
	}
	for i, a := range sorted {
		if !utf8.ValidString(a.Body) || !utf8.ValidString(a.Title) {
			log.Warn("dedup: text is not valid UTF-8, keeping record unchecked", "id", a.ID)
			result.Stats.Ineligible++
			continue
		}
		run.eligible[i] = true
		run.normBody[i] = Normalize(a.Body)
	}

	run.exactTier()
	run.signatureTier()

	remaining := 0
	for i := range sorted {
		if !run.excluded[i] {
			remaining++
		}
	}
	if remaining < d.cfg.LengthTierCeiling {
		run.lengthTier()
	} else {
		result.Stats.LengthTierSkipped = true
		log.Printf("⏭️  Skipping length-bucket tier: %d articles remain (ceiling %d)", remaining, d.cfg.LengthTierCeiling)
	}

	for i, a := range sorted {
		if !run.excluded[i] {
			result.Survivors = append(result.Survivors, a)
		}
	}

	log.Printf("🧹 Dedup: %d articles → %d survivors (exact=%d, signature=%d, length=%d, ineligible=%d)",
		result.Stats.Input, len(result.Survivors), result.Stats.Exact, result.Stats.Signature,
		result.Stats.LengthGroup, result.Stats.Ineligible)

	return result
}

func (r *dedupRun) drop(keep, drop int, res SimilarityResult) {
	r.excluded[drop] = true
	r.result.Edges = append(r.result.Edges, DuplicateEdge{
		Keep:   keep,
		Drop:   drop,
		KeepID: r.sorted[keep].ID,
		DropID: r.sorted[drop].ID,
		Result: res,
	})
	switch res.Kind {
	case KindExact:
		r.result.Stats.Exact++
	case KindSignature:
		r.result.Stats.Signature++
	case KindLengthGroup:
		r.result.Stats.LengthGroup++
	}
}

// exactTier drops every later article whose normalized body hashes the same as an earlier one.
func (r *dedupRun) exactTier() {
	first := make(map[string]int)
	for i := range r.sorted {
		if r.excluded[i] || !r.eligible[i] {
			continue
		}
		if utf8.RuneCountInString(r.normBody[i]) < r.cfg.MinContentLength {
			continue
		}
		h := md5Hex(r.normBody[i])
		if keep, ok := first[h]; ok {
			r.drop(keep, i, SimilarityResult{Score: 1, IsDuplicate: true, Kind: KindExact, Threshold: 1})
			continue
		}
		first[h] = i
	}
}

// signatureTier groups by hash of title plus body lead, then confirms each
// candidate pair with a relaxed full-body score.
func (r *dedupRun) signatureTier() {
	groups := make(map[string][]int)
	var order []string
	for i, a := range r.sorted {
		if r.excluded[i] || !r.eligible[i] {
			continue
		}
		sig := Normalize(a.Title) + "|" + Normalize(leadRunes(a.Body, r.cfg.SignatureLeadChars))
		if utf8.RuneCountInString(sig) < r.cfg.MinSignatureLength {
			continue
		}
		h := md5Hex(sig)
		if _, ok := groups[h]; !ok {
			order = append(order, h)
		}
		groups[h] = append(groups[h], i)
	}

	for _, h := range order {
		members := groups[h]
		for x, keep := range members {
			if r.excluded[keep] {
				continue
			}
			for _, cand := range members[x+1:] {
				if r.excluded[cand] {
					continue
				}
				res := normalizedSimilarity(r.normBody[keep], r.normBody[cand], r.cfg.SignatureConfirmThreshold, KindSignature)
				if res.IsDuplicate {
					r.drop(keep, cand, res)
				}
			}
		}
	}
}

// lengthTier compares all pairs inside buckets of similar body length.
// Bodies shorter than one bucket are skipped.
func (r *dedupRun) lengthTier() {
	buckets := make(map[int][]int)
	for i := range r.sorted {
		if r.excluded[i] || !r.eligible[i] {
			continue
		}
		key := utf8.RuneCountInString(r.normBody[i]) / r.cfg.LengthBucketSize
		if key == 0 {
			continue
		}
		buckets[key] = append(buckets[key], i)
	}
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for _, k := range keys {
		members := buckets[k]
		for x, keep := range members {
			if r.excluded[keep] {
				continue
			}
			for _, cand := range members[x+1:] {
				if r.excluded[cand] {
					continue
				}
				if !TitleSimilarity(r.sorted[keep].Title, r.sorted[cand].Title, r.cfg.LengthTitleThreshold).IsDuplicate {
					continue
				}
				res := normalizedSimilarity(r.normBody[keep], r.normBody[cand], r.cfg.ContentThreshold, KindLengthGroup)
				if res.IsDuplicate {
					r.drop(keep, cand, res)
				}
			}
		}
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// leadRunes returns at most n leading runes of s.
func leadRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
