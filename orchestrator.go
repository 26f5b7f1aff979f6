package siseon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// GroupOutcome is what happened to one selected group during persistence.
type GroupOutcome struct {
	Title           string `json:"title"`
	EventType       string `json:"event_type"`
	Size            int    `json:"size"`
	Score           int    `json:"score"`
	IssueID         string `json:"issue_id,omitempty"`
	ArticlesUpdated int    `json:"articles_updated"`
	Err             error  `json:"-"`
}

// CategoryResult summarizes one category's clustering run. Err is set when
// the category was aborted; group-level failures live in Issues.
type CategoryResult struct {
	Category   string           `json:"category"`
	Fetched    int              `json:"fetched"`
	Parsed     int              `json:"parsed"`
	Clusters   int              `json:"clusters"`
	Noise      int              `json:"noise"`
	Silhouette float64          `json:"silhouette"`
	Assessment string           `json:"assessment"`
	Qualities  []ClusterQuality `json:"qualities"`
	Subgroups  int              `json:"subgroups"`
	Groups     int              `json:"groups"`
	Issues     []GroupOutcome   `json:"issues"`
	Err        error            `json:"-"`
	Duration   time.Duration    `json:"duration"`
}

// IssuesCreated counts the groups whose issue row was saved.
func (r CategoryResult) IssuesCreated() int {
	n := 0
	for _, o := range r.Issues {
		if o.IssueID != "" {
			n++
		}
	}
	return n
}

// ArticlesUpdated counts article back-references written for this category.
func (r CategoryResult) ArticlesUpdated() int {
	n := 0
	for _, o := range r.Issues {
		n += o.ArticlesUpdated
	}
	return n
}

// Failures counts groups that failed to persist completely.
func (r CategoryResult) Failures() int {
	n := 0
	for _, o := range r.Issues {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// RunSummary holds one result per requested category, in request order.
type RunSummary struct {
	Results    []CategoryResult `json:"results"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// IssuesCreated totals issues across categories.
func (s RunSummary) IssuesCreated() int {
	n := 0
	for _, r := range s.Results {
		n += r.IssuesCreated()
	}
	return n
}

// Orchestrator turns each category's embedded articles into persisted issues.
type Orchestrator struct {
	store      VectorStore
	reducer    DimensionalityReducer
	clusterer  DensityClusterer
	filter     QualityFilter
	subgrouper *EventSubgrouper
	merger     *SubgroupMerger
	settings   Settings
	now        func() time.Time
}

func NewOrchestrator(store VectorStore, gen TextGenerator, reducer DimensionalityReducer, clusterer DensityClusterer, settings Settings) *Orchestrator {
	cfg := settings.Clustering
	return &Orchestrator{
		store:     store,
		reducer:   reducer,
		clusterer: clusterer,
		filter: QualityFilter{
			MinClusterSize:      cfg.QualityMinSize,
			MaxCentroidDistance: cfg.MaxCentroidDistance,
		},
		subgrouper: NewEventSubgrouper(gen, cfg, settings.Vocabulary, Config.LLMTimeout),
		merger:     NewSubgroupMerger(cfg, settings.Vocabulary),
		settings:   settings,
		now:        time.Now,
	}
}

// Run processes every category, at most Parallelism at a time. A failing
// category never stops the others.
func (o *Orchestrator) Run(ctx context.Context, categories []string) RunSummary {
	summary := RunSummary{StartedAt: o.now(), Results: make([]CategoryResult, len(categories))}

	var g errgroup.Group
	g.SetLimit(max(1, o.settings.Clustering.Parallelism))
	for i, category := range categories {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				summary.Results[i] = CategoryResult{Category: category, Err: err}
				return nil
			}
			summary.Results[i] = o.ProcessCategory(ctx, category)
			return nil // errors are reported per category
		})
	}
	_ = g.Wait()

	summary.FinishedAt = o.now()
	return summary
}

// ProcessCategory runs fetch, reduce, cluster, filter, subgroup, merge and
// persist for one category.
func (o *Orchestrator) ProcessCategory(ctx context.Context, category string) CategoryResult {
	start := o.now()
	result := CategoryResult{Category: category}
	defer func() {
		result.Duration = o.now().Sub(start)
	}()
	cfg := o.settings.Clustering
	minArticles := max(cfg.MinArticles, 2)

	log.Printf("📂 [%s] fetching articles", category)
	records, err := o.store.FetchByCategory(ctx, category)
	if err != nil {
		result.Err = &ExternalCallError{Op: "fetch " + category, Err: err}
		log.Error("cluster: fetch failed", "category", category, "err", err)
		return result
	}
	result.Fetched = len(records)
	if len(records) < minArticles {
		result.Err = fmt.Errorf("%w: %s has %d articles, need %d", ErrInsufficientData, category, len(records), minArticles)
		log.Warn("cluster: skipping category", "category", category, "articles", len(records), "min", minArticles)
		return result
	}

	articles, vectors := parseEmbeddings(records)
	result.Parsed = len(articles)
	if len(articles) < minArticles {
		result.Err = fmt.Errorf("%w: %s has %d usable embeddings, need %d", ErrInsufficientData, category, len(articles), minArticles)
		log.Warn("cluster: too few usable embeddings", "category", category, "usable", len(articles))
		return result
	}

	normalized := normalizeVectors(vectors)
	reduced, err := o.reducer.FitTransform(toDense(normalized))
	if err != nil {
		result.Err = fmt.Errorf("failed to reduce dimensions: %w", err)
		return result
	}
	_, dims := reduced.Dims()
	log.Printf("🔄 [%s] reduced %d×%d → %d dimensions", category, len(normalized), len(normalized[0]), dims)

	labels, err := o.clusterer.FitPredict(reduced)
	if err != nil {
		result.Err = fmt.Errorf("failed to cluster: %w", err)
		return result
	}
	if len(labels) != len(articles) {
		result.Err = fmt.Errorf("clusterer returned %d labels for %d articles", len(labels), len(articles))
		return result
	}

	labels, result.Qualities = o.filter.Apply(normalized, labels)
	members := clusterMembers(labels)
	result.Clusters = len(members)
	result.Noise = len(labels)
	for _, idx := range members {
		result.Noise -= len(idx)
	}
	result.Silhouette = Silhouette(normalized, labels)
	result.Assessment = AssessQuality(result.Silhouette, result.Clusters, len(labels), result.Noise)
	log.Printf("🧩 [%s] %d clusters, %d noise, silhouette %.3f", category, result.Clusters, result.Noise, result.Silhouette)

	var subgroups []Subgroup
	for _, label := range sortedLabels(members) {
		clusterArticles := make([]Article, 0, len(members[label]))
		for _, i := range members[label] {
			clusterArticles = append(clusterArticles, articles[i])
		}
		subgroups = append(subgroups, o.subgrouper.Subgroup(ctx, label, clusterArticles)...)
	}
	result.Subgroups = len(subgroups)

	groups := o.merger.Merge(subgroups)
	for i := range groups {
		groups[i].Category = category
	}
	result.Groups = len(groups)

	top := o.merger.SelectTop(groups, cfg.TopIssues)
	log.Printf("🏆 [%s] %d subgroups → %d groups, %d selected", category, len(subgroups), len(groups), len(top))

	for _, g := range top {
		result.Issues = append(result.Issues, o.persist(ctx, g))
	}
	return result
}

// persist saves one group as an issue and links its articles. Failures are
// recorded on the outcome and never affect sibling groups.
func (o *Orchestrator) persist(ctx context.Context, g RankedGroup) GroupOutcome {
	outcome := GroupOutcome{Title: g.Title, EventType: g.EventType, Size: g.Size(), Score: g.Score}

	left, center, right := CountBias(g.Articles, o.settings.Vocabulary)
	issue := Issue{
		Title:       g.Title,
		Category:    g.Category,
		EventType:   g.EventType,
		LeftCount:   left,
		CenterCount: center,
		RightCount:  right,
		CreatedAt:   o.now(),
	}
	issueID, err := o.store.SaveIssue(ctx, issue)
	if err != nil {
		outcome.Err = &PersistenceError{Group: g.Title, Err: err}
		log.Error("cluster: failed to save issue", "category", g.Category, "group", g.Title, "err", err)
		return outcome
	}
	outcome.IssueID = issueID

	updated, err := o.store.UpdateArticlesIssueID(ctx, g.ArticleIDs(), issueID)
	outcome.ArticlesUpdated = updated
	if err != nil {
		outcome.Err = &PersistenceError{Group: g.Title, Err: err}
		log.Error("cluster: failed to link articles", "issue", issueID, "updated", updated, "size", g.Size(), "err", err)
		return outcome
	}
	log.Printf("✅ [%s] issue %q saved with %d articles (L%d/C%d/R%d)", g.Category, g.Title, updated, left, center, right)
	return outcome
}

// parseEmbeddings decodes the stored vectors, dropping records that fail to
// parse or whose dimension differs from the most common one.
func parseEmbeddings(records []EmbeddedArticle) ([]Article, [][]float64) {
	parsed := make([][]float64, len(records))
	dimCount := make(map[int]int)
	majority := 0
	for i, r := range records {
		var vec []float64
		if err := json.Unmarshal(r.Embedding, &vec); err != nil {
			log.Warn("cluster: dropping article", "err", &ParseError{Record: r.ID, Err: err})
			continue
		}
		if len(vec) == 0 {
			log.Warn("cluster: dropping article with empty embedding", "id", r.ID)
			continue
		}
		parsed[i] = vec
		dimCount[len(vec)]++
		if dimCount[len(vec)] > dimCount[majority] {
			majority = len(vec)
		}
	}

	var (
		articles []Article
		vectors  [][]float64
	)
	for i, vec := range parsed {
		if vec == nil {
			continue
		}
		if len(vec) != majority {
			log.Warn("cluster: dropping article with inconsistent dimension", "id", records[i].ID, "dim", len(vec), "expected", majority)
			continue
		}
		articles = append(articles, records[i].Article)
		vectors = append(vectors, vec)
	}
	return articles, vectors
}

// MarshalJSON adds the error message, which encoding/json cannot carry itself.
func (o GroupOutcome) MarshalJSON() ([]byte, error) {
	type plain GroupOutcome
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(o), errorText(o.Err)})
}

func (o *GroupOutcome) UnmarshalJSON(data []byte) error {
	type plain GroupOutcome
	var v struct {
		plain
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = GroupOutcome(v.plain)
	if v.Error != "" {
		o.Err = errors.New(v.Error)
	}
	return nil
}

func (r CategoryResult) MarshalJSON() ([]byte, error) {
	type plain CategoryResult
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(r), errorText(r.Err)})
}

func (r *CategoryResult) UnmarshalJSON(data []byte) error {
	type plain CategoryResult
	var v struct {
		plain
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = CategoryResult(v.plain)
	if v.Error != "" {
		r.Err = errors.New(v.Error)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
