package siseon

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	window, err := parseWindow("P2D")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, window)

	window, err = parseWindow("PT36H")
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, window)

	_, err = parseWindow("2 days")
	assert.Error(t, err)
	_, err = parseWindow("PT0S")
	assert.Error(t, err)
}

func TestLookbackSince(t *testing.T) {
	assert.Equal(t, "P2D", Config.LookbackWindow)

	since, err := lookbackSince(storeNow)
	require.NoError(t, err)
	assert.Equal(t, storeNow.Add(-48*time.Hour), since)

	saved := Config.LookbackWindow
	t.Cleanup(func() { Config.LookbackWindow = saved })
	Config.LookbackWindow = "PT6H"
	since, err = lookbackSince(storeNow)
	require.NoError(t, err)
	assert.Equal(t, storeNow.Add(-6*time.Hour), since)

	Config.LookbackWindow = "yesterday"
	_, err = lookbackSince(storeNow)
	assert.Error(t, err)
}

func TestImportArticlesStep(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 0)
	input := strings.Join([]string{
		`{"id":"a1","title":"국회 예산안 통과","body":"본문","outlet_id":"hani","published_at":"2025-03-01T20:00:00+09:00"}`,
		`{"id":"broken",`,
		``,
		`{"id":"a2","title":"  ","body":"제목 없음","outlet_id":"chosun","published_at":"2025-03-01T10:00:00Z"}`,
		`{"id":"a3","title":"북한 미사일 발사","body":"","outlet_id":"yonhap","published_at":"2025-03-01T09:00:00Z"}`,
	}, "\n")

	imported, skipped, err := importArticles(ctx, store, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 2, skipped)

	got, err := store.FetchSince(ctx, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a3"}, articleIDs(got))
	assert.Equal(t, "hani", got[0].OutletID)
	assert.True(t, got[0].PublishedAt.Equal(storeNow.Add(-time.Hour)))
}

func TestDedupArticlesStep(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 0)
	body := strings.Repeat("국회 예산안 처리 여야 합의 ", 10)
	newer := storedArticle("newer", 1)
	newer.Body = body
	older := storedArticle("older", 3)
	older.Title = "예산안 처리, 여야 합의"
	older.Body = body
	insertArticles(t, store, newer, older, storedArticle("other", 2))

	result, err := dedupArticles(ctx, store, DefaultSettings().Dedup, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Exact)
	assert.Equal(t, map[string]string{"older": "newer"}, result.DuplicateOf())

	remaining, err := store.FetchSince(ctx, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "other"}, articleIDs(remaining))

	// A second pass finds nothing new.
	result, err = dedupArticles(ctx, store, DefaultSettings().Dedup, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Stats.Dropped())
}

func TestClassifyArticlesStep(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 0)
	parliament := storedArticle("parliament", 1)
	parliament.Title = "국회 상임위서 야당 반발"
	weather := storedArticle("weather", 2)
	weather.Title = "봄꽃 개화 시작"
	insertArticles(t, store, parliament, weather)

	counts, err := classifyArticles(ctx, store, newTestClassifier(nil), storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"국회/정당": 1, UncertainCategory: 1}, counts)

	pending, err := store.FetchUncategorized(ctx, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)

	toEmbed, err := store.FetchWithoutEmbedding(ctx, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"parliament"}, articleIDs(toEmbed))
}

func TestEmbedArticlesStep(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 0)
	insertArticles(t, store, storedArticle("a", 1), storedArticle("b", 2))
	require.NoError(t, store.UpdateCategory(ctx, "a", "선거", ""))
	require.NoError(t, store.UpdateCategory(ctx, "b", "선거", ""))

	embedder := &fakeEmbedder{fail: map[string]bool{"제목 b": true}}
	saved, err := embedArticles(ctx, store, embedder, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Contains(t, embedder.texts, "제목 a\n\n본문 a")

	// The failed article is picked up again next time.
	pending, err := store.FetchWithoutEmbedding(ctx, storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, articleIDs(pending))

	embedded, err := store.FetchByCategory(ctx, "선거")
	require.NoError(t, err)
	assert.Len(t, embedded, 1)
}

func sampleSummary() RunSummary {
	return RunSummary{
		StartedAt:  storeNow.Add(-time.Minute),
		FinishedAt: storeNow,
		Results: []CategoryResult{
			{
				Category:   "사법/검찰",
				Fetched:    80,
				Parsed:     79,
				Clusters:   4,
				Noise:      11,
				Silhouette: 0.412,
				Assessment: "good",
				Issues: []GroupOutcome{
					{Title: "특검 수사", EventType: "수사", Size: 30, Score: 40, IssueID: "x", ArticlesUpdated: 30},
					{Title: "탄핵 심판", EventType: "재판", Size: 22, Score: 32, Err: &PersistenceError{Group: "탄핵 심판", Err: errors.New("disk full")}},
				},
			},
			{Category: "지역정치", Fetched: 4, Err: ErrInsufficientData},
		},
	}
}

func TestRunSummaryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clusters", "summary.json")
	summary := sampleSummary()
	require.NoError(t, saveRunSummary(path, summary))

	loaded, err := loadRunSummary(path)
	require.NoError(t, err)
	require.Len(t, loaded.Results, 2)
	assert.True(t, loaded.StartedAt.Equal(summary.StartedAt))

	first := loaded.Results[0]
	assert.NoError(t, first.Err)
	assert.Equal(t, 79, first.Parsed)
	assert.Equal(t, 1, first.IssuesCreated())
	assert.Equal(t, 1, first.Failures())
	assert.EqualError(t, first.Issues[1].Err, `persist group "탄핵 심판": disk full`)
	assert.EqualError(t, loaded.Results[1].Err, "insufficient data")

	_, err = loadRunSummary(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFormatRunReport(t *testing.T) {
	issues := []Issue{{ID: "x", Title: "특검 수사", Category: "사법/검찰", EventType: "수사", LeftCount: 3, CenterCount: 2, RightCount: 2}}
	var linked []Article
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		linked = append(linked, Article{ID: id, Title: "특검 기사 " + id, OutletID: "hani"})
	}

	report := formatRunReport(sampleSummary(), issues, map[string][]Article{"x": linked})

	assert.Contains(t, report, "# "+reportTitle)
	assert.Contains(t, report, "| 사법/검찰 | 79 | 4 | 11 | 0.412 | good | 1 | 1 |")
	assert.Contains(t, report, "- **지역정치**: insufficient data")
	assert.Contains(t, report, "### 특검 수사")
	assert.Contains(t, report, "기사 7건 (진보 3 / 중도 2 / 보수 2)")
	assert.Contains(t, report, "특검 기사 5 (hani)")
	assert.NotContains(t, report, "특검 기사 6")
	assert.Contains(t, report, "외 2건")

	empty := formatRunReport(RunSummary{FinishedAt: storeNow}, nil, nil)
	assert.Contains(t, empty, "생성된 이슈가 없습니다")
}

func TestGenerateCompleteHTML(t *testing.T) {
	report := formatRunReport(sampleSummary(), nil, nil)

	page, err := generateCompleteHTML(report, storeNow)
	require.NoError(t, err)
	assert.Contains(t, page, "<title>"+reportTitle+" - 2025년 3월 1일</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "지역정치")
	assert.Contains(t, page, "border-collapse")
}

func TestGenerateRunReport(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 0)
	insertArticles(t, store, storedArticle("a", 1), storedArticle("b", 2))
	id, err := store.SaveIssue(ctx, Issue{Title: "특검 수사", Category: "사법/검찰", EventType: "수사", CenterCount: 2, CreatedAt: storeNow})
	require.NoError(t, err)
	_, err = store.UpdateArticlesIssueID(ctx, []string{"a", "b"}, id)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, saveRunSummary(path, sampleSummary()))

	report, err := generateRunReport(ctx, store, path)
	require.NoError(t, err)
	assert.Contains(t, report, "### 특검 수사")
	assert.Contains(t, report, "제목 a (yonhap)")
	assert.Contains(t, report, "제목 b (yonhap)")
}
