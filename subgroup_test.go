package siseon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeEventsReply = "```json\n" + `{"events":[
	{"name":"특검 수사","event_type":"수사","keywords":["특검","수사","압수수색"]},
	{"name":"예산 심사","event_type":"법안","keywords":["예산","국회","심사"]},
	{"name":"북한 도발","event_type":"외교","keywords":["북한","미사일"]}
]}` + "\n```"

func subgroupArticles(titles ...string) []Article {
	articles := make([]Article, len(titles))
	for i, title := range titles {
		articles[i] = Article{ID: fmt.Sprintf("a%02d", i), Title: title, OutletID: "yonhap"}
	}
	return articles
}

var clusterTitles = []string{
	"특검, 김 여사 수사 착수",
	"특검 압수수색 진행",
	"특검 수사팀 출범",
	"특검 수사 기간 연장",
	"국회 예산 심사 돌입",
	"국회 예산안 처리 지연",
	"예산 국회 통과",
	"국회 예결위 예산 조정",
	"북한 미사일 발사",
	"북한 또 미사일",
	"대통령 지지율 발표",
	"특검 논란",
}

func newTestSubgrouper(gen TextGenerator, timeout time.Duration) *EventSubgrouper {
	s := DefaultSettings()
	return NewEventSubgrouper(gen, s.Clustering, s.Vocabulary, timeout)
}

func assertPartition(t *testing.T, articles []Article, subgroups []Subgroup) {
	t.Helper()
	seen := make(map[string]int)
	for _, sg := range subgroups {
		require.NotEmpty(t, sg.Articles)
		for _, a := range sg.Articles {
			seen[a.ID]++
		}
	}
	assert.Len(t, seen, len(articles))
	for _, a := range articles {
		assert.Equal(t, 1, seen[a.ID], "article %s", a.ID)
	}
}

func TestEventSubgrouper_GroupsByKeywords(t *testing.T) {
	gen := &fakeGenerator{reply: threeEventsReply}
	articles := subgroupArticles(clusterTitles...)

	subgroups := newTestSubgrouper(gen, time.Second).Subgroup(context.Background(), 0, articles)

	assertPartition(t, articles, subgroups)
	require.Len(t, subgroups, 6)
	assert.Equal(t, "특검 수사", subgroups[0].Title)
	assert.Equal(t, "수사", subgroups[0].EventType)
	assert.Equal(t, 4, subgroups[0].Size())
	assert.Equal(t, "예산 심사", subgroups[1].Title)
	assert.Equal(t, 4, subgroups[1].Size())
	for _, sg := range subgroups[2:] {
		assert.Equal(t, 1, sg.Size())
		assert.Equal(t, EventTypeUnmatched, sg.EventType)
	}

	require.Equal(t, 1, gen.calls)
	req := gen.requests[0]
	require.NotNil(t, req.Schema)
	assert.Equal(t, "cluster_events", req.Schema.Name)
	assert.Contains(t, req.Prompt, "1. 특검, 김 여사 수사 착수")
}

func TestEventSubgrouper_FallbackOnError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("service unavailable")}
	articles := subgroupArticles(clusterTitles...)

	subgroups := newTestSubgrouper(gen, time.Second).Subgroup(context.Background(), 3, articles)

	require.Len(t, subgroups, len(articles))
	assertPartition(t, articles, subgroups)
	ids := make(map[string]bool)
	for _, sg := range subgroups {
		assert.Equal(t, EventTypeFallback, sg.EventType)
		assert.Equal(t, 3, sg.ClusterLabel)
		ids[sg.ID] = true
	}
	assert.Len(t, ids, len(articles))
}

func TestEventSubgrouper_FallbackOnUnparseableReply(t *testing.T) {
	gen := &fakeGenerator{reply: "죄송합니다. 사건을 찾지 못했습니다."}
	articles := subgroupArticles(clusterTitles...)

	subgroups := newTestSubgrouper(gen, time.Second).Subgroup(context.Background(), 0, articles)

	require.Len(t, subgroups, len(articles))
	for _, sg := range subgroups {
		assert.Equal(t, EventTypeFallback, sg.EventType)
	}
}

func TestEventSubgrouper_FallbackOnTimeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	articles := subgroupArticles(clusterTitles[:5]...)

	subgroups := newTestSubgrouper(gen, 20*time.Millisecond).Subgroup(context.Background(), 0, articles)

	require.Len(t, subgroups, 5)
	for _, sg := range subgroups {
		assert.Equal(t, EventTypeFallback, sg.EventType)
	}
}

func TestEventSubgrouper_NilGeneratorFallsBack(t *testing.T) {
	articles := subgroupArticles(clusterTitles[:3]...)

	subgroups := newTestSubgrouper(nil, time.Second).Subgroup(context.Background(), 0, articles)

	require.Len(t, subgroups, 3)
	assert.Equal(t, EventTypeFallback, subgroups[0].EventType)
}

func TestEventSubgrouper_EmptyCluster(t *testing.T) {
	gen := &fakeGenerator{reply: threeEventsReply}
	assert.Empty(t, newTestSubgrouper(gen, time.Second).Subgroup(context.Background(), 0, nil))
	assert.Zero(t, gen.calls)
}

func TestEventSubgrouper_PromptLimitsTitles(t *testing.T) {
	gen := &fakeGenerator{reply: threeEventsReply}
	titles := make([]string, 80)
	for i := range titles {
		titles[i] = fmt.Sprintf("기사 제목 %d", i)
	}

	newTestSubgrouper(gen, time.Second).Subgroup(context.Background(), 0, subgroupArticles(titles...))

	require.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.requests[0].Prompt, "50. 기사 제목 49")
	assert.NotContains(t, gen.requests[0].Prompt, "51. 기사 제목 50")
}

func TestEventSubgrouper_PartitionRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	words := []string{"특검", "수사", "예산", "국회", "북한", "미사일", "선거", "공천", "대통령"}
	gen := &fakeGenerator{reply: threeEventsReply}
	sub := newTestSubgrouper(gen, time.Second)

	for round := 0; round < 20; round++ {
		n := 1 + rng.Intn(40)
		titles := make([]string, n)
		for i := range titles {
			titles[i] = fmt.Sprintf("%s %s %s", words[rng.Intn(len(words))], words[rng.Intn(len(words))], words[rng.Intn(len(words))])
		}
		articles := subgroupArticles(titles...)
		assertPartition(t, articles, sub.Subgroup(context.Background(), round, articles))
	}
}

func TestAssignEvents_TiesGoToEarlierEvent(t *testing.T) {
	events := []Event{
		{Name: "A", Keywords: []string{"국회", "예산"}},
		{Name: "B", Keywords: []string{"예산", "국회"}},
	}
	sub := newTestSubgrouper(nil, time.Second)

	assigned, unmatched := sub.AssignEvents(subgroupArticles("국회 예산 통과", "국회 단독"), events)

	assert.Equal(t, [][]int{{0}, nil}, assigned)
	assert.Equal(t, []int{1}, unmatched)
}

func TestKeywordScore(t *testing.T) {
	assert.Equal(t, 3, KeywordScore("특검 수사 압수수색", []string{"특검", "수사", "압수수색"}))
	assert.Equal(t, 2, KeywordScore("특검 압수수색", []string{"특검", "수사", "압수수색"}))
	assert.Equal(t, 2, KeywordScore("AI 규제, ai 법안", []string{"Ai"}))
	assert.Equal(t, 0, KeywordScore("국회", []string{""}))
}

func TestParseEventsResponse(t *testing.T) {
	vocab := DefaultSettings().Vocabulary

	events, err := ParseEventsResponse(`{"events":[{"name":" 인사청문회 ","event_type":"mystery","keywords":["장관"," 청문 "]}]}`, vocab)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "인사청문회", events[0].Name)
	assert.Equal(t, EventTypeGeneral, events[0].EventType)
	assert.Equal(t, []string{"장관", "청문"}, events[0].Keywords)

	events, err = ParseEventsResponse(threeEventsReply, vocab)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestParseEventsResponse_Rejects(t *testing.T) {
	vocab := DefaultSettings().Vocabulary
	tooMany := `{"events":[` +
		`{"name":"1","event_type":"수사","keywords":["a"]},{"name":"2","event_type":"수사","keywords":["a"]},` +
		`{"name":"3","event_type":"수사","keywords":["a"]},{"name":"4","event_type":"수사","keywords":["a"]},` +
		`{"name":"5","event_type":"수사","keywords":["a"]},{"name":"6","event_type":"수사","keywords":["a"]},` +
		`{"name":"7","event_type":"수사","keywords":["a"]}]}`

	cases := map[string]string{
		"not json":          "사건 없음",
		"unknown field":     `{"events":[{"name":"a","event_type":"수사","keywords":["a"],"score":3}]}`,
		"no events":         `{"events":[]}`,
		"too many events":   tooMany,
		"empty name":        `{"events":[{"name":"  ","event_type":"수사","keywords":["a"]}]}`,
		"no keywords":       `{"events":[{"name":"a","event_type":"수사","keywords":[]}]}`,
		"empty keyword":     `{"events":[{"name":"a","event_type":"수사","keywords":["a",""]}]}`,
		"too many keywords": `{"events":[{"name":"a","event_type":"수사","keywords":["1","2","3","4","5","6","7"]}]}`,
		"trailing data":     `{"events":[{"name":"a","event_type":"수사","keywords":["a"]}]} {"x":1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEventsResponse(raw, vocab)
			require.Error(t, err)
			var parseErr *ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}
