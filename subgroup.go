package siseon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Event types assigned by the subgrouper itself.
const (
	EventTypeGeneral   = "general"
	EventTypeUnmatched = "unmatched"
	EventTypeFallback  = "fallback"
)

const (
	maxEvents           = 6
	maxKeywordsPerEvent = 6
)

// Event is one named event the LLM found among a cluster's titles.
type Event struct {
	Name      string   `json:"name" jsonschema:"description=사건의 짧은 이름"`
	EventType string   `json:"event_type" jsonschema:"description=사건 유형"`
	Keywords  []string `json:"keywords" jsonschema:"description=제목에서 사건을 식별하는 핵심 키워드 3-4개"`
}

// EventsResponse is the structured reply expected from the LLM.
type EventsResponse struct {
	Events []Event `json:"events" jsonschema:"description=기사 제목에서 찾은 3-6개의 사건"`
}

// Subgroup is an event-level slice of one cluster.
type Subgroup struct {
	ID           string    `json:"id"`
	ClusterLabel int       `json:"cluster_label"`
	Title        string    `json:"title"`
	EventType    string    `json:"event_type"`
	Keywords     []string  `json:"keywords,omitempty"`
	Articles     []Article `json:"articles"`
}

// Size returns the number of member articles.
func (s Subgroup) Size() int { return len(s.Articles) }

// ParseEventsResponse validates an untrusted LLM reply. Markdown code fences
// are tolerated; unknown fields, trailing data, empty names or keywords and
// out-of-range counts are rejected. Unknown event types become general.
func ParseEventsResponse(raw string, vocab Vocabulary) ([]Event, error) {
	body := stripCodeFence(raw)

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var resp EventsResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, &ParseError{Record: "events response", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Record: "events response", Err: fmt.Errorf("unexpected data after JSON object")}
	}

	if len(resp.Events) == 0 || len(resp.Events) > maxEvents {
		return nil, &ParseError{Record: "events response", Err: fmt.Errorf("expected 1-%d events, got %d", maxEvents, len(resp.Events))}
	}
	events := make([]Event, 0, len(resp.Events))
	for i, e := range resp.Events {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, &ParseError{Record: fmt.Sprintf("event %d", i), Err: fmt.Errorf("empty name")}
		}
		if len(e.Keywords) == 0 || len(e.Keywords) > maxKeywordsPerEvent {
			return nil, &ParseError{Record: fmt.Sprintf("event %q", e.Name), Err: fmt.Errorf("expected 1-%d keywords, got %d", maxKeywordsPerEvent, len(e.Keywords))}
		}
		keywords := make([]string, 0, len(e.Keywords))
		for _, k := range e.Keywords {
			k = strings.TrimSpace(k)
			if k == "" {
				return nil, &ParseError{Record: fmt.Sprintf("event %q", e.Name), Err: fmt.Errorf("empty keyword")}
			}
			keywords = append(keywords, k)
		}
		e.Keywords = keywords
		if !vocab.KnownEventType(e.EventType) {
			e.EventType = EventTypeGeneral
		}
		events = append(events, e)
	}
	return events, nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// KeywordScore is the total number of case-insensitive keyword occurrences in title.
func KeywordScore(title string, keywords []string) int {
	lower := strings.ToLower(title)
	score := 0
	for _, k := range keywords {
		k = strings.ToLower(k)
		if k != "" {
			score += strings.Count(lower, k)
		}
	}
	return score
}

// EventSubgrouper splits a cluster into event subgroups named by an LLM.
type EventSubgrouper struct {
	gen     TextGenerator
	cfg     ClusteringConfig
	vocab   Vocabulary
	timeout time.Duration
	schema  *ResponseSchema
}

func NewEventSubgrouper(gen TextGenerator, cfg ClusteringConfig, vocab Vocabulary, timeout time.Duration) *EventSubgrouper {
	s := &EventSubgrouper{gen: gen, cfg: cfg, vocab: vocab, timeout: timeout}
	schema, err := reflectSchema(&EventsResponse{})
	if err != nil {
		log.Warn("subgroup: cannot build response schema, asking for plain JSON", "err", err)
	} else {
		s.schema = &ResponseSchema{
			Name:        "cluster_events",
			Description: "Split news titles of one cluster into named events",
			Schema:      schema,
		}
	}
	return s
}

// Subgroup partitions articles into subgroups. Every article ends up in
// exactly one subgroup. Generator or parse failures degrade to one singleton
// per article tagged fallback.
func (s *EventSubgrouper) Subgroup(ctx context.Context, clusterLabel int, articles []Article) []Subgroup {
	if len(articles) == 0 {
		return nil
	}

	events, err := s.requestEvents(ctx, articles)
	if err != nil {
		log.Warn("subgroup: falling back to singletons", "cluster", clusterLabel, "articles", len(articles), "err", err)
		return singletons(clusterLabel, articles, EventTypeFallback, 0)
	}

	assigned, unmatched := s.AssignEvents(articles, events)

	var subgroups []Subgroup
	var leftovers []int
	for e, idx := range assigned {
		if len(idx) < s.cfg.MinSubgroupSize {
			leftovers = append(leftovers, idx...)
			continue
		}
		sg := Subgroup{
			ID:           fmt.Sprintf("c%d-e%d", clusterLabel, e),
			ClusterLabel: clusterLabel,
			Title:        events[e].Name,
			EventType:    events[e].EventType,
			Keywords:     events[e].Keywords,
		}
		for _, i := range idx {
			sg.Articles = append(sg.Articles, articles[i])
		}
		subgroups = append(subgroups, sg)
	}

	leftovers = append(leftovers, unmatched...)
	rest := make([]Article, 0, len(leftovers))
	for _, i := range leftovers {
		rest = append(rest, articles[i])
	}
	subgroups = append(subgroups, singletons(clusterLabel, rest, EventTypeUnmatched, len(subgroups))...)

	log.Debug("subgroup: cluster split", "cluster", clusterLabel, "events", len(events),
		"subgroups", len(subgroups), "unmatched", len(rest))
	return subgroups
}

// AssignEvents gives each article to the event with the highest keyword score
// when that score reaches MinKeywordScore. Earlier events win ties.
func (s *EventSubgrouper) AssignEvents(articles []Article, events []Event) (assigned [][]int, unmatched []int) {
	assigned = make([][]int, len(events))
	for i, a := range articles {
		best, bestScore := -1, 0
		for e, ev := range events {
			if score := KeywordScore(a.Title, ev.Keywords); score > bestScore {
				best, bestScore = e, score
			}
		}
		if best >= 0 && bestScore >= s.cfg.MinKeywordScore {
			assigned[best] = append(assigned[best], i)
			continue
		}
		unmatched = append(unmatched, i)
	}
	return assigned, unmatched
}

func (s *EventSubgrouper) requestEvents(ctx context.Context, articles []Article) ([]Event, error) {
	if s.gen == nil {
		return nil, &ExternalCallError{Op: "generate events", Err: fmt.Errorf("no text generator configured")}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.gen.Generate(ctx, GenerateRequest{
		System:      "당신은 한국 정치 뉴스를 분석하는 전문가입니다. 반드시 JSON 객체 하나로만 답변하세요.",
		Prompt:      s.eventsPrompt(articles),
		Temperature: 0.3,
		MaxTokens:   1000,
		Schema:      s.schema,
	})
	if err != nil {
		var callErr *ExternalCallError
		if errors.As(err, &callErr) {
			return nil, err
		}
		return nil, &ExternalCallError{Op: "generate events", Err: err}
	}
	return ParseEventsResponse(reply, s.vocab)
}

func (s *EventSubgrouper) eventsPrompt(articles []Article) string {
	var b bytes.Buffer
	b.WriteString("다음은 같은 주제로 묶인 정치 기사 제목들입니다. 이 제목들에서 구체적인 사건 3-6개를 찾아주세요.\n")
	b.WriteString("각 사건마다 짧은 이름(name), 사건 유형(event_type), 제목에 실제로 등장하는 핵심 키워드 3-4개(keywords)를 제시하세요.\n")
	fmt.Fprintf(&b, "사건 유형은 다음 중 하나: %s\n\n", strings.Join(s.vocab.EventTypes, ", "))
	limit := min(len(articles), s.cfg.MaxTitlesForLLM)
	for i := range limit {
		fmt.Fprintf(&b, "%d. %s\n", i+1, articles[i].Title)
	}
	b.WriteString("\n형식: {\"events\":[{\"name\":\"...\",\"event_type\":\"...\",\"keywords\":[\"...\"]}]}")
	return b.String()
}

// singletons wraps each article in its own subgroup.
func singletons(clusterLabel int, articles []Article, eventType string, offset int) []Subgroup {
	out := make([]Subgroup, 0, len(articles))
	for i, a := range articles {
		out = append(out, Subgroup{
			ID:           fmt.Sprintf("c%d-s%d", clusterLabel, offset+i),
			ClusterLabel: clusterLabel,
			Title:        a.Title,
			EventType:    eventType,
			Articles:     []Article{a},
		})
	}
	return out
}
