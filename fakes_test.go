package siseon

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	replies  map[string]string // reply by substring of the prompt
	err      error
	block    bool
	calls    int
	requests []GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	for needle, reply := range f.replies {
		if strings.Contains(req.Prompt, needle) {
			return reply, nil
		}
	}
	return f.reply, nil
}

type fakeStore struct {
	mu         sync.Mutex
	byCategory map[string][]EmbeddedArticle
	fetchErr   map[string]error
	saveErr    func(Issue) error
	updateErr  error
	issues     []Issue
	links      map[string]string
	nextID     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byCategory: make(map[string][]EmbeddedArticle),
		fetchErr:   make(map[string]error),
		links:      make(map[string]string),
	}
}

func (s *fakeStore) FetchByCategory(ctx context.Context, category string) ([]EmbeddedArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fetchErr[category]; err != nil {
		return nil, err
	}
	out := append([]EmbeddedArticle{}, s.byCategory[category]...)
	return out, nil
}

func (s *fakeStore) SaveIssue(ctx context.Context, issue Issue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		if err := s.saveErr(issue); err != nil {
			return "", err
		}
	}
	s.nextID++
	issue.ID = fmt.Sprintf("issue-%d", s.nextID)
	s.issues = append(s.issues, issue)
	return issue.ID, nil
}

func (s *fakeStore) UpdateArticlesIssueID(ctx context.Context, articleIDs []string, issueID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	for _, id := range articleIDs {
		s.links[id] = issueID
	}
	return len(articleIDs), nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	fail  map[string]bool // article text prefixes that fail
	texts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	for prefix := range f.fail {
		if strings.HasPrefix(text, prefix) {
			return nil, fmt.Errorf("embedding rejected")
		}
	}
	return []float64{float64(len(text)), 1, 0}, nil
}
