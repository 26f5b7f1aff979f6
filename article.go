package siseon

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Bias is the political leaning of an outlet, used only for tallying.
type Bias string

const (
	BiasLeft   Bias = "left"
	BiasCenter Bias = "center"
	BiasRight  Bias = "right"
)

// Valid reports whether b is one of left, center or right.
func (b Bias) Valid() bool {
	switch b {
	case BiasLeft, BiasCenter, BiasRight:
		return true
	}
	return false
}

// UncertainCategory is assigned when no category keyword matches.
const UncertainCategory = "uncertain"

// Article is a crawled news article as seen by the pipeline.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	OutletID    string    `json:"outlet_id"`
	PublishedAt time.Time `json:"published_at"`
	Category    string    `json:"category,omitempty"`
	IssueID     string    `json:"issue_id,omitempty"`
}

// NewArticle validates the required fields and builds an Article.
func NewArticle(id, title, body, outletID string, publishedAt time.Time) (Article, error) {
	if strings.TrimSpace(id) == "" {
		return Article{}, fmt.Errorf("article id is empty")
	}
	if strings.TrimSpace(title) == "" {
		return Article{}, fmt.Errorf("article %s: title is empty", id)
	}
	if !utf8.ValidString(title) {
		return Article{}, fmt.Errorf("article %s: title is not valid UTF-8", id)
	}
	if publishedAt.IsZero() {
		return Article{}, fmt.Errorf("article %s: publication time is missing", id)
	}
	return Article{
		ID:          id,
		Title:       title,
		Body:        body,
		OutletID:    outletID,
		PublishedAt: publishedAt,
	}, nil
}

// Issue is a persisted group of related articles with per-bias source tallies.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	EventType   string    `json:"event_type"`
	LeftCount   int       `json:"left_source"`
	CenterCount int       `json:"center_source"`
	RightCount  int       `json:"right_source"`
	CreatedAt   time.Time `json:"created_at"`
}

// Total returns the number of sources behind the issue.
func (i Issue) Total() int {
	return i.LeftCount + i.CenterCount + i.RightCount
}

// CountBias tallies the outlets of articles by political bias.
func CountBias(articles []Article, vocab Vocabulary) (left, center, right int) {
	for _, a := range articles {
		switch vocab.BiasOf(a.OutletID) {
		case BiasLeft:
			left++
		case BiasRight:
			right++
		default:
			center++
		}
	}
	return left, center, right
}
