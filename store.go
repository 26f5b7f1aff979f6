package siseon

import (
	"context"
	"encoding/json"
)

// EmbeddedArticle is an article with its embedding as stored, not yet parsed.
type EmbeddedArticle struct {
	Article
	Embedding json.RawMessage `json:"embedding"`
}

// VectorStore is what the clustering orchestrator needs from persistence.
// A category with no articles yields an empty slice, not an error.
type VectorStore interface {
	FetchByCategory(ctx context.Context, category string) ([]EmbeddedArticle, error)
	SaveIssue(ctx context.Context, issue Issue) (string, error)
	UpdateArticlesIssueID(ctx context.Context, articleIDs []string, issueID string) (int, error)
}
