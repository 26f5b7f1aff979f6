package siseon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	outlet_id TEXT NOT NULL,
	published_at DATETIME NOT NULL,
	lead TEXT,
	category TEXT,
	embedding_json TEXT,
	is_duplicate INTEGER NOT NULL DEFAULT 0,
	duplicate_of TEXT,
	issue_id TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category);
CREATE INDEX IF NOT EXISTS idx_articles_issue_id ON articles(issue_id);

CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	category TEXT NOT NULL,
	event_type TEXT NOT NULL,
	source INTEGER NOT NULL,
	left_source INTEGER NOT NULL,
	center_source INTEGER NOT NULL,
	right_source INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_category ON issues(category);
`

// updateChunkSize bounds the number of ids in one IN clause.
const updateChunkSize = 500

var articleColumns = []string{"id", "title", "body", "outlet_id", "published_at", "COALESCE(category, '')", "COALESCE(issue_id, '')"}

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps articles, embeddings and issues in one SQLite file.
type SQLiteStore struct {
	db       *sql.DB
	pageSize uint64
}

// OpenSQLiteStore opens (and if needed creates) the database at path.
func OpenSQLiteStore(path string, pageSize uint64) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSchemaSQL); err != nil {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
		return nil, err
	}
	if pageSize == 0 {
		pageSize = 1000
	}
	return &SQLiteStore{db: db, pageSize: pageSize}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertArticle stores a new article. Existing ids are left untouched.
func (s *SQLiteStore) InsertArticle(ctx context.Context, a Article) error {
	query, args, err := sq.Insert("articles").
		Options("OR IGNORE").
		Columns("id", "title", "body", "outlet_id", "published_at").
		Values(a.ID, a.Title, a.Body, a.OutletID, a.PublishedAt.UTC()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert article %s: %w", a.ID, err)
	}
	return nil
}

// FetchSince returns non-duplicate articles published at or after since, newest first.
func (s *SQLiteStore) FetchSince(ctx context.Context, since time.Time) ([]Article, error) {
	return s.fetchArticles(ctx, sq.And{
		sq.Eq{"is_duplicate": 0},
		sq.GtOrEq{"published_at": since.UTC()},
	})
}

// FetchUncategorized returns non-duplicate articles since the given time that have no category yet.
func (s *SQLiteStore) FetchUncategorized(ctx context.Context, since time.Time) ([]Article, error) {
	return s.fetchArticles(ctx, sq.And{
		sq.Eq{"is_duplicate": 0},
		sq.GtOrEq{"published_at": since.UTC()},
		sq.Or{sq.Eq{"category": nil}, sq.Eq{"category": ""}},
	})
}

// FetchWithoutEmbedding returns categorized, non-duplicate articles that still need an embedding.
func (s *SQLiteStore) FetchWithoutEmbedding(ctx context.Context, since time.Time) ([]Article, error) {
	return s.fetchArticles(ctx, sq.And{
		sq.Eq{"is_duplicate": 0, "embedding_json": nil},
		sq.GtOrEq{"published_at": since.UTC()},
		sq.NotEq{"category": nil},
		sq.NotEq{"category": []string{"", UncertainCategory}},
	})
}

func (s *SQLiteStore) fetchArticles(ctx context.Context, where sq.Sqlizer) ([]Article, error) {
	query, args, err := sq.Select(articleColumns...).
		From("articles").
		Where(where).
		OrderBy("published_at DESC", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var articles []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.OutletID, &a.PublishedAt, &a.Category, &a.IssueID); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// MarkDuplicates flags every key of duplicateOf as a duplicate of its value.
func (s *SQLiteStore) MarkDuplicates(ctx context.Context, duplicateOf map[string]string) (int, error) {
	marked := 0
	var errs []error
	for drop, keep := range duplicateOf {
		query, args, err := sq.Update("articles").
			Set("is_duplicate", 1).
			Set("duplicate_of", keep).
			Where(sq.Eq{"id": drop}).
			ToSql()
		if err != nil {
			return marked, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			errs = append(errs, fmt.Errorf("article %s: %w", drop, err))
			continue
		}
		n, _ := res.RowsAffected()
		marked += int(n)
	}
	return marked, errors.Join(errs...)
}

// UpdateCategory stores the political category and lead of an article.
func (s *SQLiteStore) UpdateCategory(ctx context.Context, articleID, category, lead string) error {
	query, args, err := sq.Update("articles").
		Set("category", category).
		Set("lead", lead).
		Where(sq.Eq{"id": articleID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// SaveEmbedding stores an embedding as JSON text.
func (s *SQLiteStore) SaveEmbedding(ctx context.Context, articleID string, embedding []float64) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	query, args, err := sq.Update("articles").
		Set("embedding_json", string(embeddingJSON)).
		Where(sq.Eq{"id": articleID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save embedding for %s: %w", articleID, err)
	}
	return nil
}

// FetchByCategory returns every non-duplicate article of category that has an
// embedding, reading pages of pageSize rows ordered by id.
func (s *SQLiteStore) FetchByCategory(ctx context.Context, category string) ([]EmbeddedArticle, error) {
	var (
		out    []EmbeddedArticle
		lastID string
	)
	for {
		query, args, err := sq.Select(append(articleColumns, "embedding_json")...).
			From("articles").
			Where(sq.And{
				sq.Eq{"category": category, "is_duplicate": 0},
				sq.NotEq{"embedding_json": nil},
				sq.Gt{"id": lastID},
			}).
			OrderBy("id").
			Limit(s.pageSize).
			ToSql()
		if err != nil {
			return nil, err
		}

		page, err := s.scanEmbedded(ctx, query, args)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s articles: %w", category, err)
		}
		out = append(out, page...)
		if uint64(len(page)) < s.pageSize {
			break
		}
		lastID = page[len(page)-1].ID
	}
	if out == nil {
		out = []EmbeddedArticle{}
	}
	return out, nil
}

func (s *SQLiteStore) scanEmbedded(ctx context.Context, query string, args []any) ([]EmbeddedArticle, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var page []EmbeddedArticle
	for rows.Next() {
		var (
			a             EmbeddedArticle
			embeddingJSON string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.OutletID, &a.PublishedAt, &a.Category, &a.IssueID, &embeddingJSON); err != nil {
			return nil, err
		}
		a.Embedding = json.RawMessage(embeddingJSON)
		page = append(page, a)
	}
	return page, rows.Err()
}

// SaveIssue inserts a new issue and returns its generated id.
func (s *SQLiteStore) SaveIssue(ctx context.Context, issue Issue) (string, error) {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}
	query, args, err := sq.Insert("issues").
		Columns("id", "title", "category", "event_type", "source", "left_source", "center_source", "right_source", "created_at").
		Values(issue.ID, issue.Title, issue.Category, issue.EventType, issue.Total(), issue.LeftCount, issue.CenterCount, issue.RightCount, issue.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to insert issue: %w", err)
	}
	return issue.ID, nil
}

// UpdateArticlesIssueID points articles at issueID in chunks. A failed chunk
// does not stop the others; the count covers the chunks that succeeded.
func (s *SQLiteStore) UpdateArticlesIssueID(ctx context.Context, articleIDs []string, issueID string) (int, error) {
	updated := 0
	var errs []error
	for start := 0; start < len(articleIDs); start += updateChunkSize {
		chunk := articleIDs[start:min(start+updateChunkSize, len(articleIDs))]
		query, args, err := sq.Update("articles").
			Set("issue_id", issueID).
			Where(sq.Eq{"id": chunk}).
			ToSql()
		if err != nil {
			return updated, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			errs = append(errs, fmt.Errorf("chunk at %d: %w", start, err))
			continue
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}
	return updated, errors.Join(errs...)
}

// ListIssues returns issues newest first, optionally limited to created at or after since.
func (s *SQLiteStore) ListIssues(ctx context.Context, since time.Time) ([]Issue, error) {
	query, args, err := sq.Select("id", "title", "category", "event_type", "left_source", "center_source", "right_source", "created_at").
		From("issues").
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		OrderBy("created_at DESC", "source DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var issues []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.Title, &i.Category, &i.EventType, &i.LeftCount, &i.CenterCount, &i.RightCount, &i.CreatedAt); err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// IssueArticles returns the articles linked to an issue.
func (s *SQLiteStore) IssueArticles(ctx context.Context, issueID string) ([]Article, error) {
	return s.fetchArticles(ctx, sq.Eq{"issue_id": issueID})
}

// ResetIssues deletes all issues and clears article back-references.
func (s *SQLiteStore) ResetIssues(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Printf("Failed to roll back: %v", err)
		}
	}()

	query, args, err := sq.Update("articles").
		Set("issue_id", nil).
		Where(sq.NotEq{"issue_id": nil}).
		ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("failed to clear article issue ids: %w", err)
	}

	query, args, err = sq.Delete("issues").ToSql()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete issues: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}
