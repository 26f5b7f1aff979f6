package siseon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// maxRecordSize bounds one JSONL line; article bodies can run long.
const maxRecordSize = 4 * 1024 * 1024

var ImportArticlesCmd = &cobra.Command{
	Use:   "import-articles <file.jsonl>",
	Short: "Load crawled articles from a JSON Lines file into the database",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			log.Printf("Failed to import articles: %v", err)
			return
		}
		defer f.Close()

		store, err := openStore(currentSettings())
		if err != nil {
			log.Printf("Failed to import articles: %v", err)
			return
		}
		defer closeStore(store)

		imported, skipped, err := importArticles(cmd.Context(), store, f)
		if err != nil {
			log.Printf("Failed to import articles: %v", err)
			return
		}
		log.Printf("Imported %d articles (%d skipped).", imported, skipped)
	},
}

// articleRecord is one line of a crawler export.
type articleRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	OutletID    string    `json:"outlet_id"`
	PublishedAt time.Time `json:"published_at"`
}

// importArticles stores every valid record read from r. Malformed or
// incomplete records are logged and skipped; a store failure stops the import.
func importArticles(ctx context.Context, store *SQLiteStore, r io.Reader) (imported, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec articleRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn("Skipping record", "err", &ParseError{Record: fmt.Sprintf("line %d", line), Err: err})
			skipped++
			continue
		}
		article, err := NewArticle(rec.ID, rec.Title, rec.Body, rec.OutletID, rec.PublishedAt)
		if err != nil {
			log.Warn("Skipping record", "line", line, "err", err)
			skipped++
			continue
		}
		if err := store.InsertArticle(ctx, article); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, skipped, fmt.Errorf("failed to read line %d: %w", line+1, err)
	}
	return imported, skipped, nil
}
