package siseon

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var DedupArticlesCmd = &cobra.Command{
	Use:   "dedup-articles",
	Short: "Flag duplicate articles published within the lookback window",
	Run: func(cmd *cobra.Command, args []string) {
		since, err := lookbackSince(time.Now())
		if err != nil {
			log.Printf("Failed to dedup articles: %v", err)
			return
		}
		settings := currentSettings()
		store, err := openStore(settings)
		if err != nil {
			log.Printf("Failed to dedup articles: %v", err)
			return
		}
		defer closeStore(store)

		if _, err := dedupArticles(cmd.Context(), store, settings.Dedup, since); err != nil {
			log.Printf("Failed to dedup articles: %v", err)
			return
		}
		log.Print("Deduplication complete.")
	},
}

// dedupArticles runs the deduplicator over recent articles and flags every
// dropped article with the id of its survivor.
func dedupArticles(ctx context.Context, store *SQLiteStore, cfg DedupConfig, since time.Time) (DedupResult, error) {
	articles, err := store.FetchSince(ctx, since)
	if err != nil {
		return DedupResult{}, fmt.Errorf("failed to fetch articles: %w", err)
	}
	log.Printf("🔍 Checking %d articles published since %s", len(articles), since.Format(time.RFC3339))

	result := NewHybridDeduplicator(cfg).Deduplicate(articles)
	duplicateOf := result.DuplicateOf()
	marked, err := store.MarkDuplicates(ctx, duplicateOf)
	if err != nil {
		return result, fmt.Errorf("marked %d of %d duplicates: %w", marked, len(duplicateOf), err)
	}
	log.Printf("🗑️  Marked %d duplicates", marked)
	return result, nil
}
