package siseon

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var EmbedArticlesCmd = &cobra.Command{
	Use:   "embed-articles",
	Short: "Generate embeddings for categorized articles",
	Run: func(cmd *cobra.Command, args []string) {
		since, err := lookbackSince(time.Now())
		if err != nil {
			log.Printf("Failed to embed articles: %v", err)
			return
		}
		settings := currentSettings()
		store, err := openStore(settings)
		if err != nil {
			log.Printf("Failed to embed articles: %v", err)
			return
		}
		defer closeStore(store)

		embedder := NewOpenAIEmbedder(Config.OpenAIAPIKey, Config.OpenAIEmbeddingModel)
		if _, err := embedArticles(cmd.Context(), store, embedder, since); err != nil {
			log.Printf("Failed to embed articles: %v", err)
			return
		}
		log.Print("Article embedding complete.")
	},
}

// embedArticles embeds every categorized article that has no embedding yet.
// Failed articles are logged and retried on the next run.
func embedArticles(ctx context.Context, store *SQLiteStore, embedder Embedder, since time.Time) (int, error) {
	articles, err := store.FetchWithoutEmbedding(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch articles: %w", err)
	}
	log.Printf("🧠 Embedding %d articles", len(articles))

	saved := 0
	for i, a := range articles {
		embedding, err := embedder.Embed(ctx, embeddingText(a))
		if err != nil {
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
			log.Warn("embed: skipping article", "id", a.ID, "err", err)
			continue
		}
		if err := store.SaveEmbedding(ctx, a.ID, embedding); err != nil {
			log.Warn("embed: failed to save embedding", "id", a.ID, "err", err)
			continue
		}
		saved++
		if (i+1)%50 == 0 {
			log.Printf("   %d/%d", i+1, len(articles))
		}
	}
	log.Printf("✅ Saved %d embeddings", saved)
	return saved, nil
}

// embeddingText is what gets embedded for an article: its title and lead.
func embeddingText(a Article) string {
	return a.Title + "\n\n" + ExtractLead(a.Body)
}
