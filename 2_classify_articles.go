package siseon

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var ClassifyArticlesCmd = &cobra.Command{
	Use:   "classify-articles",
	Short: "Assign a political category and lead to uncategorized articles",
	Run: func(cmd *cobra.Command, args []string) {
		since, err := lookbackSince(time.Now())
		if err != nil {
			log.Printf("Failed to classify articles: %v", err)
			return
		}
		settings := currentSettings()
		store, err := openStore(settings)
		if err != nil {
			log.Printf("Failed to classify articles: %v", err)
			return
		}
		defer closeStore(store)

		gen := NewOpenAIGenerator(Config.OpenAIAPIKey, Config.OpenAIModel)
		classifier := NewCategoryClassifier(settings.Classification, settings.Vocabulary, gen)
		counts, err := classifyArticles(cmd.Context(), store, classifier, since)
		if err != nil {
			log.Printf("Failed to classify articles: %v", err)
			return
		}
		for _, name := range append(settings.Vocabulary.CategoryNames(), UncertainCategory) {
			if counts[name] > 0 {
				log.Printf("   %s: %d", name, counts[name])
			}
		}
		log.Print("Classification complete.")
	},
}

// classifyArticles stores a category and lead for each uncategorized article
// and returns how many articles went to each category.
func classifyArticles(ctx context.Context, store *SQLiteStore, classifier *CategoryClassifier, since time.Time) (map[string]int, error) {
	articles, err := store.FetchUncategorized(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch articles: %w", err)
	}
	log.Printf("🏷️  Classifying %d articles", len(articles))

	counts := make(map[string]int)
	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		lead := ExtractLead(a.Body)
		category := classifier.Classify(ctx, a.Title, lead)
		if err := store.UpdateCategory(ctx, a.ID, category, lead); err != nil {
			log.Warn("classify: failed to save category", "id", a.ID, "err", err)
			continue
		}
		counts[category]++
	}
	return counts, nil
}
