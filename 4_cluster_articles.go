package siseon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// summaryPath is where the clustering step leaves its run summary for the report step.
var summaryPath = filepath.Join("clusters", "summary.json")

var ClusterArticlesCmd = &cobra.Command{
	Use:   "cluster-articles [category...]",
	Short: "Cluster embedded articles of each category into issues",
	Run: func(cmd *cobra.Command, args []string) {
		settings := currentSettings()
		store, err := openStore(settings)
		if err != nil {
			log.Printf("Failed to cluster articles: %v", err)
			return
		}
		defer closeStore(store)

		categories := args
		if len(categories) == 0 {
			categories = settings.Vocabulary.CategoryNames()
		}

		gen := NewOpenAIGenerator(Config.OpenAIAPIKey, Config.OpenAIModel)
		orchestrator := NewOrchestrator(store, gen, NewReducer(settings.Clustering), NewClusterer(settings.Clustering), settings)
		summary := orchestrator.Run(cmd.Context(), categories)
		logRunSummary(summary)

		if err := saveRunSummary(summaryPath, summary); err != nil {
			log.Printf("Failed to save run summary: %v", err)
			return
		}
		log.Print("Article clustering complete.")
	},
}

func logRunSummary(summary RunSummary) {
	log.Print("=====================================")
	log.Print("    CLUSTERING RUN SUMMARY")
	log.Print("=====================================")
	for _, r := range summary.Results {
		if r.Err != nil {
			log.Printf("❌ %s: %v", r.Category, r.Err)
			continue
		}
		log.Printf("📊 %s: %d articles, %d clusters, %d noise, silhouette %.3f (%s)",
			r.Category, r.Parsed, r.Clusters, r.Noise, r.Silhouette, r.Assessment)
		log.Printf("   %d issues created, %d articles updated, %d failures", r.IssuesCreated(), r.ArticlesUpdated(), r.Failures())
	}
	log.Printf("⏱️  %d issues in %s", summary.IssuesCreated(), summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
}

func saveRunSummary(path string, summary RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func loadRunSummary(path string) (RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunSummary{}, fmt.Errorf("failed to read run summary: %w", err)
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, fmt.Errorf("failed to parse run summary: %w", err)
	}
	return summary, nil
}
