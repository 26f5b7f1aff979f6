package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/siseon"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func getenv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return value
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	// Set configuration for the siseon package
	siseon.Config.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	siseon.Config.DatabasePath = getenvDefault("SISEON_DB", siseon.Config.DatabasePath)
	siseon.Config.SettingsPath = os.Getenv("SISEON_SETTINGS")
	siseon.Config.OpenAIModel = getenvDefault("OPENAI_MODEL", siseon.Config.OpenAIModel)
	siseon.Config.OpenAIEmbeddingModel = getenvDefault("OPENAI_EMBEDDING_MODEL", siseon.Config.OpenAIEmbeddingModel)

	var verbose bool
	rootCmd := &cobra.Command{
		Use:   "siseon",
		Short: "Korean political news dedup and issue clustering CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&siseon.Config.LookbackWindow, "window", siseon.Config.LookbackWindow, "ISO-8601 lookback window for dedup, classify and embed")

	// Add all commands from the siseon package
	rootCmd.AddCommand(siseon.ImportArticlesCmd)
	rootCmd.AddCommand(siseon.DedupArticlesCmd)
	rootCmd.AddCommand(siseon.ClassifyArticlesCmd)
	rootCmd.AddCommand(siseon.EmbedArticlesCmd)
	rootCmd.AddCommand(siseon.ClusterArticlesCmd)
	rootCmd.AddCommand(siseon.GenerateReportCmd)
	rootCmd.AddCommand(siseon.ResetIssuesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [file.jsonl]",
	Short: "Run the full pipeline: import-articles -> dedup-articles -> classify-articles -> embed-articles -> cluster-articles -> generate-report",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log.Print("Running full pipeline...")
		if len(args) == 1 {
			siseon.ImportArticlesCmd.Run(cmd, args)
		}
		siseon.DedupArticlesCmd.Run(cmd, nil)
		siseon.ClassifyArticlesCmd.Run(cmd, nil)
		siseon.EmbedArticlesCmd.Run(cmd, nil)
		siseon.ClusterArticlesCmd.Run(cmd, nil)
		siseon.GenerateReportCmd.Run(cmd, nil)
		log.Print("Pipeline complete.")
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the run summary and generated reports",
	Run: func(cmd *cobra.Command, args []string) {
		if err := os.RemoveAll("clusters"); err != nil {
			log.Printf("Failed to remove clusters: %v", err)
		}
		for _, name := range []string{"report.md", "report.html"} {
			if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
				log.Printf("Failed to remove %s: %v", name, err)
			}
		}
		log.Print("Cleaned run summary and reports.")
	},
}
