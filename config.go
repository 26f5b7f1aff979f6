package siseon

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sosodev/duration"
)

// Config holds all environment variables
var Config struct {
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIEmbeddingModel string
	DatabasePath         string
	SettingsPath         string
	LLMTimeout           time.Duration
	// LookbackWindow is the ISO-8601 duration shared by the dedup, classify
	// and embed steps.
	LookbackWindow string
}

func init() {
	Config.OpenAIModel = "gpt-4o-mini"
	Config.OpenAIEmbeddingModel = "text-embedding-3-small"
	Config.DatabasePath = "siseon.db"
	Config.LLMTimeout = 90 * time.Second
	Config.LookbackWindow = "P2D"
}

// parseWindow converts an ISO-8601 duration such as P2D or PT36H.
func parseWindow(s string) (time.Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	window := d.ToTimeDuration()
	if window <= 0 {
		return 0, fmt.Errorf("window %q must be positive", s)
	}
	return window, nil
}

// lookbackSince returns the start of the configured lookback window.
func lookbackSince(now time.Time) (time.Time, error) {
	window, err := parseWindow(Config.LookbackWindow)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-window), nil
}

func currentSettings() Settings {
	return LoadSettings(Config.SettingsPath)
}

func openStore(settings Settings) (*SQLiteStore, error) {
	store, err := OpenSQLiteStore(Config.DatabasePath, settings.Clustering.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", Config.DatabasePath, err)
	}
	return store, nil
}

func closeStore(store *SQLiteStore) {
	if err := store.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
}
