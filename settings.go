package siseon

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultSettingsYAML []byte

// Settings groups every tunable threshold and the matching vocabulary.
type Settings struct {
	Dedup          DedupConfig          `yaml:"dedup"`
	Classification ClassificationConfig `yaml:"classification"`
	Clustering     ClusteringConfig     `yaml:"clustering"`
	Vocabulary     Vocabulary           `yaml:"vocabulary"`
}

// DedupConfig tunes the three duplicate detection tiers.
type DedupConfig struct {
	ContentThreshold          float64 `yaml:"contentThreshold"`
	MinContentLength          int     `yaml:"minContentLength"`
	SignatureLeadChars        int     `yaml:"signatureLeadChars"`
	SignatureConfirmThreshold float64 `yaml:"signatureConfirmThreshold"`
	MinSignatureLength        int     `yaml:"minSignatureLength"`
	LengthTitleThreshold      float64 `yaml:"lengthTitleThreshold"`
	LengthBucketSize          int     `yaml:"lengthBucketSize"`
	LengthTierCeiling         int     `yaml:"lengthTierCeiling"`
}

// ClassificationConfig weighs keyword hits when assigning a political category.
type ClassificationConfig struct {
	TitleWeight float64 `yaml:"titleWeight"`
	LeadWeight  float64 `yaml:"leadWeight"`
	MinScore    float64 `yaml:"minScore"`
	LLMFallback bool    `yaml:"llmFallback"`
}

// ClusteringConfig tunes reduction, density clustering and issue selection.
type ClusteringConfig struct {
	Algorithm           string  `yaml:"algorithm"`
	Reducer             string  `yaml:"reducer"`
	MinArticles         int     `yaml:"minArticles"`
	ReducedDimensions   int     `yaml:"reducedDimensions"`
	RandomSeed          int64   `yaml:"randomSeed"`
	MinClusterSize      int     `yaml:"minClusterSize"`
	MinSamples          int     `yaml:"minSamples"`
	DBSCANEps           float64 `yaml:"dbscanEps"`
	QualityMinSize      int     `yaml:"qualityMinSize"`
	MaxCentroidDistance float64 `yaml:"maxCentroidDistance"`
	MaxTitlesForLLM     int     `yaml:"maxTitlesForLLM"`
	MinKeywordScore     int     `yaml:"minKeywordScore"`
	MinSubgroupSize     int     `yaml:"minSubgroupSize"`
	MinPatternMatches   int     `yaml:"minPatternMatches"`
	MinIssueArticles    int     `yaml:"minIssueArticles"`
	HighConfidenceBonus int     `yaml:"highConfidenceBonus"`
	MergeBonus          int     `yaml:"mergeBonus"`
	TopIssues           int     `yaml:"topIssues"`
	Parallelism         int     `yaml:"parallelism"`
	PageSize            uint64  `yaml:"pageSize"`
}

// Vocabulary is the language-specific data the matchers run on.
type Vocabulary struct {
	Categories          []CategoryKeywords `yaml:"categories"`
	MediaBias           map[string]Bias    `yaml:"mediaBias"`
	EventTypes          []string           `yaml:"eventTypes"`
	HighConfidenceTypes []string           `yaml:"highConfidenceTypes"`
	EventPatterns       []EventPattern     `yaml:"eventPatterns"`
}

// CategoryKeywords lists the keywords that vote for one political category.
type CategoryKeywords struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// EventPattern is a recurring narrative that small subgroups can be merged into.
type EventPattern struct {
	Name      string   `yaml:"name"`
	EventType string   `yaml:"eventType"`
	Keywords  []string `yaml:"keywords"`
}

// CategoryNames returns the configured categories in file order.
func (v Vocabulary) CategoryNames() []string {
	names := make([]string, 0, len(v.Categories))
	for _, c := range v.Categories {
		names = append(names, c.Name)
	}
	return names
}

// BiasOf returns the bias of an outlet. Unknown outlets count as center.
func (v Vocabulary) BiasOf(outletID string) Bias {
	if b, ok := v.MediaBias[outletID]; ok && b.Valid() {
		return b
	}
	return BiasCenter
}

// IsHighConfidence reports whether an event type earns the ranking bonus.
func (v Vocabulary) IsHighConfidence(eventType string) bool {
	for _, t := range v.HighConfidenceTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// KnownEventType reports whether the LLM is allowed to emit eventType.
func (v Vocabulary) KnownEventType(eventType string) bool {
	for _, t := range v.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// DefaultSettings returns the embedded defaults.
func DefaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(defaultSettingsYAML, &s); err != nil {
		// The embedded file is part of the binary; failing here is a build defect.
		panic(fmt.Sprintf("invalid embedded defaults.yaml: %v", err))
	}
	return s
}

// LoadSettings reads YAML settings from path (if non-empty) on top of the defaults.
// Read or parse failures are logged and the defaults are kept.
func LoadSettings(path string) Settings {
	settings := DefaultSettings()
	if strings.TrimSpace(path) == "" {
		return settings
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("settings: cannot read %s: %v (falling back to defaults)", path, err)
		return settings
	}

	// Decoding into a populated struct keeps every field the file leaves out.
	overlay := DefaultSettings()
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		log.Printf("settings: cannot parse %s: %v (falling back to defaults)", path, err)
		return settings
	}
	// Maps merge key by key on decode; a mediaBias table in the file replaces the default one.
	var bias struct {
		Vocabulary struct {
			MediaBias map[string]Bias `yaml:"mediaBias"`
		} `yaml:"vocabulary"`
	}
	if err := yaml.Unmarshal(raw, &bias); err == nil && bias.Vocabulary.MediaBias != nil {
		overlay.Vocabulary.MediaBias = bias.Vocabulary.MediaBias
	}
	if err := overlay.Validate(); err != nil {
		log.Printf("settings: %s rejected: %v (falling back to defaults)", path, err)
		return settings
	}
	return overlay
}

// Validate checks the invariants the algorithms rely on.
func (s Settings) Validate() error {
	d := s.Dedup
	if d.ContentThreshold <= 0 || d.ContentThreshold > 1 {
		return fmt.Errorf("dedup.contentThreshold must be in (0,1], got %v", d.ContentThreshold)
	}
	if d.LengthBucketSize <= 0 {
		return fmt.Errorf("dedup.lengthBucketSize must be positive, got %d", d.LengthBucketSize)
	}
	if d.LengthTierCeiling < 0 {
		return fmt.Errorf("dedup.lengthTierCeiling must not be negative, got %d", d.LengthTierCeiling)
	}
	c := s.Clustering
	if c.MinClusterSize < 2 {
		return fmt.Errorf("clustering.minClusterSize must be at least 2, got %d", c.MinClusterSize)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("clustering.minSamples must be at least 1, got %d", c.MinSamples)
	}
	if c.TopIssues < 1 {
		return fmt.Errorf("clustering.topIssues must be at least 1, got %d", c.TopIssues)
	}
	if c.MinIssueArticles < 1 {
		return fmt.Errorf("clustering.minIssueArticles must be at least 1, got %d", c.MinIssueArticles)
	}
	if c.MinSubgroupSize < 1 {
		return fmt.Errorf("clustering.minSubgroupSize must be at least 1, got %d", c.MinSubgroupSize)
	}
	if c.MaxTitlesForLLM < 1 {
		return fmt.Errorf("clustering.maxTitlesForLLM must be at least 1, got %d", c.MaxTitlesForLLM)
	}
	if c.MaxCentroidDistance <= 0 {
		return fmt.Errorf("clustering.maxCentroidDistance must be positive, got %v", c.MaxCentroidDistance)
	}
	switch c.Algorithm {
	case "hdbscan", "dbscan":
	default:
		return fmt.Errorf("clustering.algorithm must be hdbscan or dbscan, got %q", c.Algorithm)
	}
	switch c.Reducer {
	case "pca", "random":
	default:
		return fmt.Errorf("clustering.reducer must be pca or random, got %q", c.Reducer)
	}
	if c.ReducedDimensions < 1 {
		return fmt.Errorf("clustering.reducedDimensions must be positive, got %d", c.ReducedDimensions)
	}
	for outlet, b := range s.Vocabulary.MediaBias {
		if !b.Valid() {
			return fmt.Errorf("vocabulary.mediaBias[%s]: unknown bias %q", outlet, b)
		}
	}
	return nil
}
