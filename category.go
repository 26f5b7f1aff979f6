package siseon

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// ExtractLead returns the lead of an article body: the first paragraph cut to
// at most three sentences, or the first 200 runes when the body has no
// paragraph break.
func ExtractLead(body string) string {
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	paragraph, _, found := strings.Cut(body, "\n\n")
	if !found {
		return leadRunes(body, 200)
	}
	paragraph = strings.TrimSpace(paragraph)
	sentences := strings.Split(paragraph, ".")
	if len(sentences) > 3 {
		for i := range 3 {
			sentences[i] = strings.TrimSpace(sentences[i])
		}
		paragraph = strings.Join(sentences[:3], ". ") + "."
	}
	return paragraph
}

// CategoryClassifier assigns political categories from keyword hits in the
// title and lead, asking the text generator when keywords are inconclusive.
type CategoryClassifier struct {
	cfg   ClassificationConfig
	vocab Vocabulary
	gen   TextGenerator
}

// NewCategoryClassifier creates a classifier. gen may be nil to disable the LLM fallback.
func NewCategoryClassifier(cfg ClassificationConfig, vocab Vocabulary, gen TextGenerator) *CategoryClassifier {
	if !cfg.LLMFallback {
		gen = nil
	}
	return &CategoryClassifier{cfg: cfg, vocab: vocab, gen: gen}
}

// ClassifyByKeywords returns the best scoring category, or UncertainCategory
// when no category reaches the minimum score. Earlier categories win ties.
func (c *CategoryClassifier) ClassifyByKeywords(title, lead string) (string, float64) {
	titleLower := strings.ToLower(title)
	leadLower := strings.ToLower(lead)

	best := UncertainCategory
	bestScore := 0.0
	for _, category := range c.vocab.Categories {
		score := 0.0
		for _, keyword := range category.Keywords {
			keyword = strings.ToLower(keyword)
			if strings.Contains(titleLower, keyword) {
				score += c.cfg.TitleWeight
			}
			if strings.Contains(leadLower, keyword) {
				score += c.cfg.LeadWeight
			}
		}
		if score > bestScore {
			best, bestScore = category.Name, score
		}
	}
	if bestScore < c.cfg.MinScore {
		return UncertainCategory, bestScore
	}
	return best, bestScore
}

// Classify runs the keyword classifier and falls back to the LLM when it is uncertain.
// LLM failures are logged and leave the article uncertain.
func (c *CategoryClassifier) Classify(ctx context.Context, title, lead string) string {
	category, _ := c.ClassifyByKeywords(title, lead)
	if category != UncertainCategory || c.gen == nil {
		return category
	}

	reply, err := c.gen.Generate(ctx, GenerateRequest{
		Prompt:      c.categoryPrompt(title, lead),
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		log.Warn("classify: LLM fallback failed", "title", title, "err", err)
		return UncertainCategory
	}
	return c.parseCategoryReply(reply)
}

func (c *CategoryClassifier) categoryPrompt(title, lead string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "다음 정치 뉴스를 %d개 카테고리 중 하나로 분류해주세요:\n\n", len(c.vocab.Categories))
	for i, category := range c.vocab.Categories {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, category.Name, strings.Join(category.Keywords, ", "))
	}
	b.WriteString("0. 해당 없음\n\n")
	fmt.Fprintf(&b, "제목: %s\n리드문단: %s\n\n카테고리 번호만 답변:", title, lead)
	return b.String()
}

// parseCategoryReply maps a numeric answer to a category name.
func (c *CategoryClassifier) parseCategoryReply(reply string) string {
	reply = strings.Trim(strings.TrimSpace(reply), ".")
	n, err := strconv.Atoi(reply)
	if err != nil || n < 1 || n > len(c.vocab.Categories) {
		log.Debug("classify: unusable LLM answer", "reply", reply)
		return UncertainCategory
	}
	return c.vocab.Categories[n-1].Name
}
