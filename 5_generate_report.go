package siseon

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var htmlTemplate string

//go:embed templates/styles.css
var cssStyles string

const reportTitle = "오늘의 정치 이슈"

// articlesPerIssue caps the headlines listed under each issue.
const articlesPerIssue = 5

var GenerateReportCmd = &cobra.Command{
	Use:   "generate-report",
	Short: "Generate the run report in both markdown and HTML formats",
	Run: func(cmd *cobra.Command, args []string) {
		settings := currentSettings()
		store, err := openStore(settings)
		if err != nil {
			log.Printf("Failed to generate report: %v", err)
			return
		}
		defer closeStore(store)

		report, err := generateRunReport(cmd.Context(), store, summaryPath)
		if err != nil {
			log.Printf("Failed to generate report: %v", err)
			return
		}
		if err := os.WriteFile("report.md", []byte(report), 0644); err != nil {
			log.Printf("Failed to write report file: %v", err)
			return
		}
		log.Print("Report generated: report.md")

		htmlContent, err := generateCompleteHTML(report, time.Now())
		if err != nil {
			log.Printf("Failed to generate HTML: %v", err)
			return
		}
		if err := os.WriteFile("report.html", []byte(htmlContent), 0644); err != nil {
			log.Printf("Failed to write HTML file: %v", err)
			return
		}
		log.Print("HTML report generated: report.html")
	},
}

// generateRunReport renders the last clustering run and the issues it created as markdown.
func generateRunReport(ctx context.Context, store *SQLiteStore, path string) (string, error) {
	summary, err := loadRunSummary(path)
	if err != nil {
		return "", err
	}
	issues, err := store.ListIssues(ctx, summary.StartedAt)
	if err != nil {
		return "", fmt.Errorf("failed to list issues: %w", err)
	}
	articles := make(map[string][]Article, len(issues))
	for _, issue := range issues {
		list, err := store.IssueArticles(ctx, issue.ID)
		if err != nil {
			log.Warn("report: cannot load issue articles", "issue", issue.ID, "err", err)
			continue
		}
		articles[issue.ID] = list
	}
	return formatRunReport(summary, issues, articles), nil
}

func formatRunReport(summary RunSummary, issues []Issue, articles map[string][]Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	fmt.Fprintf(&b, "_%s 기준, 이슈 %d건_\n\n", summary.FinishedAt.UTC().Format("2006-01-02 15:04 MST"), len(issues))

	b.WriteString("## 카테고리별 결과\n\n")
	b.WriteString("| 카테고리 | 기사 | 클러스터 | 노이즈 | 실루엣 | 평가 | 이슈 | 실패 |\n")
	b.WriteString("|---|---:|---:|---:|---:|---|---:|---:|\n")
	var skipped []CategoryResult
	for _, r := range summary.Results {
		if r.Err != nil {
			skipped = append(skipped, r)
			continue
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %.3f | %s | %d | %d |\n",
			r.Category, r.Parsed, r.Clusters, r.Noise, r.Silhouette, r.Assessment, r.IssuesCreated(), r.Failures())
	}
	b.WriteString("\n")

	if len(skipped) > 0 {
		b.WriteString("### 건너뛴 카테고리\n\n")
		for _, r := range skipped {
			fmt.Fprintf(&b, "- **%s**: %v\n", r.Category, r.Err)
		}
		b.WriteString("\n")
	}

	b.WriteString("## 이슈\n\n")
	if len(issues) == 0 {
		b.WriteString("이번 실행에서 생성된 이슈가 없습니다.\n")
		return b.String()
	}
	for _, issue := range issues {
		fmt.Fprintf(&b, "### %s\n\n", issue.Title)
		fmt.Fprintf(&b, "- 카테고리: %s · 유형: %s\n", issue.Category, issue.EventType)
		fmt.Fprintf(&b, "- 기사 %d건 (진보 %d / 중도 %d / 보수 %d)\n", issue.Total(), issue.LeftCount, issue.CenterCount, issue.RightCount)
		list := articles[issue.ID]
		for i, a := range list {
			if i == articlesPerIssue {
				fmt.Fprintf(&b, "  - 외 %d건\n", len(list)-articlesPerIssue)
				break
			}
			fmt.Fprintf(&b, "  - %s (%s)\n", a.Title, a.OutletID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// generateCompleteHTML renders the markdown report into the embedded page template.
func generateCompleteHTML(markdownContent string, date time.Time) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Linkify,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdownContent), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML template: %w", err)
	}

	data := struct {
		Title string
		Date  string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: reportTitle,
		Date:  date.Format("2006년 1월 2일"),
		Body:  template.HTML(buf.String()),
		CSS:   template.CSS(cssStyles),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return result.String(), nil
}
