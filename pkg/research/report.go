package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/schema"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// ReportWriter turns a flat list of learnings into a markdown report.
type ReportWriter struct {
	Completer        Completer
	Trimmer          *splitter.Trimmer
	ReportTokenLimit int
	Logger           *slog.Logger
}

func NewReportWriter(c Completer, trimmer *splitter.Trimmer, reportTokenLimit int) *ReportWriter {
	return &ReportWriter{
		Completer:        c,
		Trimmer:          trimmer,
		ReportTokenLimit: reportTokenLimit,
		Logger:           slog.Default(),
	}
}

type reportResponse struct {
	ReportMarkdown string `json:"reportMarkdown" validate:"required"`
}

// Write asks for a detailed report on topic and appends a Sources section
// listing visitedURLs.
func (w *ReportWriter) Write(ctx context.Context, topic string, learnings, visitedURLs []string) (string, error) {
	w.Logger.Info("Compiling final report", "learnings", len(learnings), "sources", len(visitedURLs))

	trimmer := w.Trimmer
	if trimmer == nil {
		trimmer = splitter.NewTrimmer()
	}

	blocks := make([]string, 0, len(learnings))
	for _, l := range learnings {
		blocks = append(blocks, "<learning>\n"+l+"\n</learning>")
	}
	learningsString := trimmer.Trim(strings.Join(blocks, "\n"), w.ReportTokenLimit)

	input := fmt.Sprintf(`Given the following prompt from the user, write a final report on the topic using the learnings from research. Make it as detailed as possible, aim for 3 or more pages, include ALL the learnings from research:

<prompt>%s</prompt>

Here are all the learnings from previous research:

<learnings>
%s
</learnings>`, topic, learningsString)

	raw, err := w.Completer.CompleteStructured(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, reportSchema)
	if err != nil {
		return "", fmt.Errorf("report generation failed: %w", err)
	}

	resp, err := schema.Decode[reportResponse](raw)
	if err != nil {
		return "", fmt.Errorf("report generation failed: %w", err)
	}

	report := resp.ReportMarkdown + sourcesSection(visitedURLs)
	w.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}

func sourcesSection(urls []string) string {
	var sb strings.Builder
	sb.WriteString("\n\n## Sources\n\n")
	for i, u := range urls {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + u)
	}
	return sb.String()
}
