package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

var (
	topic      string
	breadth    int
	depth      int
	outputDir  string
	questions  int
	noFeedback bool
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long:  `deep-research explores a topic recursively: it plans search queries, reads the results, and follows up on what it learned until the depth budget is spent. The learnings are compiled into a markdown report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			reader := bufio.NewReader(os.Stdin)

			if !cmd.Flags().Changed("topic") {
				topic = ask(reader, "What would you like to research? ")
			}
			if strings.TrimSpace(topic) == "" {
				return fmt.Errorf("topic cannot be empty")
			}
			if !cmd.Flags().Changed("breadth") {
				breadth = askInt(reader, fmt.Sprintf("Enter research breadth (recommended 2-10, default %d): ", breadth), breadth)
			}
			if !cmd.Flags().Changed("depth") {
				depth = askInt(reader, fmt.Sprintf("Enter research depth (recommended 1-5, default %d): ", depth), depth)
			}

			llm, err := clients.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create LLM client: %w", err)
			}
			searcher, err := search.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create search provider: %w", err)
			}
			completer := research.NewModelCompleter(llm)

			query := topic
			if !noFeedback {
				qs, err := research.NewFeedbackGenerator(completer).Generate(ctx, topic, questions)
				if err != nil {
					return err
				}
				if len(qs) > 0 {
					fmt.Println("\nTo better understand your research needs, please answer these follow-up questions:")
				}
				answers := make([]string, 0, len(qs))
				for _, q := range qs {
					answers = append(answers, ask(reader, "\n"+q+"\nYour answer: "))
				}
				query = research.CombineFeedback(topic, qs, answers)
			}

			engine := research.NewEngine(research.ConfigFrom(cfg), completer, searcher)
			engine.OnProgress = func(p research.Progress) {
				slog.Info("Progress", "stage", p.Stage, "depth", p.Depth, "breadth", p.Breadth, "query", p.Query)
			}

			res, err := engine.Research(ctx, query, breadth, depth)
			if err != nil {
				return err
			}
			slog.Info("Research finished", "learnings", len(res.Learnings), "urls", len(res.VisitedURLs))

			report, err := research.NewReportWriter(completer, nil, engine.Config.ReportTokenLimit).Write(ctx, query, res.Learnings, res.VisitedURLs)
			if err != nil {
				return err
			}

			return writeOutput(outputDir, report, res)
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().IntVarP(&breadth, "breadth", "b", cfg.DefaultBreadth, "Number of queries at the first level")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", cfg.DefaultDepth, "Number of levels of follow-up research")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory for report.md and sources.json")
	rootCmd.Flags().IntVarP(&questions, "questions", "q", 3, "Maximum number of clarifying questions")
	rootCmd.Flags().BoolVar(&noFeedback, "no-feedback", false, "Skip the clarifying questions")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func ask(reader *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func askInt(reader *bufio.Reader, prompt string, fallback int) int {
	n, err := strconv.Atoi(ask(reader, prompt))
	if err != nil {
		return fallback
	}
	return n
}

type sourcesFile struct {
	Learnings   []string `json:"learnings"`
	VisitedURLs []string `json:"visitedUrls"`
}

func writeOutput(dir, report string, res research.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	reportPath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	data, err := json.MarshalIndent(sourcesFile{Learnings: res.Learnings, VisitedURLs: res.VisitedURLs}, "", "  ")
	if err != nil {
		return err
	}
	sourcesPath := filepath.Join(dir, "sources.json")
	if err := os.WriteFile(sourcesPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sources: %w", err)
	}

	slog.Info("Report saved", "report", reportPath, "sources", sourcesPath)
	return nil
}
