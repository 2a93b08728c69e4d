package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/schema"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// ResultSynthesizer extracts learnings and follow-up questions from search results.
type ResultSynthesizer interface {
	Synthesize(ctx context.Context, query string, docs []search.Document, numLearnings, numFollowUps int) Synthesis
}

// Synthesizer never fails: anything unusable from the completion service
// yields an empty Synthesis.
type Synthesizer struct {
	Completer         Completer
	Trimmer           *splitter.Trimmer
	ContentTokenLimit int
	Logger            *slog.Logger
}

// NewSynthesizer trims every document to contentTokenLimit tokens before it
// is sent to the completion service.
func NewSynthesizer(c Completer, trimmer *splitter.Trimmer, contentTokenLimit int) *Synthesizer {
	return &Synthesizer{
		Completer:         c,
		Trimmer:           trimmer,
		ContentTokenLimit: contentTokenLimit,
		Logger:            slog.Default(),
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, query string, docs []search.Document, numLearnings, numFollowUps int) Synthesis {
	contents := search.Contents(docs)
	s.Logger.Info("Processing search results", "query", query, "contents", len(contents))

	trimmer := s.Trimmer
	if trimmer == nil {
		trimmer = splitter.NewTrimmer()
	}

	var blocks strings.Builder
	for i, content := range contents {
		if i > 0 {
			blocks.WriteString("\n")
		}
		blocks.WriteString("<content>\n")
		blocks.WriteString(trimmer.Trim(content, s.ContentTokenLimit))
		blocks.WriteString("\n</content>")
	}

	input := fmt.Sprintf(`Given the following contents from a search for the query <query>%s</query>, generate a list of learnings from the contents. Return a maximum of %d learnings, but feel free to return less if the contents are clear. Make sure each learning is unique and not similar to each other. The learnings should be concise and to the point, as detailed and information dense as possible. Include any entities like people, places, companies, products, things, etc. in the learnings, as well as any exact metrics, numbers, or dates. Also return up to %d follow-up questions to research the topic further.

<contents>%s</contents>`, query, numLearnings, numFollowUps, blocks.String())

	raw, err := s.Completer.CompleteStructured(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, synthesisSchema)
	if err != nil {
		metrics.SynthesisDegradations.Inc()
		s.Logger.Warn("Synthesis failed, continuing without learnings", "query", query, "error", err)
		return Synthesis{Learnings: []string{}, FollowUpQuestions: []string{}}
	}

	out, err := schema.Decode[Synthesis](raw)
	if err != nil {
		metrics.SynthesisDegradations.Inc()
		s.Logger.Warn("Synthesis output unusable, continuing without learnings", "query", query, "error", err)
		return Synthesis{Learnings: []string{}, FollowUpQuestions: []string{}}
	}

	if numLearnings >= 0 && len(out.Learnings) > numLearnings {
		out.Learnings = out.Learnings[:numLearnings]
	}
	if numFollowUps >= 0 && len(out.FollowUpQuestions) > numFollowUps {
		out.FollowUpQuestions = out.FollowUpQuestions[:numFollowUps]
	}

	s.Logger.Info("Synthesized results", "query", query, "learnings", len(out.Learnings), "follow_ups", len(out.FollowUpQuestions))
	return out
}
