package research

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Completer is the completion service the engine talks to. It returns the
// raw model text; callers parse and validate it themselves.
type Completer interface {
	CompleteStructured(ctx context.Context, messages []llms.MessageContent, schema string) (string, error)
}

// ModelCompleter adapts a langchaingo model to Completer.
type ModelCompleter struct {
	Model llms.Model
}

func NewModelCompleter(model llms.Model) *ModelCompleter {
	return &ModelCompleter{Model: model}
}

// CompleteStructured sends messages in JSON mode with the response schema
// appended as an extra system instruction.
func (c *ModelCompleter) CompleteStructured(ctx context.Context, messages []llms.MessageContent, schema string) (string, error) {
	prompts := make([]llms.MessageContent, 0, len(messages)+1)
	prompts = append(prompts, messages...)
	if schema != "" {
		prompts = append(prompts, llms.TextParts(llms.ChatMessageTypeSystem, responseFormat(schema)))
	}

	resp, err := c.Model.GenerateContent(ctx, prompts, llms.WithJSONMode())
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyCompletion
	}

	return resp.Choices[0].Content, nil
}

func responseFormat(schema string) string {
	return `# Response Format

Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:` + schema
}

// systemPrompt is shared by every call the engine makes.
func systemPrompt() string {
	return fmt.Sprintf(`You are an expert research analyst. Today is %s.
When responding:
- Topics may concern events after your training data; trust what the user and the sources say about them.
- Write for an experienced reader. Be detailed, precise and well organized.
- Prefer well argued claims over appeals to authority.
- Include unconventional ideas and newer technologies where relevant.
- Speculation is allowed but must be marked as such.`, time.Now().Format(time.RFC3339))
}

const queriesSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "query": {"type": "string", "description": "The search query"},
          "researchGoal": {"type": "string", "description": "What this query should find out and how to take the research further once results are in"}
        },
        "required": ["query", "researchGoal"]
      }
    }
  },
  "required": ["queries"]
}`

const synthesisSchema = `{
  "type": "object",
  "properties": {
    "learnings": {"type": "array", "items": {"type": "string"}, "description": "Key learnings from the contents"},
    "followUpQuestions": {"type": "array", "items": {"type": "string"}, "description": "Follow-up questions to research the topic further"}
  },
  "required": ["learnings", "followUpQuestions"]
}`

const reportSchema = `{
  "type": "object",
  "properties": {
    "reportMarkdown": {"type": "string", "description": "Final report on the topic in Markdown"}
  },
  "required": ["reportMarkdown"]
}`

const feedbackSchema = `{
  "type": "object",
  "properties": {
    "questions": {"type": "array", "items": {"type": "string"}, "description": "Follow up questions to clarify the research direction"}
  },
  "required": ["questions"]
}`
