package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/database"
)

const (
	appName    = "deep-research"
	agentName  = "research_assistant"
	chatUserID = "user"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Service answers questions about finished research through an ADK agent.
type Service struct {
	DB     database.DBTX
	Model  model.LLM
	Index  LearningSearcher
	Jobs   JobReader
	Titles TitleGenerator
}

// TitleGenerator names a conversation after its first exchange.
type TitleGenerator interface {
	Title(ctx context.Context, userMsg, modelMsg string) (string, error)
}

type Conversation struct {
	ID        uuid.UUID  `json:"id"`
	JobID     *uuid.UUID `json:"job_id,omitempty"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamEvent represents a single event in the chat stream
type StreamEvent struct {
	Type    string `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload any    `json:"payload"`
}

func NewService(db database.DBTX, llm model.LLM, index LearningSearcher, jobs JobReader, titles TitleGenerator) *Service {
	return &Service{DB: db, Model: llm, Index: index, Jobs: jobs, Titles: titles}
}

// newAgent builds an agent whose tools are scoped to jobID when it is set.
func (s *Service) newAgent(jobID string) (agent.Agent, error) {
	instruction := "You are a research assistant. Answer questions using the learnings gathered by earlier research jobs. " +
		"ALWAYS call search_learnings before answering and use list_sources when asked where information came from. " +
		"Group the answer by topic as a markdown list and say plainly when the learnings do not cover the question."
	if jobID != "" {
		instruction += " This conversation is about research job " + jobID + "."
	}

	return llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       s.Model,
		Description: "Answers questions about completed deep research jobs.",
		Instruction: instruction,
		Toolsets:    []tool.Toolset{NewLearningToolset(s.Index, s.Jobs, jobID)},
	})
}

// CreateConversation starts a conversation, optionally tied to a research job.
func (s *Service) CreateConversation(ctx context.Context, jobID *uuid.UUID) (*Conversation, error) {
	conv := &Conversation{}
	err := s.DB.QueryRow(ctx,
		`INSERT INTO conversations (id, job_id) VALUES ($1, $2) RETURNING id, job_id, title, created_at, updated_at`,
		uuid.New(), jobID,
	).Scan(&conv.ID, &conv.JobID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv := &Conversation{}
	err := s.DB.QueryRow(ctx,
		`SELECT id, job_id, title, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.JobID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, job_id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.JobID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Service) GetHistory(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) saveMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, $3, $4)`,
		id, conversationID, role, content)
	return id, err
}

// SendMessage stores the user message, replays the history into a fresh
// session and streams the agent's answer. The answer is stored once the
// stream is drained.
func (s *Service) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (iter.Seq2[StreamEvent, error], error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	userMsgID, err := s.saveMessage(ctx, conversationID, "user", content)
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	jobID := ""
	if conv.JobID != nil {
		jobID = conv.JobID.String()
	}
	researchAgent, err := s.newAgent(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	sessionSvc := session.InMemoryService()
	sessionID := conversationID.String()

	created, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    chatUserID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	for _, msg := range history {
		if msg.ID == userMsgID {
			continue
		}
		if err := sessionSvc.AppendEvent(ctx, created.Session, historyEvent(msg)); err != nil {
			return nil, fmt.Errorf("failed to replay history: %w", err)
		}
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          researchAgent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := genai.NewContentFromText(content, genai.RoleUser)

	return func(yield func(StreamEvent, error) bool) {
		slog.Info("Starting agent run", "conversation_id", conversationID, "job_id", jobID)

		var answer strings.Builder
		streamed := false
		events := r.Run(ctx, chatUserID, sessionID, userContent, agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		})

		for event, err := range events {
			if err != nil {
				slog.Error("Agent runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			for _, part := range event.LLMResponse.Content.Parts {
				var out StreamEvent
				switch {
				case part.Text != "":
					// streamed chunks are followed by one aggregated event
					if event.LLMResponse.Partial {
						streamed = true
					} else {
						answer.WriteString(part.Text)
						if streamed {
							streamed = false
							continue
						}
					}
					out = StreamEvent{Type: "content", Payload: part.Text}
				case part.FunctionCall != nil:
					slog.Info("Agent tool call", "tool", part.FunctionCall.Name)
					out = StreamEvent{Type: "tool_call", Payload: part.FunctionCall}
				case part.FunctionResponse != nil:
					out = StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}
				default:
					continue
				}
				if !yield(out, nil) {
					return
				}
			}
		}

		if _, err := s.saveMessage(ctx, conversationID, "model", answer.String()); err != nil {
			slog.Error("Failed to save model message", "error", err)
		} else if _, err := s.DB.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
			slog.Error("Failed to touch conversation", "error", err)
		}

		yield(StreamEvent{Type: "done", Payload: "done"}, nil)

		if len(history) <= 2 && s.Titles != nil {
			go s.nameConversation(conversationID, content, answer.String())
		}
	}, nil
}

func historyEvent(msg Message) *session.Event {
	role, author := genai.RoleUser, chatUserID
	if msg.Role == "model" {
		role, author = genai.RoleModel, agentName
	}

	evt := session.NewEvent(uuid.NewString())
	evt.Author = author
	evt.LLMResponse = model.LLMResponse{
		Content: genai.NewContentFromText(msg.Content, genai.Role(role)),
	}
	return evt
}

func (s *Service) nameConversation(convID uuid.UUID, userMsg, modelMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	title, err := s.Titles.Title(ctx, userMsg, modelMsg)
	if err != nil || title == "" {
		slog.Warn("Failed to generate conversation title", "error", err)
		return
	}

	if _, err := s.DB.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, convID, title); err != nil {
		slog.Error("Failed to update conversation title", "error", err)
	}
}
