package database

import (
	"context"
	"fmt"
)

type migration struct {
	name  string
	query string
}

var migrations = []migration{
	{"research_jobs table", `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			topic TEXT NOT NULL,
			breadth INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			progress JSONB,
			learnings JSONB NOT NULL DEFAULT '[]',
			visited_urls JSONB NOT NULL DEFAULT '[]',
			report TEXT,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"research_logs table", `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		)`},
	{"research_logs job index", "CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id)"},
	{"research_jobs created_at index", "CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)"},
	{"conversations table", `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			job_id UUID REFERENCES research_jobs(id) ON DELETE SET NULL,
			title TEXT NOT NULL DEFAULT 'New Conversation',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"messages table", `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"messages conversation index", "CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id)"},
	{"conversations updated_at index", "CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)"},
}

// InitSchema creates the job, log and chat tables. It is safe to run on every start.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	return initSchema(ctx, db.Pool)
}

func initSchema(ctx context.Context, db DBTX) error {
	for _, m := range migrations {
		if _, err := db.Exec(ctx, m.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", m.name, err)
		}
	}
	return nil
}
