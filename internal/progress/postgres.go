package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists answer tallies in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS children (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS subjects (
			key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS learning_progress (
			child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
			subject_key TEXT NOT NULL REFERENCES subjects(key) ON DELETE CASCADE,
			total_questions_answered INTEGER NOT NULL DEFAULT 0,
			total_correct INTEGER NOT NULL DEFAULT 0,
			last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (child_id, subject_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_children_parent ON children (parent_id);`,
		// Children rows come from the account service, which shares this
		// database; the tutor subjects are fixed and seeded here.
		`INSERT INTO subjects (key, name, category) VALUES
			('math', 'Math', 'math'),
			('english', 'English', 'english')
		 ON CONFLICT (key) DO NOTHING;`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordAnswer(ctx context.Context, childID, subjectKey string, correct bool) (Tally, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM children WHERE id=$1)`, childID,
	).Scan(&exists); err != nil {
		return Tally{}, fmt.Errorf("check child: %w", err)
	}
	if !exists {
		return Tally{}, ErrChildNotFound
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subjects WHERE key=$1)`, subjectKey,
	).Scan(&exists); err != nil {
		return Tally{}, fmt.Errorf("check subject: %w", err)
	}
	if !exists {
		return Tally{}, ErrSubjectNotFound
	}

	inc := 0
	if correct {
		inc = 1
	}
	var answered, correctTotal int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO learning_progress (child_id, subject_key, total_questions_answered, total_correct)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (child_id, subject_key) DO UPDATE SET
			total_questions_answered = learning_progress.total_questions_answered + 1,
			total_correct = learning_progress.total_correct + $3,
			last_activity_at = now()
		 RETURNING total_questions_answered, total_correct`,
		childID, subjectKey, inc,
	).Scan(&answered, &correctTotal)
	if err != nil {
		return Tally{}, fmt.Errorf("record answer: %w", err)
	}

	return Tally{
		TotalQuestions: answered,
		TotalCorrect:   correctTotal,
		Accuracy:       accuracy(correctTotal, answered),
	}, nil
}

func (s *PostgresStore) Dashboard(ctx context.Context, parentID string) ([]ChildProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name,
		        COALESCE(p.subject_key, ''), COALESCE(sub.name, ''),
		        COALESCE(p.total_questions_answered, 0), COALESCE(p.total_correct, 0)
		 FROM children c
		 LEFT JOIN learning_progress p ON p.child_id = c.id
		 LEFT JOIN subjects sub ON sub.key = p.subject_key
		 WHERE c.parent_id = $1
		 ORDER BY c.name, p.subject_key`,
		parentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []ChildProgress{}, nil
		}
		return nil, fmt.Errorf("query dashboard: %w", err)
	}
	defer rows.Close()

	var out []ChildProgress
	index := map[string]int{}
	for rows.Next() {
		var (
			childID, name, subjectKey, subjectName string
			answered, correct                      int
		)
		if err := rows.Scan(&childID, &name, &subjectKey, &subjectName, &answered, &correct); err != nil {
			return nil, fmt.Errorf("scan dashboard row: %w", err)
		}
		i, ok := index[childID]
		if !ok {
			i = len(out)
			index[childID] = i
			out = append(out, ChildProgress{ChildID: childID, Name: name, Subjects: []SubjectProgress{}})
		}
		if subjectKey == "" {
			continue
		}
		out[i].Subjects = append(out[i].Subjects, SubjectProgress{
			SubjectKey:  subjectKey,
			SubjectName: subjectName,
			Answered:    answered,
			Correct:     correct,
			Accuracy:    accuracy(correct, answered),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboard rows: %w", err)
	}
	if out == nil {
		out = []ChildProgress{}
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
