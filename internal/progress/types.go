package progress

import (
	"context"
	"errors"
)

var (
	ErrChildNotFound   = errors.New("child not found")
	ErrSubjectNotFound = errors.New("subject not found")
)

// Tally is the per-(child, subject) answer count after a recorded answer.
type Tally struct {
	TotalQuestions int     `json:"total_questions"`
	TotalCorrect   int     `json:"total_correct"`
	Accuracy       float64 `json:"accuracy"`
}

// SubjectProgress pairs a subject with its tally for dashboard output.
type SubjectProgress struct {
	SubjectKey  string  `json:"subject_key"`
	SubjectName string  `json:"subject_name"`
	Answered    int     `json:"total_questions_answered"`
	Correct     int     `json:"total_correct"`
	Accuracy    float64 `json:"accuracy"`
}

// ChildProgress is one child's row in the parent dashboard.
type ChildProgress struct {
	ChildID  string            `json:"id"`
	Name     string            `json:"name"`
	Subjects []SubjectProgress `json:"subjects"`
}

// Store is the usage-accounting record store consumed by the HTTP layer.
// It is an adjacent collaborator: the tutoring core never touches it.
type Store interface {
	RecordAnswer(ctx context.Context, childID, subjectKey string, correct bool) (Tally, error)
	Dashboard(ctx context.Context, parentID string) ([]ChildProgress, error)
	Close() error
}

func accuracy(correct, answered int) float64 {
	if answered == 0 {
		return 0
	}
	return float64(correct) / float64(answered)
}
