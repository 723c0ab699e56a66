package progress

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type childRecord struct {
	parentID string
	name     string
}

type tallyRecord struct {
	answered int
	correct  int
}

// InMemoryStore keeps tallies in process memory. Used when no DATABASE_URL
// is configured and by tests.
type InMemoryStore struct {
	mu       sync.Mutex
	children map[string]childRecord
	subjects map[string]string                 // key -> display name
	tallies  map[string]map[string]tallyRecord // childID -> subjectKey -> tally
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		children: map[string]childRecord{},
		subjects: map[string]string{
			"math":    "Math",
			"english": "English",
		},
		tallies: map[string]map[string]tallyRecord{},
	}
}

// AddChild registers a child and returns its id. In production children are
// created by the account service; this exists for memory-backed runs and
// tests.
func (s *InMemoryStore) AddChild(parentID, name string) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[id] = childRecord{parentID: parentID, name: name}
	return id
}

func (s *InMemoryStore) RecordAnswer(_ context.Context, childID, subjectKey string, correct bool) (Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[childID]; !ok {
		return Tally{}, ErrChildNotFound
	}
	if _, ok := s.subjects[subjectKey]; !ok {
		return Tally{}, ErrSubjectNotFound
	}

	byChild := s.tallies[childID]
	if byChild == nil {
		byChild = map[string]tallyRecord{}
		s.tallies[childID] = byChild
	}
	t := byChild[subjectKey]
	t.answered++
	if correct {
		t.correct++
	}
	byChild[subjectKey] = t

	return Tally{
		TotalQuestions: t.answered,
		TotalCorrect:   t.correct,
		Accuracy:       accuracy(t.correct, t.answered),
	}, nil
}

func (s *InMemoryStore) Dashboard(_ context.Context, parentID string) ([]ChildProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []ChildProgress{}
	for id, child := range s.children {
		if child.parentID != parentID {
			continue
		}
		row := ChildProgress{ChildID: id, Name: child.name, Subjects: []SubjectProgress{}}
		for key, t := range s.tallies[id] {
			row.Subjects = append(row.Subjects, SubjectProgress{
				SubjectKey:  key,
				SubjectName: s.subjects[key],
				Answered:    t.answered,
				Correct:     t.correct,
				Accuracy:    accuracy(t.correct, t.answered),
			})
		}
		sort.Slice(row.Subjects, func(i, j int) bool {
			return row.Subjects[i].SubjectKey < row.Subjects[j].SubjectKey
		})
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
