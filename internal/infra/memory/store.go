// Package memory provides in-memory store implementations used by tests and
// the zero-dependency demo mode of the server.
package memory

import (
	"sort"
	"sync"

	"tutordesk/internal/domain"
)

// Store keeps the whole data set behind one mutex. Good enough for tests and
// single-process demos; production wiring uses the postgres stores.
type Store struct {
	mu  sync.RWMutex
	seq int64

	quizzes     map[int64]*domain.Quiz
	submissions map[int64]*domain.Submission

	students map[int64]*domain.Student
	centers  map[int64]*domain.Center
	grades   map[int64]*domain.Grade
}

func NewStore() *Store {
	return &Store{
		quizzes:     make(map[int64]*domain.Quiz),
		submissions: make(map[int64]*domain.Submission),
		students:    make(map[int64]*domain.Student),
		centers:     make(map[int64]*domain.Center),
		grades:      make(map[int64]*domain.Grade),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func copyQuiz(q *domain.Quiz) *domain.Quiz {
	out := *q
	if q.Settings != nil {
		settings := *q.Settings
		out.Settings = &settings
	}
	out.Windows = make([]domain.QuizWindow, len(q.Windows))
	copy(out.Windows, q.Windows)
	out.Questions = make([]domain.Question, len(q.Questions))
	for i := range q.Questions {
		out.Questions[i] = q.Questions[i]
		out.Questions[i].Choices = make([]domain.Choice, len(q.Questions[i].Choices))
		copy(out.Questions[i].Choices, q.Questions[i].Choices)
	}
	sort.SliceStable(out.Questions, func(i, j int) bool {
		return out.Questions[i].Position < out.Questions[j].Position
	})
	return &out
}

func copySubmission(sub *domain.Submission) *domain.Submission {
	out := *sub
	if sub.StartTime != nil {
		t := *sub.StartTime
		out.StartTime = &t
	}
	if sub.EndTime != nil {
		t := *sub.EndTime
		out.EndTime = &t
	}
	out.Answers = make([]domain.Answer, len(sub.Answers))
	for i := range sub.Answers {
		out.Answers[i] = sub.Answers[i]
		out.Answers[i].SelectedChoiceIDs = append([]int64(nil), sub.Answers[i].SelectedChoiceIDs...)
	}
	sort.SliceStable(out.Answers, func(i, j int) bool {
		return out.Answers[i].Position < out.Answers[j].Position
	})
	return &out
}
