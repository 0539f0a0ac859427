package memory

import (
	"context"
	"sort"
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.DefinitionStore = (*Store)(nil)

func (s *Store) CreateQuiz(_ context.Context, quiz *domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quiz.ID = s.nextID()
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = time.Now()
	}
	if quiz.Settings != nil {
		quiz.Settings.ID = s.nextID()
		quiz.Settings.QuizID = quiz.ID
	}
	for i := range quiz.Windows {
		quiz.Windows[i].ID = s.nextID()
		quiz.Windows[i].QuizID = quiz.ID
	}
	for i := range quiz.Questions {
		quiz.Questions[i].ID = s.nextID()
		quiz.Questions[i].QuizID = quiz.ID
		for j := range quiz.Questions[i].Choices {
			quiz.Questions[i].Choices[j].ID = s.nextID()
			quiz.Questions[i].Choices[j].QuestionID = quiz.Questions[i].ID
		}
	}
	s.quizzes[quiz.ID] = copyQuiz(quiz)
	return nil
}

// UpdateQuiz applies the desired tree: ids matching this quiz's own rows are
// kept, anything else (new rows, ids from another quiz) gets a fresh id, and
// rows absent from the desired tree go away. Answers referencing a deleted
// question are cascaded like the database would.
func (s *Store) UpdateQuiz(_ context.Context, quiz *domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.quizzes[quiz.ID]
	if !ok {
		return domain.ErrQuizNotFound
	}

	ownQuestions := make(map[int64]bool, len(existing.Questions))
	choiceOwner := make(map[int64]int64)
	for _, q := range existing.Questions {
		ownQuestions[q.ID] = true
		for _, c := range q.Choices {
			choiceOwner[c.ID] = q.ID
		}
	}

	if quiz.Settings != nil {
		quiz.Settings.QuizID = quiz.ID
		if existing.Settings != nil {
			quiz.Settings.ID = existing.Settings.ID
		} else {
			quiz.Settings.ID = s.nextID()
		}
	}

	// Windows match on center: same center updates the stored row.
	windowByCenter := make(map[int64]int64, len(existing.Windows))
	for _, w := range existing.Windows {
		windowByCenter[w.CenterID] = w.ID
	}
	for i := range quiz.Windows {
		quiz.Windows[i].QuizID = quiz.ID
		if id, ok := windowByCenter[quiz.Windows[i].CenterID]; ok {
			quiz.Windows[i].ID = id
		} else {
			quiz.Windows[i].ID = s.nextID()
		}
	}

	kept := make(map[int64]bool)
	for i := range quiz.Questions {
		question := &quiz.Questions[i]
		question.QuizID = quiz.ID
		if !ownQuestions[question.ID] {
			question.ID = s.nextID()
		}
		kept[question.ID] = true
		for j := range question.Choices {
			if choiceOwner[question.Choices[j].ID] != question.ID {
				question.Choices[j].ID = s.nextID()
			}
			question.Choices[j].QuestionID = question.ID
		}
	}

	// Cascade: drop answers that point at removed questions.
	for _, q := range existing.Questions {
		if kept[q.ID] {
			continue
		}
		for _, sub := range s.submissions {
			if sub.QuizID != quiz.ID {
				continue
			}
			filtered := sub.Answers[:0]
			for _, ans := range sub.Answers {
				if ans.QuestionID != q.ID {
					filtered = append(filtered, ans)
				}
			}
			sub.Answers = filtered
		}
	}

	quiz.CreatedAt = existing.CreatedAt
	s.quizzes[quiz.ID] = copyQuiz(quiz)
	return nil
}

func (s *Store) GetQuiz(_ context.Context, id int64) (*domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	return copyQuiz(quiz), nil
}

func (s *Store) ListByTeacher(_ context.Context, teacherID int64) ([]*domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Quiz
	for _, quiz := range s.quizzes {
		if quiz.TeacherID == teacherID {
			out = append(out, copyQuiz(quiz))
		}
	}
	sortQuizzes(out)
	return out, nil
}

func (s *Store) ListForStudent(_ context.Context, gradeID, centerID int64) ([]*domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Quiz
	for _, quiz := range s.quizzes {
		if quiz.GradeID != gradeID || quiz.Window(centerID) == nil {
			continue
		}
		out = append(out, copyQuiz(quiz))
	}
	sortQuizzes(out)
	return out, nil
}

func (s *Store) DeleteQuiz(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[id]; !ok {
		return domain.ErrQuizNotFound
	}
	delete(s.quizzes, id)
	for subID, sub := range s.submissions {
		if sub.QuizID == id {
			delete(s.submissions, subID)
		}
	}
	return nil
}

func sortQuizzes(quizzes []*domain.Quiz) {
	sort.SliceStable(quizzes, func(i, j int) bool {
		if !quizzes[i].CreatedAt.Equal(quizzes[j].CreatedAt) {
			return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt)
		}
		return quizzes[i].ID < quizzes[j].ID
	})
}
