package memory

import (
	"context"
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.SubmissionStore = (*Store)(nil)

func (s *Store) Start(_ context.Context, sub *domain.Submission, stubs []domain.Answer) (*domain.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.submissions {
		if existing.QuizID == sub.QuizID && existing.StudentID == sub.StudentID {
			return copySubmission(existing), false, nil
		}
	}

	created := copySubmission(sub)
	created.ID = s.nextID()
	created.Answers = make([]domain.Answer, len(stubs))
	for i, stub := range stubs {
		stub.ID = s.nextID()
		stub.SubmissionID = created.ID
		created.Answers[i] = stub
	}
	s.submissions[created.ID] = created
	return copySubmission(created), true, nil
}

func (s *Store) ByStudent(_ context.Context, quizID, studentID int64) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.submissions {
		if sub.QuizID == quizID && sub.StudentID == studentID {
			return copySubmission(sub), nil
		}
	}
	return nil, domain.ErrSubmissionNotFound
}

func (s *Store) ByID(_ context.Context, quizID, submissionID int64) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok || sub.QuizID != quizID {
		return nil, domain.ErrSubmissionNotFound
	}
	return copySubmission(sub), nil
}

func (s *Store) ListByQuiz(_ context.Context, quizID int64) ([]*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Submission
	for _, sub := range s.submissions {
		if sub.QuizID == quizID {
			out = append(out, copySubmission(sub))
		}
	}
	return out, nil
}

func (s *Store) FinalizeSubmit(_ context.Context, sub *domain.Submission, selections map[int64][]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.submissions[sub.ID]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	if stored.IsSubmitted || stored.EndTime != nil {
		return domain.ErrAlreadyFinished
	}

	stored.EndTime = sub.EndTime
	stored.IsSubmitted = sub.IsSubmitted
	stored.Score = sub.Score
	byID := make(map[int64]*domain.Answer, len(sub.Answers))
	for i := range sub.Answers {
		byID[sub.Answers[i].ID] = &sub.Answers[i]
	}
	for i := range stored.Answers {
		ans := &stored.Answers[i]
		ans.SelectedChoiceIDs = append([]int64(nil), selections[ans.ID]...)
		if scored, ok := byID[ans.ID]; ok {
			ans.IsCorrect = scored.IsCorrect
			ans.PointsEarned = scored.PointsEarned
		}
	}
	return nil
}

func (s *Store) FinalizeTimeout(_ context.Context, submissionID int64, end time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return false, domain.ErrSubmissionNotFound
	}
	if sub.EndTime != nil || sub.IsSubmitted {
		return false, nil
	}
	t := end
	sub.EndTime = &t
	sub.Score = 0
	return true, nil
}

func (s *Store) SaveScores(_ context.Context, subs []*domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rescored := range subs {
		stored, ok := s.submissions[rescored.ID]
		if !ok {
			continue
		}
		stored.Score = rescored.Score
		byID := make(map[int64]*domain.Answer, len(rescored.Answers))
		for i := range rescored.Answers {
			byID[rescored.Answers[i].ID] = &rescored.Answers[i]
		}
		for i := range stored.Answers {
			if scored, ok := byID[stored.Answers[i].ID]; ok {
				stored.Answers[i].IsCorrect = scored.IsCorrect
				stored.Answers[i].PointsEarned = scored.PointsEarned
			}
		}
	}
	return nil
}

func (s *Store) SyncStubs(_ context.Context, quizID int64, questionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[int64]bool, len(questionIDs))
	for _, id := range questionIDs {
		current[id] = true
	}

	for _, sub := range s.submissions {
		if sub.QuizID != quizID || sub.IsSubmitted || sub.EndTime != nil {
			continue
		}
		have := make(map[int64]bool, len(sub.Answers))
		filtered := sub.Answers[:0]
		maxPos := -1
		for _, ans := range sub.Answers {
			if !current[ans.QuestionID] {
				continue
			}
			have[ans.QuestionID] = true
			if ans.Position > maxPos {
				maxPos = ans.Position
			}
			filtered = append(filtered, ans)
		}
		sub.Answers = filtered
		for _, id := range questionIDs {
			if have[id] {
				continue
			}
			maxPos++
			sub.Answers = append(sub.Answers, domain.Answer{
				ID:           s.nextID(),
				SubmissionID: sub.ID,
				QuestionID:   id,
				Position:     maxPos,
			})
		}
	}
	return nil
}

func (s *Store) Release(_ context.Context, quizID int64, score, answers *bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sub := range s.submissions {
		if sub.QuizID != quizID || !sub.IsSubmitted {
			continue
		}
		if score != nil {
			sub.ScoreReleased = *score
		}
		if answers != nil {
			sub.AnswersReleased = *answers
		}
		count++
	}
	return count, nil
}

func (s *Store) Delete(_ context.Context, submissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[submissionID]; !ok {
		return domain.ErrSubmissionNotFound
	}
	delete(s.submissions, submissionID)
	return nil
}
