package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.SubmissionStore = (*SubmissionStore)(nil)

// SubmissionStore persists attempts, answers and selected choices.
type SubmissionStore struct {
	db *bun.DB
}

func NewSubmissionStore(db *bun.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) Start(ctx context.Context, sub *domain.Submission, stubs []domain.Answer) (*domain.Submission, bool, error) {
	var out *domain.Submission
	created := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().Model(sub).
			On("CONFLICT (quiz_id, student_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			existing, err := loadByStudent(ctx, tx, sub.QuizID, sub.StudentID)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}

		created = true
		for i := range stubs {
			stubs[i].SubmissionID = sub.ID
		}
		if len(stubs) > 0 {
			if _, err := tx.NewInsert().Model(&stubs).Exec(ctx); err != nil {
				return fmt.Errorf("insert answer stubs: %w", err)
			}
		}
		fresh := *sub
		fresh.Answers = stubs
		out = &fresh
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *SubmissionStore) ByStudent(ctx context.Context, quizID, studentID int64) (*domain.Submission, error) {
	return loadByStudent(ctx, s.db, quizID, studentID)
}

func (s *SubmissionStore) ByID(ctx context.Context, quizID, submissionID int64) (*domain.Submission, error) {
	sub := new(domain.Submission)
	err := s.db.NewSelect().Model(sub).
		Relation("Answers", answerOrder).
		Where("submission.id = ?", submissionID).
		Where("submission.quiz_id = ?", quizID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if err := attachSelections(ctx, s.db, []*domain.Submission{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubmissionStore) ListByQuiz(ctx context.Context, quizID int64) ([]*domain.Submission, error) {
	var subs []*domain.Submission
	err := s.db.NewSelect().Model(&subs).
		Relation("Answers", answerOrder).
		Where("quiz_id = ?", quizID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if err := attachSelections(ctx, s.db, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *SubmissionStore) FinalizeSubmit(ctx context.Context, sub *domain.Submission, selections map[int64][]int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		locked := new(domain.Submission)
		err := tx.NewSelect().Model(locked).
			Where("id = ?", sub.ID).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSubmissionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock submission: %w", err)
		}
		if locked.IsSubmitted || locked.EndTime != nil {
			return domain.ErrAlreadyFinished
		}

		if _, err := tx.NewUpdate().Model(sub).
			Column("end_time", "is_submitted", "score").
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("finalize submission: %w", err)
		}

		answerIDs := make([]int64, 0, len(sub.Answers))
		for i := range sub.Answers {
			answerIDs = append(answerIDs, sub.Answers[i].ID)
		}
		if len(answerIDs) > 0 {
			if _, err := tx.NewDelete().Model((*domain.AnswerChoice)(nil)).
				Where("answer_id IN (?)", bun.In(answerIDs)).
				Exec(ctx); err != nil {
				return fmt.Errorf("clear selections: %w", err)
			}
		}
		var rows []domain.AnswerChoice
		for answerID, choiceIDs := range selections {
			for _, choiceID := range choiceIDs {
				rows = append(rows, domain.AnswerChoice{AnswerID: answerID, ChoiceID: choiceID})
			}
		}
		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return fmt.Errorf("insert selections: %w", err)
			}
		}

		for i := range sub.Answers {
			ans := &sub.Answers[i]
			if _, err := tx.NewUpdate().Model(ans).
				Column("is_correct", "points_earned").
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("update answer result: %w", err)
			}
		}
		return nil
	})
}

func (s *SubmissionStore) FinalizeTimeout(ctx context.Context, submissionID int64, end time.Time) (bool, error) {
	did := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		locked := new(domain.Submission)
		err := tx.NewSelect().Model(locked).
			Where("id = ?", submissionID).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSubmissionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock submission: %w", err)
		}
		if locked.EndTime != nil || locked.IsSubmitted {
			return nil
		}
		if _, err := tx.NewUpdate().Model((*domain.Submission)(nil)).
			Set("end_time = ?", end).
			Set("score = 0").
			Where("id = ?", submissionID).
			Exec(ctx); err != nil {
			return fmt.Errorf("finalize timeout: %w", err)
		}
		did = true
		return nil
	})
	return did, err
}

func (s *SubmissionStore) SaveScores(ctx context.Context, subs []*domain.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, sub := range subs {
			if _, err := tx.NewUpdate().Model(sub).
				Column("score").
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("save score: %w", err)
			}
			for i := range sub.Answers {
				if _, err := tx.NewUpdate().Model(&sub.Answers[i]).
					Column("is_correct", "points_earned").
					WherePK().
					Exec(ctx); err != nil {
					return fmt.Errorf("save answer result: %w", err)
				}
			}
		}
		return nil
	})
}

func (s *SubmissionStore) SyncStubs(ctx context.Context, quizID int64, questionIDs []int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var live []*domain.Submission
		err := tx.NewSelect().Model(&live).
			Relation("Answers", answerOrder).
			Where("quiz_id = ?", quizID).
			Where("is_submitted = FALSE").
			Where("end_time IS NULL").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("load in-progress submissions: %w", err)
		}
		if len(live) == 0 {
			return nil
		}

		current := make(map[int64]bool, len(questionIDs))
		for _, id := range questionIDs {
			current[id] = true
		}

		for _, sub := range live {
			// Stale stubs are already gone via the question FK cascade; only
			// append stubs for questions this student has no row for yet.
			have := make(map[int64]bool, len(sub.Answers))
			maxPos := -1
			for i := range sub.Answers {
				have[sub.Answers[i].QuestionID] = true
				if sub.Answers[i].Position > maxPos {
					maxPos = sub.Answers[i].Position
				}
			}
			var fresh []domain.Answer
			for _, id := range questionIDs {
				if have[id] {
					continue
				}
				maxPos++
				fresh = append(fresh, domain.Answer{
					SubmissionID: sub.ID,
					QuestionID:   id,
					Position:     maxPos,
				})
			}
			if len(fresh) > 0 {
				if _, err := tx.NewInsert().Model(&fresh).Exec(ctx); err != nil {
					return fmt.Errorf("insert answer stubs: %w", err)
				}
			}
		}
		return nil
	})
}

func (s *SubmissionStore) Release(ctx context.Context, quizID int64, score, answers *bool) (int, error) {
	if score == nil && answers == nil {
		return 0, nil
	}
	q := s.db.NewUpdate().Model((*domain.Submission)(nil)).
		Where("quiz_id = ?", quizID).
		Where("is_submitted = TRUE")
	if score != nil {
		q = q.Set("is_score_released = ?", *score)
	}
	if answers != nil {
		q = q.Set("are_answers_released = ?", *answers)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SubmissionStore) Delete(ctx context.Context, submissionID int64) error {
	res, err := s.db.NewDelete().Model((*domain.Submission)(nil)).
		Where("id = ?", submissionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func answerOrder(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("position ASC", "id ASC")
}

func loadByStudent(ctx context.Context, db bun.IDB, quizID, studentID int64) (*domain.Submission, error) {
	sub := new(domain.Submission)
	err := db.NewSelect().Model(sub).
		Relation("Answers", answerOrder).
		Where("submission.quiz_id = ?", quizID).
		Where("submission.student_id = ?", studentID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if err := attachSelections(ctx, db, []*domain.Submission{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

// attachSelections loads the answer_choices join rows for every answer of the
// given submissions in one query.
func attachSelections(ctx context.Context, db bun.IDB, subs []*domain.Submission) error {
	answers := make(map[int64]*domain.Answer)
	var ids []int64
	for _, sub := range subs {
		for i := range sub.Answers {
			answers[sub.Answers[i].ID] = &sub.Answers[i]
			ids = append(ids, sub.Answers[i].ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var rows []domain.AnswerChoice
	err := db.NewSelect().Model(&rows).
		Where("answer_id IN (?)", bun.In(ids)).
		Order("choice_id ASC").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("load selections: %w", err)
	}
	for _, row := range rows {
		if ans, ok := answers[row.AnswerID]; ok {
			ans.SelectedChoiceIDs = append(ans.SelectedChoiceIDs, row.ChoiceID)
		}
	}
	return nil
}
