// Package postgres implements the persistent stores on bun over Postgres,
// plus a pgx-based snapshot loader for the hot quiz read path.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var _ app.DefinitionStore = (*DefinitionStore)(nil)

// DefinitionStore persists the quiz aggregate. Every multi-row write runs in
// one transaction and refreshes the quiz's JSON snapshot before committing.
type DefinitionStore struct {
	db *bun.DB
}

func NewDefinitionStore(db *bun.DB) *DefinitionStore {
	return &DefinitionStore{db: db}
}

func (s *DefinitionStore) CreateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(quiz).Exec(ctx); err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}
		if quiz.Settings != nil {
			quiz.Settings.QuizID = quiz.ID
			if _, err := tx.NewInsert().Model(quiz.Settings).Exec(ctx); err != nil {
				return fmt.Errorf("insert settings: %w", err)
			}
		}
		for i := range quiz.Windows {
			quiz.Windows[i].QuizID = quiz.ID
		}
		if len(quiz.Windows) > 0 {
			if _, err := tx.NewInsert().Model(&quiz.Windows).Exec(ctx); err != nil {
				return fmt.Errorf("insert windows: %w", err)
			}
		}
		for i := range quiz.Questions {
			question := &quiz.Questions[i]
			question.QuizID = quiz.ID
			if _, err := tx.NewInsert().Model(question).Exec(ctx); err != nil {
				return fmt.Errorf("insert question: %w", err)
			}
			for j := range question.Choices {
				question.Choices[j].QuestionID = question.ID
			}
			if len(question.Choices) > 0 {
				if _, err := tx.NewInsert().Model(&question.Choices).Exec(ctx); err != nil {
					return fmt.Errorf("insert choices: %w", err)
				}
			}
		}
		return writeSnapshot(ctx, tx, quiz)
	})
}

// UpdateQuiz reconciles the stored tree: rows carrying an id are updated, new
// rows are inserted, and stale rows are deleted last so a failed write never
// leaves the quiz without its questions. Deleting a question cascades to its
// choices and to every student's answers via the schema.
func (s *DefinitionStore) UpdateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model(quiz).
			Column("title", "description", "grade_id").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update quiz: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrQuizNotFound
		}

		if quiz.Settings != nil {
			quiz.Settings.QuizID = quiz.ID
			if _, err := tx.NewInsert().Model(quiz.Settings).
				On("CONFLICT (quiz_id) DO UPDATE").
				Set("timer_minutes = EXCLUDED.timer_minutes").
				Set("score_visibility = EXCLUDED.score_visibility").
				Set("answers_visibility = EXCLUDED.answers_visibility").
				Set("question_order = EXCLUDED.question_order").
				Exec(ctx); err != nil {
				return fmt.Errorf("upsert settings: %w", err)
			}
		}

		if err := s.reconcileWindows(ctx, tx, quiz); err != nil {
			return err
		}
		if err := s.reconcileQuestions(ctx, tx, quiz); err != nil {
			return err
		}
		return writeSnapshot(ctx, tx, quiz)
	})
}

func (s *DefinitionStore) reconcileWindows(ctx context.Context, tx bun.Tx, quiz *domain.Quiz) error {
	centerIDs := make([]int64, 0, len(quiz.Windows))
	for i := range quiz.Windows {
		quiz.Windows[i].QuizID = quiz.ID
		quiz.Windows[i].ID = 0
		centerIDs = append(centerIDs, quiz.Windows[i].CenterID)
	}
	if len(quiz.Windows) > 0 {
		if _, err := tx.NewInsert().Model(&quiz.Windows).
			On("CONFLICT (quiz_id, center_id) DO UPDATE").
			Set("open_at = EXCLUDED.open_at").
			Set("close_at = EXCLUDED.close_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert windows: %w", err)
		}
	}
	del := tx.NewDelete().Model((*domain.QuizWindow)(nil)).
		Where("quiz_id = ?", quiz.ID)
	if len(centerIDs) > 0 {
		del = del.Where("center_id NOT IN (?)", bun.In(centerIDs))
	}
	if _, err := del.Exec(ctx); err != nil {
		return fmt.Errorf("delete stale windows: %w", err)
	}
	return nil
}

func (s *DefinitionStore) reconcileQuestions(ctx context.Context, tx bun.Tx, quiz *domain.Quiz) error {
	// Id matching is scoped to this quiz's own rows: an incoming id that
	// belongs to another quiz (or to another question's choice) must not
	// update the foreign row, so it is treated as a create instead.
	var stored []domain.Question
	if err := tx.NewSelect().Model(&stored).
		Relation("Choices").
		Where("quiz_id = ?", quiz.ID).
		Scan(ctx); err != nil {
		return fmt.Errorf("load questions for reconcile: %w", err)
	}
	ownQuestions := make(map[int64]bool, len(stored))
	choiceOwner := make(map[int64]int64)
	for _, q := range stored {
		ownQuestions[q.ID] = true
		for _, c := range q.Choices {
			choiceOwner[c.ID] = q.ID
		}
	}

	kept := make([]int64, 0, len(quiz.Questions))
	for i := range quiz.Questions {
		question := &quiz.Questions[i]
		question.QuizID = quiz.ID
		if !ownQuestions[question.ID] {
			question.ID = 0
		}
		if question.ID == 0 {
			if _, err := tx.NewInsert().Model(question).Exec(ctx); err != nil {
				return fmt.Errorf("insert question: %w", err)
			}
		} else {
			if _, err := tx.NewUpdate().Model(question).
				Column("selection_type", "text", "image_url", "points", "position").
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("update question: %w", err)
			}
		}
		kept = append(kept, question.ID)

		keptChoices := make([]int64, 0, len(question.Choices))
		for j := range question.Choices {
			choice := &question.Choices[j]
			choice.QuestionID = question.ID
			if choiceOwner[choice.ID] != question.ID {
				choice.ID = 0
			}
			if choice.ID == 0 {
				if _, err := tx.NewInsert().Model(choice).Exec(ctx); err != nil {
					return fmt.Errorf("insert choice: %w", err)
				}
			} else {
				if _, err := tx.NewUpdate().Model(choice).
					Column("text", "image_url", "is_correct").
					WherePK().
					Exec(ctx); err != nil {
					return fmt.Errorf("update choice: %w", err)
				}
			}
			keptChoices = append(keptChoices, choice.ID)
		}
		del := tx.NewDelete().Model((*domain.Choice)(nil)).
			Where("question_id = ?", question.ID)
		if len(keptChoices) > 0 {
			del = del.Where("id NOT IN (?)", bun.In(keptChoices))
		}
		if _, err := del.Exec(ctx); err != nil {
			return fmt.Errorf("delete stale choices: %w", err)
		}
	}

	del := tx.NewDelete().Model((*domain.Question)(nil)).
		Where("quiz_id = ?", quiz.ID)
	if len(kept) > 0 {
		del = del.Where("id NOT IN (?)", bun.In(kept))
	}
	if _, err := del.Exec(ctx); err != nil {
		return fmt.Errorf("delete stale questions: %w", err)
	}
	return nil
}

func (s *DefinitionStore) GetQuiz(ctx context.Context, id int64) (*domain.Quiz, error) {
	quiz := new(domain.Quiz)
	err := s.db.NewSelect().Model(quiz).
		Relation("Settings").
		Relation("Windows").
		Relation("Questions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC", "id ASC")
		}).
		Relation("Questions.Choices", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		}).
		Where("quiz.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	return quiz, nil
}

func (s *DefinitionStore) ListByTeacher(ctx context.Context, teacherID int64) ([]*domain.Quiz, error) {
	var quizzes []*domain.Quiz
	err := s.db.NewSelect().Model(&quizzes).
		Relation("Settings").
		Relation("Windows").
		Where("teacher_id = ?", teacherID).
		Order("created_at DESC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes by teacher: %w", err)
	}
	return quizzes, nil
}

func (s *DefinitionStore) ListForStudent(ctx context.Context, gradeID, centerID int64) ([]*domain.Quiz, error) {
	var quizzes []*domain.Quiz
	err := s.db.NewSelect().Model(&quizzes).
		Relation("Settings").
		Relation("Windows").
		Where("grade_id = ?", gradeID).
		Where("EXISTS (SELECT 1 FROM quiz_windows w WHERE w.quiz_id = quiz.id AND w.center_id = ?)", centerID).
		Order("created_at DESC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes for student: %w", err)
	}
	return quizzes, nil
}

func (s *DefinitionStore) DeleteQuiz(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().Model((*domain.Quiz)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

// writeSnapshot refreshes the denormalized JSON copy read by the pgx snapshot
// loader. The tree on the model may be partial after an update, so it is
// reloaded inside the same transaction.
func writeSnapshot(ctx context.Context, tx bun.Tx, quiz *domain.Quiz) error {
	full := new(domain.Quiz)
	err := tx.NewSelect().Model(full).
		Relation("Settings").
		Relation("Windows").
		Relation("Questions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC", "id ASC")
		}).
		Relation("Questions.Choices", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		}).
		Where("quiz.id = ?", quiz.ID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("reload quiz for snapshot: %w", err)
	}
	data, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO quiz_snapshots (quiz_id, data, updated_at) VALUES (?, ?, now())
		 ON CONFLICT (quiz_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		quiz.ID, string(data))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
