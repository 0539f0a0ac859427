package app

import (
	"context"
	"time"

	"tutordesk/internal/domain"
)

// DefinitionStore persists the quiz aggregate (settings, windows, questions,
// choices) with all-or-nothing semantics.
type DefinitionStore interface {
	QuizReader

	// CreateQuiz inserts the whole tree in one transaction and assigns ids.
	CreateQuiz(ctx context.Context, quiz *domain.Quiz) error

	// UpdateQuiz reconciles the stored tree against the desired one: rows
	// carrying an id are updated, rows without are created, and stored rows
	// absent from the desired tree are deleted only after all creates and
	// updates have been applied.
	UpdateQuiz(ctx context.Context, quiz *domain.Quiz) error

	ListByTeacher(ctx context.Context, teacherID int64) ([]*domain.Quiz, error)
	ListForStudent(ctx context.Context, gradeID, centerID int64) ([]*domain.Quiz, error)
	DeleteQuiz(ctx context.Context, id int64) error
}

// QuizReader is the read side of the definition store. Hot read paths go
// through a caching decorator with this same shape.
type QuizReader interface {
	// GetQuiz loads the full tree: settings, windows, questions with choices
	// in position order. Returns domain.ErrQuizNotFound when absent.
	GetQuiz(ctx context.Context, id int64) (*domain.Quiz, error)
}

// QuizInvalidator drops cached quiz snapshots after definition writes.
type QuizInvalidator interface {
	Invalidate(ctx context.Context, quizID int64) error
}

// SubmissionStore persists attempts and their answers. Multi-step mutations
// are atomic; FinalizeTimeout additionally takes a row-level exclusive lock.
type SubmissionStore interface {
	// Start atomically gets or creates the student's submission. On create it
	// persists the submission together with its answer stubs; on an existing
	// row it returns the stored submission untouched. created reports which
	// path was taken.
	Start(ctx context.Context, sub *domain.Submission, stubs []domain.Answer) (*domain.Submission, bool, error)

	// ByStudent returns the submission with answers and selections loaded, or
	// domain.ErrSubmissionNotFound.
	ByStudent(ctx context.Context, quizID, studentID int64) (*domain.Submission, error)
	ByID(ctx context.Context, quizID, submissionID int64) (*domain.Submission, error)
	ListByQuiz(ctx context.Context, quizID int64) ([]*domain.Submission, error)

	// FinalizeSubmit replaces every selection of the submission's answers with
	// the given sets and persists the submission's end_time, is_submitted,
	// score and the answers' derived fields, all in one transaction.
	FinalizeSubmit(ctx context.Context, sub *domain.Submission, selections map[int64][]int64) error

	// FinalizeTimeout locks the row and, iff end_time is still unset, sets
	// end_time and zeroes the score while leaving is_submitted false.
	// Reports whether this call performed the finalization.
	FinalizeTimeout(ctx context.Context, submissionID int64, end time.Time) (bool, error)

	// SaveScores persists recomputed scores and answer results in bulk.
	SaveScores(ctx context.Context, subs []*domain.Submission) error

	// SyncStubs reconciles answer stubs of in-progress submissions after a
	// quiz edit: stubs of removed questions are dropped, stubs for new
	// questions are appended after each student's existing order.
	SyncStubs(ctx context.Context, quizID int64, questionIDs []int64) error

	// Release sets the manual release flags on all submitted rows of a quiz.
	// A nil pointer leaves that flag untouched. Returns the row count.
	Release(ctx context.Context, quizID int64, score, answers *bool) (int, error)

	Delete(ctx context.Context, submissionID int64) error
}

// Directory answers the identity questions the quiz core needs about the
// surrounding tutoring system; account management itself lives elsewhere.
type Directory interface {
	Student(ctx context.Context, id int64) (*domain.Student, error)
	StudentsByGradeAndCenters(ctx context.Context, gradeID int64, centerIDs []int64) ([]*domain.Student, error)
	CentersOwnedBy(ctx context.Context, teacherID int64) ([]*domain.Center, error)
}

// RosterFeed fans submission activity out to live roster watchers. Subscribe
// returns a signal channel the caller must cancel to avoid leaks.
type RosterFeed interface {
	Subscribe(quizID int64) (<-chan struct{}, func())
	Notify(quizID int64)
}
