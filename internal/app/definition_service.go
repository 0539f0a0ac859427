package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"tutordesk/internal/domain"
)

// QuizDraft is the inbound shape for creating or replacing a quiz definition.
// Questions and windows describe the desired end state; rows carrying an id
// refer to existing rows, rows without one are new.
type QuizDraft struct {
	Title       string           `json:"title" validate:"required,max=255"`
	Description string           `json:"description"`
	GradeID     int64            `json:"gradeId" validate:"required"`
	Windows     []WindowDraft    `json:"centers" validate:"required,min=1,dive"`
	Settings    SettingsDraft    `json:"settings"`
	Questions   []QuestionDraft  `json:"questions" validate:"required,min=1,dive"`
}

type WindowDraft struct {
	CenterID int64     `json:"centerId" validate:"required"`
	OpenAt   time.Time `json:"openAt" validate:"required"`
	CloseAt  time.Time `json:"closeAt" validate:"required"`
}

type SettingsDraft struct {
	TimerMinutes      int                     `json:"timerMinutes" validate:"min=0,max=1440"`
	ScoreVisibility   domain.VisibilityMode   `json:"scoreVisibility" validate:"omitempty,oneof=immediate after_close manual"`
	AnswersVisibility domain.VisibilityMode   `json:"answersVisibility" validate:"omitempty,oneof=immediate after_close manual"`
	QuestionOrder     domain.QuestionOrdering `json:"questionOrder" validate:"omitempty,oneof=created random"`
}

type QuestionDraft struct {
	ID            int64                `json:"id"`
	SelectionType domain.SelectionType `json:"selectionType" validate:"omitempty,oneof=single multiple"`
	Text          string               `json:"text"`
	ImageURL      string               `json:"image"`
	Points        int                  `json:"points" validate:"required,min=1"`
	Choices       []ChoiceDraft        `json:"choices" validate:"required,min=1,dive"`
}

type ChoiceDraft struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	ImageURL  string `json:"image"`
	IsCorrect bool   `json:"isCorrect"`
}

// DefinitionService owns the quiz definition lifecycle: transactional
// create/update of the whole tree, deletion, and the read paths for listing.
type DefinitionService struct {
	quizzes  DefinitionStore
	subs     SubmissionStore
	dir      Directory
	cache    QuizInvalidator
	feed     RosterFeed
	validate *validator.Validate
	logger   *log.Logger
	now      func() time.Time
}

func NewDefinitionService(quizzes DefinitionStore, subs SubmissionStore, dir Directory, opts ...DefinitionOption) *DefinitionService {
	s := &DefinitionService{
		quizzes:  quizzes,
		subs:     subs,
		dir:      dir,
		validate: validator.New(),
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type DefinitionOption func(*DefinitionService)

// WithQuizCache wires the snapshot cache to invalidate after writes.
func WithQuizCache(cache QuizInvalidator) DefinitionOption {
	return func(s *DefinitionService) { s.cache = cache }
}

// WithDefinitionFeed notifies roster watchers after rescoring edits.
func WithDefinitionFeed(feed RosterFeed) DefinitionOption {
	return func(s *DefinitionService) { s.feed = feed }
}

func WithDefinitionLogger(logger *log.Logger) DefinitionOption {
	return func(s *DefinitionService) { s.logger = logger }
}

func WithDefinitionClock(now func() time.Time) DefinitionOption {
	return func(s *DefinitionService) { s.now = now }
}

// Create validates the draft and stores the quiz tree in one transaction.
func (s *DefinitionService) Create(ctx context.Context, teacherID int64, draft QuizDraft) (*domain.Quiz, error) {
	if err := s.checkDraft(ctx, teacherID, draft); err != nil {
		return nil, err
	}
	quiz := draftToQuiz(teacherID, 0, draft)
	if err := s.quizzes.CreateQuiz(ctx, quiz); err != nil {
		return nil, fmt.Errorf("create quiz: %w", err)
	}
	return s.quizzes.GetQuiz(ctx, quiz.ID)
}

// Update replaces the quiz tree with the draft's desired state: matched rows
// are updated, new ones created, and absent ones deleted last. Existing
// submitted attempts are rescored against the edited question set, and answer
// stubs of in-progress attempts are reconciled with added/removed questions.
func (s *DefinitionService) Update(ctx context.Context, teacherID, quizID int64, draft QuizDraft) (*domain.Quiz, error) {
	existing, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if existing.TeacherID != teacherID {
		return nil, domain.ErrForbidden
	}
	if err := s.checkDraft(ctx, teacherID, draft); err != nil {
		return nil, err
	}

	quiz := draftToQuiz(teacherID, quizID, draft)
	quiz.CreatedAt = existing.CreatedAt
	if err := s.quizzes.UpdateQuiz(ctx, quiz); err != nil {
		return nil, fmt.Errorf("update quiz: %w", err)
	}
	s.invalidate(ctx, quizID)

	updated, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	questionIDs := make([]int64, len(updated.Questions))
	for i := range updated.Questions {
		questionIDs[i] = updated.Questions[i].ID
	}
	if err := s.subs.SyncStubs(ctx, quizID, questionIDs); err != nil {
		return nil, fmt.Errorf("reconcile answer stubs: %w", err)
	}

	if err := s.rescoreSubmitted(ctx, updated); err != nil {
		return nil, err
	}
	if s.feed != nil {
		s.feed.Notify(quizID)
	}
	return updated, nil
}

// Delete removes the quiz with its windows, questions and submissions.
func (s *DefinitionService) Delete(ctx context.Context, teacherID, quizID int64) error {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	if quiz.TeacherID != teacherID {
		return domain.ErrForbidden
	}
	if err := s.quizzes.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	s.invalidate(ctx, quizID)
	return nil
}

// Get loads one quiz tree.
func (s *DefinitionService) Get(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// ListForTeacher returns the teacher's quizzes, full tree loaded.
func (s *DefinitionService) ListForTeacher(ctx context.Context, teacherID int64) ([]*domain.Quiz, error) {
	return s.quizzes.ListByTeacher(ctx, teacherID)
}

// StudentQuizItem pairs a quiz visible to a student with the student's own
// attempt state, for the list read path.
type StudentQuizItem struct {
	Quiz       *domain.Quiz
	Submission *domain.Submission
	State      domain.SubmissionState
}

// ListForStudent returns quizzes assigned to the student's grade and center,
// each with the student's submission state resolved live.
func (s *DefinitionService) ListForStudent(ctx context.Context, studentID int64) ([]StudentQuizItem, error) {
	student, err := s.dir.Student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	quizzes, err := s.quizzes.ListForStudent(ctx, student.GradeID, student.CenterID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]StudentQuizItem, 0, len(quizzes))
	for _, quiz := range quizzes {
		item := StudentQuizItem{Quiz: quiz, State: domain.StateNotStarted}
		sub, err := s.subs.ByStudent(ctx, quiz.ID, studentID)
		switch {
		case err == nil:
			item.Submission = sub
			item.State = domain.StateOf(sub, quiz.TimerMinutes(), now)
		case err != domain.ErrSubmissionNotFound:
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// rescoreSubmitted recomputes scores of all submitted attempts in bulk.
func (s *DefinitionService) rescoreSubmitted(ctx context.Context, quiz *domain.Quiz) error {
	subs, err := s.subs.ListByQuiz(ctx, quiz.ID)
	if err != nil {
		return err
	}
	changed := make([]*domain.Submission, 0, len(subs))
	for _, sub := range subs {
		if !sub.IsSubmitted {
			continue
		}
		sub.Score = scoreSubmission(quiz, sub, s.logger.Printf)
		changed = append(changed, sub)
	}
	if len(changed) == 0 {
		return nil
	}
	if err := s.subs.SaveScores(ctx, changed); err != nil {
		return fmt.Errorf("rescore submissions: %w", err)
	}
	return nil
}

func (s *DefinitionService) invalidate(ctx context.Context, quizID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, quizID); err != nil {
		s.logger.Printf("invalidate quiz %d snapshot: %v", quizID, err)
	}
}

// checkDraft runs tag validation, the cross-field rules of the definition
// store contract, and the center-ownership check.
func (s *DefinitionService) checkDraft(ctx context.Context, teacherID int64, draft QuizDraft) error {
	if err := s.validate.Struct(draft); err != nil {
		verr := &domain.ValidationError{}
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.Add(fe.Namespace(), fmt.Sprintf("failed %q rule", fe.Tag()))
			}
			return verr
		}
		return err
	}

	verr := &domain.ValidationError{}

	owned, err := s.dir.CentersOwnedBy(ctx, teacherID)
	if err != nil {
		return err
	}
	ownedIDs := make(map[int64]bool, len(owned))
	for _, c := range owned {
		ownedIDs[c.ID] = true
	}

	seenCenters := make(map[int64]bool, len(draft.Windows))
	for i, w := range draft.Windows {
		field := fmt.Sprintf("centers[%d]", i)
		if !ownedIDs[w.CenterID] {
			verr.Add(field+".centerId", "center is not controlled by this teacher")
		}
		if seenCenters[w.CenterID] {
			verr.Add(field+".centerId", "center appears more than once")
		}
		seenCenters[w.CenterID] = true
		if !w.CloseAt.After(w.OpenAt) {
			verr.Add(field+".closeAt", "the close date must be after the open date")
		}
	}

	for i, q := range draft.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if q.Text == "" && q.ImageURL == "" {
			verr.Add(field, "a question must have either text or an image")
		}
		correct := 0
		for j, c := range q.Choices {
			if c.Text == "" && c.ImageURL == "" {
				verr.Add(fmt.Sprintf("%s.choices[%d]", field, j), "each choice must have either text or an image")
			}
			if c.IsCorrect {
				correct++
			}
		}
		if correct == 0 {
			verr.Add(field+".choices", "at least one choice must be marked as correct")
		}
		selection := q.SelectionType
		if selection == "" {
			selection = domain.SelectionSingle
		}
		if selection == domain.SelectionSingle && correct > 1 {
			verr.Add(field+".choices", "only one choice can be correct for a single-choice question")
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// draftToQuiz builds the desired-state tree. Position indices come from list
// order, reassigned on every save.
func draftToQuiz(teacherID, quizID int64, draft QuizDraft) *domain.Quiz {
	settings := &domain.QuizSettings{
		QuizID:            quizID,
		TimerMinutes:      draft.Settings.TimerMinutes,
		ScoreVisibility:   draft.Settings.ScoreVisibility,
		AnswersVisibility: draft.Settings.AnswersVisibility,
		QuestionOrder:     draft.Settings.QuestionOrder,
	}
	if settings.ScoreVisibility == "" {
		settings.ScoreVisibility = domain.VisibilityAfterClose
	}
	if settings.AnswersVisibility == "" {
		settings.AnswersVisibility = domain.VisibilityAfterClose
	}
	if settings.QuestionOrder == "" {
		settings.QuestionOrder = domain.OrderCreated
	}

	quiz := &domain.Quiz{
		ID:          quizID,
		Title:       draft.Title,
		Description: draft.Description,
		TeacherID:   teacherID,
		GradeID:     draft.GradeID,
		Settings:    settings,
	}
	for _, w := range draft.Windows {
		quiz.Windows = append(quiz.Windows, domain.QuizWindow{
			QuizID:   quizID,
			CenterID: w.CenterID,
			OpenAt:   w.OpenAt,
			CloseAt:  w.CloseAt,
		})
	}
	for i, q := range draft.Questions {
		selection := q.SelectionType
		if selection == "" {
			selection = domain.SelectionSingle
		}
		question := domain.Question{
			ID:            q.ID,
			QuizID:        quizID,
			SelectionType: selection,
			Text:          q.Text,
			ImageURL:      q.ImageURL,
			Points:        q.Points,
			Position:      i,
		}
		for _, c := range q.Choices {
			question.Choices = append(question.Choices, domain.Choice{
				ID:        c.ID,
				Text:      c.Text,
				ImageURL:  c.ImageURL,
				IsCorrect: c.IsCorrect,
			})
		}
		quiz.Questions = append(quiz.Questions, question)
	}
	return quiz
}
