package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"tutordesk/internal/domain"
)

// AnswerPayload is one question's selections as submitted by a student.
type AnswerPayload struct {
	QuestionID        int64   `json:"questionId"`
	SelectedChoiceIDs []int64 `json:"selectedChoices"`
}

// StartReceipt confirms a started attempt with its authoritative start time.
type StartReceipt struct {
	SubmissionID int64     `json:"submissionId"`
	StartTime    time.Time `json:"startTime"`
}

// SubmitConfirmation reports the finalized attempt back to the student.
type SubmitConfirmation struct {
	SubmissionID int64     `json:"id"`
	EndTime      time.Time `json:"endTime"`
	IsSubmitted  bool      `json:"isSubmitted"`
	Status       string    `json:"submissionStatus"` // on_time | late
}

// Availability answers a student's pre-start check.
type Availability struct {
	Available bool       `json:"available"`
	Reason    string     `json:"reason,omitempty"`
	OpenAt    *time.Time `json:"openAt,omitempty"`
	CloseAt   *time.Time `json:"closeAt,omitempty"`
}

// ReleaseRequest asks to toggle the manual release flags for a whole quiz.
// A nil field leaves that side untouched.
type ReleaseRequest struct {
	Score   *bool `json:"releaseScore,omitempty"`
	Answers *bool `json:"releaseAnswers,omitempty"`
}

// ReleaseResult reports, per field, how many submissions were updated. Fields
// whose visibility mode is not manual are reported as zero updated.
type ReleaseResult struct {
	Detail         string `json:"detail"`
	ScoreUpdated   int    `json:"scoreUpdated"`
	AnswersUpdated int    `json:"answersUpdated"`
}

// SubmissionService runs the per-student attempt state machine:
// start, answer replacement, finalize, and lazy timeout detection.
type SubmissionService struct {
	quizzes QuizReader
	subs    SubmissionStore
	dir     Directory
	feed    RosterFeed
	logger  *log.Logger
	now     func() time.Time
	perm    func(n int) []int
}

func NewSubmissionService(quizzes QuizReader, subs SubmissionStore, dir Directory, opts ...SubmissionOption) *SubmissionService {
	s := &SubmissionService{
		quizzes: quizzes,
		subs:    subs,
		dir:     dir,
		logger:  log.Default(),
		now:     time.Now,
		perm:    rand.Perm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubmissionOption func(*SubmissionService)

// WithFeed wires the live roster feed to be notified on submission activity.
func WithFeed(feed RosterFeed) SubmissionOption {
	return func(s *SubmissionService) { s.feed = feed }
}

func WithLogger(logger *log.Logger) SubmissionOption {
	return func(s *SubmissionService) { s.logger = logger }
}

// WithClock makes timestamps deterministic in tests.
func WithClock(now func() time.Time) SubmissionOption {
	return func(s *SubmissionService) { s.now = now }
}

// WithShuffle overrides the question permutation source.
func WithShuffle(perm func(n int) []int) SubmissionOption {
	return func(s *SubmissionService) { s.perm = perm }
}

// Start opens (or re-reads) the student's attempt. Permitted only while the
// window for the student's own center is open and the grades match. The first
// call materializes one answer stub per question in presentation order, fixed
// once; repeated calls return the stored start time without re-shuffling.
func (s *SubmissionService) Start(ctx context.Context, quizID, studentID int64) (StartReceipt, error) {
	student, err := s.dir.Student(ctx, studentID)
	if err != nil {
		return StartReceipt{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return StartReceipt{}, err
	}

	now := s.now()
	if quiz.GradeID != student.GradeID {
		return StartReceipt{}, domain.ErrNotEligible
	}
	window := quiz.Window(student.CenterID)
	if window == nil || !window.IsOpen(now) {
		return StartReceipt{}, domain.ErrNotEligible
	}
	if quiz.Settings == nil {
		return StartReceipt{}, domain.ErrMissingSettings
	}

	order := make([]int, len(quiz.Questions))
	for i := range order {
		order[i] = i
	}
	if quiz.Settings.QuestionOrder == domain.OrderRandom {
		order = s.perm(len(quiz.Questions))
	}
	stubs := make([]domain.Answer, len(order))
	for position, questionIdx := range order {
		stubs[position] = domain.Answer{
			QuestionID: quiz.Questions[questionIdx].ID,
			Position:   position,
		}
	}

	sub := &domain.Submission{QuizID: quizID, StudentID: studentID, StartTime: &now}
	sub, created, err := s.subs.Start(ctx, sub, stubs)
	if err != nil {
		return StartReceipt{}, fmt.Errorf("start attempt: %w", err)
	}
	if created && s.feed != nil {
		s.feed.Notify(quizID)
	}
	if sub.StartTime == nil {
		return StartReceipt{}, fmt.Errorf("attempt %d has no start time", sub.ID)
	}
	return StartReceipt{SubmissionID: sub.ID, StartTime: *sub.StartTime}, nil
}

// SubmitAnswers replaces the attempt's selections with the submitted set and
// finalizes it. The first submit observed after the deadline instead
// auto-finalizes the attempt with a zero score (keeping is_submitted false)
// and reports the same conflict as a double submission.
func (s *SubmissionService) SubmitAnswers(ctx context.Context, quizID, studentID int64, answers []AnswerPayload) (SubmitConfirmation, error) {
	sub, err := s.subs.ByStudent(ctx, quizID, studentID)
	if err == domain.ErrSubmissionNotFound {
		return SubmitConfirmation{}, domain.ErrNotStarted
	}
	if err != nil {
		return SubmitConfirmation{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return SubmitConfirmation{}, err
	}

	now := s.now()
	timer := quiz.TimerMinutes()
	switch domain.StateOf(sub, timer, now) {
	case domain.StateNotStarted:
		return SubmitConfirmation{}, domain.ErrNotStarted
	case domain.StateSubmitted:
		return SubmitConfirmation{}, domain.ErrAlreadyFinished
	case domain.StateTimedOut:
		if sub.EndTime == nil {
			end, ok := domain.NominalEnd(*sub.StartTime, timer)
			if !ok {
				end = now
			}
			finalized, ferr := s.subs.FinalizeTimeout(ctx, sub.ID, end)
			if ferr != nil {
				return SubmitConfirmation{}, fmt.Errorf("finalize timed-out attempt: %w", ferr)
			}
			if finalized && s.feed != nil {
				s.feed.Notify(quizID)
			}
		}
		return SubmitConfirmation{}, domain.ErrAlreadyFinished
	}

	selections, err := validateAnswers(quiz, sub, answers)
	if err != nil {
		return SubmitConfirmation{}, err
	}

	// Replacement semantics: every prior selection goes away, only the
	// submitted set remains. Applies to the in-memory answers before scoring
	// and, through the store, to the persisted rows.
	for i := range sub.Answers {
		sub.Answers[i].SelectedChoiceIDs = selections[sub.Answers[i].ID]
	}

	sub.EndTime = &now
	sub.IsSubmitted = true
	sub.Score = scoreSubmission(quiz, sub, s.logger.Printf)

	if err := s.subs.FinalizeSubmit(ctx, sub, selections); err != nil {
		return SubmitConfirmation{}, fmt.Errorf("finalize attempt: %w", err)
	}
	if s.feed != nil {
		s.feed.Notify(quizID)
	}

	return SubmitConfirmation{
		SubmissionID: sub.ID,
		EndTime:      now,
		IsSubmitted:  true,
		Status:       Timing(sub, timer, now),
	}, nil
}

// validateAnswers checks the payload against the submission's own answer set
// and maps it to selections keyed by answer id. A partial set is fine; a
// question outside the submission, a duplicate, an empty selection, more than
// one choice on a single-selection question, or a choice from another
// question is not.
func validateAnswers(quiz *domain.Quiz, sub *domain.Submission, answers []AnswerPayload) (map[int64][]int64, error) {
	questions := make(map[int64]*domain.Question, len(quiz.Questions))
	for i := range quiz.Questions {
		questions[quiz.Questions[i].ID] = &quiz.Questions[i]
	}

	verr := &domain.ValidationError{}
	selections := make(map[int64][]int64, len(answers))
	seen := make(map[int64]bool, len(answers))

	for i, payload := range answers {
		field := fmt.Sprintf("answers[%d]", i)
		ans := sub.AnswerFor(payload.QuestionID)
		if ans == nil {
			verr.Add(field+".questionId", "one or more submitted answers do not belong to this quiz")
			continue
		}
		if seen[payload.QuestionID] {
			verr.Add(field+".questionId", "question answered more than once")
			continue
		}
		seen[payload.QuestionID] = true

		if len(payload.SelectedChoiceIDs) == 0 {
			verr.Add(field+".selectedChoices", "at least one choice must be selected")
			continue
		}
		question := questions[payload.QuestionID]
		if question == nil {
			verr.Add(field+".questionId", "question no longer exists")
			continue
		}
		if question.SelectionType == domain.SelectionSingle && len(payload.SelectedChoiceIDs) > 1 {
			verr.Add(field+".selectedChoices", "only one choice can be selected for this question")
			continue
		}
		valid := make(map[int64]bool, len(question.Choices))
		for j := range question.Choices {
			valid[question.Choices[j].ID] = true
		}
		ok := true
		for _, choiceID := range payload.SelectedChoiceIDs {
			if !valid[choiceID] {
				verr.Add(field+".selectedChoices", "one or more selected choices do not belong to this question")
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		selections[ans.ID] = payload.SelectedChoiceIDs
	}

	if !verr.Empty() {
		return nil, verr
	}
	return selections, nil
}

// QuestionsForStudent returns the quiz's questions in the order they were
// presented to this student, with correct-answer flags stripped by the
// transport layer. Blocked before start and after finishing.
func (s *SubmissionService) QuestionsForStudent(ctx context.Context, quizID, studentID int64) ([]domain.Question, error) {
	sub, err := s.subs.ByStudent(ctx, quizID, studentID)
	if err == domain.ErrSubmissionNotFound {
		return nil, domain.ErrNotStarted
	}
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	switch domain.StateOf(sub, quiz.TimerMinutes(), s.now()) {
	case domain.StateNotStarted:
		return nil, domain.ErrNotStarted
	case domain.StateSubmitted, domain.StateTimedOut:
		return nil, domain.ErrAlreadyFinished
	}

	byID := make(map[int64]*domain.Question, len(quiz.Questions))
	for i := range quiz.Questions {
		byID[quiz.Questions[i].ID] = &quiz.Questions[i]
	}
	ordered := make([]domain.Question, 0, len(sub.Answers))
	for _, ans := range sub.Answers {
		if q, ok := byID[ans.QuestionID]; ok {
			ordered = append(ordered, *q)
		}
	}
	return ordered, nil
}

// CheckAvailability answers the student's pre-start probe with a reason when
// the quiz cannot be taken right now.
func (s *SubmissionService) CheckAvailability(ctx context.Context, quizID, studentID int64) (Availability, error) {
	student, err := s.dir.Student(ctx, studentID)
	if err != nil {
		return Availability{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Availability{}, err
	}

	if quiz.GradeID != student.GradeID {
		return Availability{Reason: "Not available for your grade"}, nil
	}
	window := quiz.Window(student.CenterID)
	if window == nil {
		return Availability{Reason: "Not available for your center"}, nil
	}

	now := s.now()
	if now.Before(window.OpenAt) {
		return Availability{Reason: "Quiz opens at " + window.OpenAt.Format("2 January, 3:04 PM")}, nil
	}
	if now.After(window.CloseAt) {
		return Availability{Reason: "Quiz closed at " + window.CloseAt.Format("2 January, 3:04 PM")}, nil
	}

	sub, err := s.subs.ByStudent(ctx, quizID, studentID)
	if err != nil && err != domain.ErrSubmissionNotFound {
		return Availability{}, err
	}
	if sub != nil && sub.IsSubmitted {
		return Availability{Reason: "You already submitted this quiz"}, nil
	}

	return Availability{Available: true, OpenAt: &window.OpenAt, CloseAt: &window.CloseAt}, nil
}

// StudentSubmission returns the student's own attempt with quiz context, for
// the student-facing submission list/detail paths.
func (s *SubmissionService) StudentSubmission(ctx context.Context, quizID, studentID int64) (*domain.Submission, *domain.Quiz, *domain.Student, error) {
	sub, err := s.subs.ByStudent(ctx, quizID, studentID)
	if err != nil {
		return nil, nil, nil, err
	}
	return s.withContext(ctx, sub)
}

// Submission loads one attempt by id with quiz and student context, for the
// teacher/assistant detail path and the student detail path.
func (s *SubmissionService) Submission(ctx context.Context, quizID, submissionID int64) (*domain.Submission, *domain.Quiz, *domain.Student, error) {
	sub, err := s.subs.ByID(ctx, quizID, submissionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return s.withContext(ctx, sub)
}

func (s *SubmissionService) withContext(ctx context.Context, sub *domain.Submission) (*domain.Submission, *domain.Quiz, *domain.Student, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, sub.QuizID)
	if err != nil {
		return nil, nil, nil, err
	}
	student, err := s.dir.Student(ctx, sub.StudentID)
	if err != nil {
		return nil, nil, nil, err
	}
	return sub, quiz, student, nil
}

// Delete discards an attempt and all its answers so the student can retake
// the quiz. Teacher/assistant only; ownership is checked by the caller.
func (s *SubmissionService) Delete(ctx context.Context, quizID, submissionID int64) error {
	sub, err := s.subs.ByID(ctx, quizID, submissionID)
	if err != nil {
		return err
	}
	if err := s.subs.Delete(ctx, sub.ID); err != nil {
		return err
	}
	if s.feed != nil {
		s.feed.Notify(quizID)
	}
	return nil
}

// ReleaseAll toggles the manual release flags across every submitted attempt
// of the quiz. Fields whose visibility mode is not manual are skipped and
// reported as zero updated; when no targeted field is eligible the request is
// a conflict.
func (s *SubmissionService) ReleaseAll(ctx context.Context, quizID int64, req ReleaseRequest) (ReleaseResult, error) {
	if req.Score == nil && req.Answers == nil {
		return ReleaseResult{}, domain.Invalid("releaseScore", "you must specify to release either scores or answers")
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if quiz.Settings == nil {
		return ReleaseResult{}, domain.ErrMissingSettings
	}

	var score, answers *bool
	if req.Score != nil && quiz.Settings.ScoreVisibility == domain.VisibilityManual {
		score = req.Score
	}
	if req.Answers != nil && quiz.Settings.AnswersVisibility == domain.VisibilityManual {
		answers = req.Answers
	}
	if score == nil && answers == nil {
		return ReleaseResult{}, domain.ErrNoManualMode
	}

	updated, err := s.subs.Release(ctx, quizID, score, answers)
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("release submissions: %w", err)
	}

	result := ReleaseResult{}
	var actions []string
	if score != nil {
		result.ScoreUpdated = updated
		actions = append(actions, "scores "+releaseWord(*score))
	}
	if answers != nil {
		result.AnswersUpdated = updated
		actions = append(actions, "answers "+releaseWord(*answers))
	}
	result.Detail = fmt.Sprintf("Successfully updated %d submissions: %s.", updated, joinActions(actions))
	if s.feed != nil {
		s.feed.Notify(quizID)
	}
	return result, nil
}

func releaseWord(released bool) string {
	if released {
		return "released"
	}
	return "retracted"
}

func joinActions(actions []string) string {
	switch len(actions) {
	case 0:
		return ""
	case 1:
		return actions[0]
	default:
		return actions[0] + ", " + actions[1]
	}
}
