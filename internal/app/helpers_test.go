package app_test

import (
	"context"
	"testing"
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
	"tutordesk/internal/infra/memory"
)

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// env wires the services over the in-memory store with a mutable clock.
type env struct {
	store  *memory.Store
	feed   *memory.RosterFeed
	defs   *app.DefinitionService
	subs   *app.SubmissionService
	roster *app.RosterService

	teacherID int64
	grade     *domain.Grade
	center    *domain.Center
	student   *domain.Student
	quiz      *domain.Quiz

	now time.Time
}

func (e *env) clock() time.Time { return e.now }

// newEnv seeds one teacher, one grade/center/student and a two-question quiz:
// q1 single-choice worth 10, q2 multi-choice (two correct of three) worth 10.
func newEnv(t *testing.T, settings domain.QuizSettings) *env {
	t.Helper()
	e := &env{store: memory.NewStore(), feed: memory.NewRosterFeed(), teacherID: 100, now: testStart}

	e.grade = e.store.SeedGrade("Senior 2")
	e.center = e.store.SeedCenter(e.teacherID, "Downtown")
	e.student = e.store.SeedStudent(e.teacherID, "Alice Hassan", e.grade.ID, e.center.ID)

	e.quiz = &domain.Quiz{
		Title:     "Fractions check",
		TeacherID: e.teacherID,
		GradeID:   e.grade.ID,
		CreatedAt: testStart,
		Settings:  &settings,
		Windows: []domain.QuizWindow{
			{CenterID: e.center.ID, OpenAt: testStart.Add(-time.Hour), CloseAt: testStart.Add(time.Hour)},
		},
		Questions: []domain.Question{
			{
				Text:          "What is 1/2 + 1/4?",
				SelectionType: domain.SelectionSingle,
				Points:        10,
				Position:      0,
				Choices: []domain.Choice{
					{Text: "3/4", IsCorrect: true},
					{Text: "2/6"},
				},
			},
			{
				Text:          "Which are even?",
				SelectionType: domain.SelectionMultiple,
				Points:        10,
				Position:      1,
				Choices: []domain.Choice{
					{Text: "2", IsCorrect: true},
					{Text: "3"},
					{Text: "4", IsCorrect: true},
				},
			},
		},
	}
	if err := e.store.CreateQuiz(context.Background(), e.quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	e.defs = app.NewDefinitionService(e.store, e.store, e.store,
		app.WithDefinitionFeed(e.feed), app.WithDefinitionClock(e.clock))
	e.subs = app.NewSubmissionService(e.store, e.store, e.store,
		app.WithFeed(e.feed), app.WithClock(e.clock))
	e.roster = app.NewRosterServiceWithClock(e.store, e.store, e.store, e.clock)
	return e
}

func defaultSettings() domain.QuizSettings {
	return domain.QuizSettings{
		TimerMinutes:      10,
		ScoreVisibility:   domain.VisibilityImmediate,
		AnswersVisibility: domain.VisibilityImmediate,
		QuestionOrder:     domain.OrderCreated,
	}
}

// choice looks up a choice id by question position and choice text.
func (e *env) choice(t *testing.T, questionIdx int, text string) int64 {
	t.Helper()
	quiz, err := e.store.GetQuiz(context.Background(), e.quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	for _, c := range quiz.Questions[questionIdx].Choices {
		if c.Text == text {
			return c.ID
		}
	}
	t.Fatalf("no choice %q on question %d", text, questionIdx)
	return 0
}

func (e *env) question(t *testing.T, idx int) int64 {
	t.Helper()
	quiz, err := e.store.GetQuiz(context.Background(), e.quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	return quiz.Questions[idx].ID
}

func (e *env) start(t *testing.T) app.StartReceipt {
	t.Helper()
	receipt, err := e.subs.Start(context.Background(), e.quiz.ID, e.student.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return receipt
}

func (e *env) submit(t *testing.T, answers []app.AnswerPayload) app.SubmitConfirmation {
	t.Helper()
	confirmation, err := e.subs.SubmitAnswers(context.Background(), e.quiz.ID, e.student.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return confirmation
}

func (e *env) storedSubmission(t *testing.T) *domain.Submission {
	t.Helper()
	sub, err := e.store.ByStudent(context.Background(), e.quiz.ID, e.student.ID)
	if err != nil {
		t.Fatalf("by student: %v", err)
	}
	return sub
}
