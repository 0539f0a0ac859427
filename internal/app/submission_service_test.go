package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

func TestStartIsIdempotent(t *testing.T) {
	e := newEnv(t, defaultSettings())

	first := e.start(t)
	e.now = e.now.Add(3 * time.Minute)
	second := e.start(t)

	if first.SubmissionID != second.SubmissionID {
		t.Fatalf("second start created a new attempt")
	}
	if !second.StartTime.Equal(first.StartTime) {
		t.Fatalf("start time moved: %v vs %v", second.StartTime, first.StartTime)
	}
}

func TestStartRejectsOutsideAudience(t *testing.T) {
	e := newEnv(t, defaultSettings())
	ctx := context.Background()

	otherGrade := e.store.SeedGrade("Senior 3")
	outsider := e.store.SeedStudent(e.teacherID, "Karim Adel", otherGrade.ID, e.center.ID)
	if _, err := e.subs.Start(ctx, e.quiz.ID, outsider.ID); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("wrong grade: expected ErrNotEligible, got %v", err)
	}

	otherCenter := e.store.SeedCenter(e.teacherID, "Uptown")
	elsewhere := e.store.SeedStudent(e.teacherID, "Nour Samir", e.grade.ID, otherCenter.ID)
	if _, err := e.subs.Start(ctx, e.quiz.ID, elsewhere.ID); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("wrong center: expected ErrNotEligible, got %v", err)
	}

	e.now = e.quiz.Windows[0].CloseAt.Add(time.Minute)
	if _, err := e.subs.Start(ctx, e.quiz.ID, e.student.ID); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("closed window: expected ErrNotEligible, got %v", err)
	}
}

func TestRandomOrderFixedAtStart(t *testing.T) {
	settings := defaultSettings()
	settings.QuestionOrder = domain.OrderRandom
	e := newEnv(t, settings)

	// Deterministic "shuffle": reverse order.
	reversed := app.NewSubmissionService(e.store, e.store, e.store,
		app.WithClock(e.clock),
		app.WithShuffle(func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = n - 1 - i
			}
			return out
		}))

	if _, err := reversed.Start(context.Background(), e.quiz.ID, e.student.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	questions, err := reversed.QuestionsForStudent(context.Background(), e.quiz.ID, e.student.ID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if questions[0].ID != e.question(t, 1) || questions[1].ID != e.question(t, 0) {
		t.Fatalf("expected reversed presentation order")
	}

	// Re-reads keep the stored order even if the shuffle would differ now.
	again, err := reversed.QuestionsForStudent(context.Background(), e.quiz.ID, e.student.ID)
	if err != nil {
		t.Fatalf("questions again: %v", err)
	}
	if again[0].ID != questions[0].ID {
		t.Fatalf("presentation order changed between reads")
	}
}

func TestScoringFullMarks(t *testing.T) {
	e := newEnv(t, defaultSettings())
	e.start(t)

	confirmation := e.submit(t, []app.AnswerPayload{
		{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 0, "3/4")}},
		{QuestionID: e.question(t, 1), SelectedChoiceIDs: []int64{e.choice(t, 1, "2"), e.choice(t, 1, "4")}},
	})
	if !confirmation.IsSubmitted || confirmation.Status != "on_time" {
		t.Fatalf("unexpected confirmation: %+v", confirmation)
	}

	sub := e.storedSubmission(t)
	if sub.Score != 20 {
		t.Fatalf("score = %v, want 20", sub.Score)
	}
	for _, ans := range sub.Answers {
		if !ans.IsCorrect {
			t.Fatalf("answer %d not marked correct", ans.ID)
		}
	}
}

func TestScoringWrongSingleChoiceFloorsAtZero(t *testing.T) {
	e := newEnv(t, defaultSettings())
	e.start(t)

	e.submit(t, []app.AnswerPayload{
		{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 0, "2/6")}},
	})

	sub := e.storedSubmission(t)
	if sub.Score != 0 {
		t.Fatalf("score = %v, want 0", sub.Score)
	}
	ans := sub.AnswerFor(e.question(t, 0))
	if ans.IsCorrect || ans.PointsEarned != 0 {
		t.Fatalf("wrong answer graded as %+v", ans)
	}
}

func TestScoringPartialCredit(t *testing.T) {
	e := newEnv(t, defaultSettings())
	e.start(t)

	// Multi-choice, 2 correct of 3. One correct selection: (1/2)*10 = 5.
	e.submit(t, []app.AnswerPayload{
		{QuestionID: e.question(t, 1), SelectedChoiceIDs: []int64{e.choice(t, 1, "2")}},
	})
	sub := e.storedSubmission(t)
	ans := sub.AnswerFor(e.question(t, 1))
	if ans.PointsEarned != 5 {
		t.Fatalf("partial credit = %v, want 5", ans.PointsEarned)
	}
	if ans.IsCorrect {
		t.Fatalf("partial answer must not be marked correct")
	}
}

func TestScoringPenalizesWrongSelections(t *testing.T) {
	e := newEnv(t, defaultSettings())
	e.start(t)

	// Both correct plus the wrong one: 10 - (1/2)*10 = 5.
	e.submit(t, []app.AnswerPayload{
		{QuestionID: e.question(t, 1), SelectedChoiceIDs: []int64{
			e.choice(t, 1, "2"), e.choice(t, 1, "4"), e.choice(t, 1, "3"),
		}},
	})
	sub := e.storedSubmission(t)
	ans := sub.AnswerFor(e.question(t, 1))
	if ans.PointsEarned != 5 {
		t.Fatalf("penalized credit = %v, want 5", ans.PointsEarned)
	}
	if ans.IsCorrect {
		t.Fatalf("answer with a wrong selection must not be marked correct")
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, defaultSettings())
	e.start(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		answers []app.AnswerPayload
	}{
		{"foreign question", []app.AnswerPayload{{QuestionID: 9999, SelectedChoiceIDs: []int64{1}}}},
		{"duplicate question", []app.AnswerPayload{
			{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 0, "3/4")}},
			{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 0, "2/6")}},
		}},
		{"empty selection", []app.AnswerPayload{{QuestionID: e.question(t, 0)}}},
		{"multiple on single", []app.AnswerPayload{
			{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 0, "3/4"), e.choice(t, 0, "2/6")}},
		}},
		{"choice of another question", []app.AnswerPayload{
			{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 1, "2")}},
		}},
	}
	for _, tc := range cases {
		_, err := e.subs.SubmitAnswers(ctx, e.quiz.ID, e.student.ID, tc.answers)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}

	// Failed validations leave the attempt open.
	sub := e.storedSubmission(t)
	if sub.IsSubmitted || sub.EndTime != nil {
		t.Fatalf("failed submit finalized the attempt: %+v", sub)
	}
}

func TestSubmitTwiceConflicts(t *testing.T) {
	e := newEnv(t, defaultSettings())
	e.start(t)
	e.submit(t, nil)

	_, err := e.subs.SubmitAnswers(context.Background(), e.quiz.ID, e.student.ID, nil)
	if !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestSubmitWithoutStartConflicts(t *testing.T) {
	e := newEnv(t, defaultSettings())
	_, err := e.subs.SubmitAnswers(context.Background(), e.quiz.ID, e.student.ID, nil)
	if !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestLateSubmitAutoFinalizes(t *testing.T) {
	e := newEnv(t, defaultSettings())
	receipt := e.start(t)

	// Past timer + grace: the submit is rejected and the attempt is
	// finalized at its nominal end with a zero score.
	e.now = receipt.StartTime.Add(10*time.Minute + domain.GracePeriod + time.Second)
	_, err := e.subs.SubmitAnswers(context.Background(), e.quiz.ID, e.student.ID, []app.AnswerPayload{
		{QuestionID: e.question(t, 0), SelectedChoiceIDs: []int64{e.choice(t, 0, "3/4")}},
	})
	if !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}

	sub := e.storedSubmission(t)
	if sub.IsSubmitted {
		t.Fatalf("timed-out attempt must not be submitted")
	}
	wantEnd := receipt.StartTime.Add(10 * time.Minute)
	if sub.EndTime == nil || !sub.EndTime.Equal(wantEnd) {
		t.Fatalf("end time = %v, want %v", sub.EndTime, wantEnd)
	}
	if sub.Score != 0 {
		t.Fatalf("timed-out score = %v, want 0", sub.Score)
	}

	// The finalized end time never moves.
	e.now = e.now.Add(time.Hour)
	_, err = e.subs.SubmitAnswers(context.Background(), e.quiz.ID, e.student.ID, nil)
	if !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
	again := e.storedSubmission(t)
	if !again.EndTime.Equal(wantEnd) {
		t.Fatalf("end time moved to %v", again.EndTime)
	}
}

func TestSubmitWithinGraceIsOnTime(t *testing.T) {
	e := newEnv(t, defaultSettings())
	receipt := e.start(t)

	e.now = receipt.StartTime.Add(10*time.Minute + 30*time.Second)
	confirmation := e.submit(t, nil)
	if confirmation.Status != "on_time" {
		t.Fatalf("status = %q, want on_time", confirmation.Status)
	}
}

func TestCheckAvailability(t *testing.T) {
	e := newEnv(t, defaultSettings())
	ctx := context.Background()

	avail, err := e.subs.CheckAvailability(ctx, e.quiz.ID, e.student.ID)
	if err != nil || !avail.Available {
		t.Fatalf("expected available, got %+v err=%v", avail, err)
	}

	e.now = e.quiz.Windows[0].OpenAt.Add(-time.Hour)
	avail, _ = e.subs.CheckAvailability(ctx, e.quiz.ID, e.student.ID)
	if avail.Available || avail.Reason == "" {
		t.Fatalf("expected not-open reason, got %+v", avail)
	}

	e.now = testStart
	e.start(t)
	e.submit(t, nil)
	avail, _ = e.subs.CheckAvailability(ctx, e.quiz.ID, e.student.ID)
	if avail.Available || avail.Reason != "You already submitted this quiz" {
		t.Fatalf("expected already-submitted reason, got %+v", avail)
	}
}

func TestReleaseAll(t *testing.T) {
	settings := defaultSettings()
	settings.ScoreVisibility = domain.VisibilityManual
	settings.AnswersVisibility = domain.VisibilityAfterClose
	e := newEnv(t, settings)
	ctx := context.Background()

	e.start(t)
	e.submit(t, nil)

	on := true
	result, err := e.subs.ReleaseAll(ctx, e.quiz.ID, app.ReleaseRequest{Score: &on, Answers: &on})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	// Score is manual and gets released; answers are after_close and skipped.
	if result.ScoreUpdated != 1 || result.AnswersUpdated != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Detail != "Successfully updated 1 submissions: scores released." {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}

	sub := e.storedSubmission(t)
	if !sub.ScoreReleased || sub.AnswersReleased {
		t.Fatalf("release flags wrong: %+v", sub)
	}

	// Retract.
	off := false
	result, err = e.subs.ReleaseAll(ctx, e.quiz.ID, app.ReleaseRequest{Score: &off})
	if err != nil || result.Detail != "Successfully updated 1 submissions: scores retracted." {
		t.Fatalf("retract: %+v err=%v", result, err)
	}

	// Answers alone: no manual mode to serve it.
	if _, err := e.subs.ReleaseAll(ctx, e.quiz.ID, app.ReleaseRequest{Answers: &on}); !errors.Is(err, domain.ErrNoManualMode) {
		t.Fatalf("expected ErrNoManualMode, got %v", err)
	}

	// Neither flag given.
	var verr *domain.ValidationError
	if _, err := e.subs.ReleaseAll(ctx, e.quiz.ID, app.ReleaseRequest{}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
