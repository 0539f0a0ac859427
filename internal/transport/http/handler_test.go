package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
	"tutordesk/internal/infra/memory"
)

type fixture struct {
	store   *memory.Store
	server  *httptest.Server
	teacher int64
	student *domain.Student
	quiz    *domain.Quiz
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var teacherID int64 = 100
	grade := store.SeedGrade("Senior 2")
	center := store.SeedCenter(teacherID, "Downtown")
	student := store.SeedStudent(teacherID, "Alice Hassan", grade.ID, center.ID)

	quiz := &domain.Quiz{
		Title:     "Algebra check",
		TeacherID: teacherID,
		GradeID:   grade.ID,
		CreatedAt: now,
		Settings: &domain.QuizSettings{
			TimerMinutes:      10,
			ScoreVisibility:   domain.VisibilityImmediate,
			AnswersVisibility: domain.VisibilityManual,
			QuestionOrder:     domain.OrderCreated,
		},
		Windows: []domain.QuizWindow{
			{CenterID: center.ID, OpenAt: now.Add(-time.Hour), CloseAt: now.Add(time.Hour)},
		},
		Questions: []domain.Question{
			{
				Text:          "x + 1 = 3, x = ?",
				SelectionType: domain.SelectionSingle,
				Points:        10,
				Position:      0,
				Choices: []domain.Choice{
					{Text: "2", IsCorrect: true},
					{Text: "3"},
				},
			},
		},
	}
	if err := store.CreateQuiz(context.Background(), quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	feed := memory.NewRosterFeed()
	defs := app.NewDefinitionService(store, store, store,
		app.WithDefinitionFeed(feed), app.WithDefinitionClock(clock))
	subs := app.NewSubmissionService(store, store, store,
		app.WithFeed(feed), app.WithClock(clock))
	roster := app.NewRosterServiceWithClock(store, store, store, clock)

	handler := NewHandler(defs, subs, roster, feed, nil)
	handler.now = clock
	server := httptest.NewServer(handler.Mux())
	t.Cleanup(server.Close)

	return &fixture{
		store:   store,
		server:  server,
		teacher: teacherID,
		student: student,
		quiz:    quiz,
		now:     now,
	}
}

func (f *fixture) do(t *testing.T, method, path string, headers map[string]string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (f *fixture) asTeacher() map[string]string {
	return map[string]string{
		headerRole:      roleTeacher,
		headerTeacherID: strconv.FormatInt(f.teacher, 10),
	}
}

func (f *fixture) asStudent() map[string]string {
	return map[string]string{
		headerRole:      roleStudent,
		headerStudentID: strconv.FormatInt(f.student.ID, 10),
	}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStartSubmitAndScoreFlow(t *testing.T) {
	f := newFixture(t)
	base := fmt.Sprintf("/quizzes/%d", f.quiz.ID)

	resp := f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status %d", resp.StatusCode)
	}
	var receipt app.StartReceipt
	decodeBody(t, resp, &receipt)
	if receipt.SubmissionID == 0 {
		t.Fatalf("no submission id in receipt")
	}

	correct := f.quiz.Questions[0].Choices[0].ID
	resp = f.do(t, http.MethodPost, base+"/submissions", f.asStudent(), map[string]any{
		"answers": []map[string]any{
			{"questionId": f.quiz.Questions[0].ID, "selectedChoices": []int64{correct}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d", resp.StatusCode)
	}
	var confirmation app.SubmitConfirmation
	decodeBody(t, resp, &confirmation)
	if !confirmation.IsSubmitted || confirmation.Status != "on_time" {
		t.Fatalf("unexpected confirmation: %+v", confirmation)
	}

	// Score visibility is immediate: the student sees "10.0 / 10.0" at once.
	resp = f.do(t, http.MethodGet, base+"/submissions", f.asStudent(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own submission status %d", resp.StatusCode)
	}
	var detail struct {
		Score          *string `json:"score"`
		IsSubmitted    bool    `json:"isSubmitted"`
		AnswersVisible bool    `json:"areAnswersReleased"`
		Answers        []any   `json:"answers"`
	}
	decodeBody(t, resp, &detail)
	if !detail.IsSubmitted {
		t.Fatalf("expected submitted detail: %+v", detail)
	}
	if detail.Score == nil || *detail.Score != "10.0 / 10.0" {
		t.Fatalf("unexpected score: %v", detail.Score)
	}
	// Answers are manual and not released yet.
	if detail.AnswersVisible || len(detail.Answers) != 0 {
		t.Fatalf("answers leaked before release: %+v", detail)
	}
}

func TestSubmitTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	base := fmt.Sprintf("/quizzes/%d", f.quiz.ID)

	f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil).Body.Close()
	payload := map[string]any{"answers": []map[string]any{}}
	f.do(t, http.MethodPost, base+"/submissions", f.asStudent(), payload).Body.Close()

	resp := f.do(t, http.MethodPost, base+"/submissions", f.asStudent(), payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double submit, got %d", resp.StatusCode)
	}
}

func TestStudentQuestionsHideCorrectFlags(t *testing.T) {
	f := newFixture(t)
	base := fmt.Sprintf("/quizzes/%d", f.quiz.ID)

	f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil).Body.Close()

	resp := f.do(t, http.MethodGet, base+"/questions", f.asStudent(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("questions status %d", resp.StatusCode)
	}
	var questions []map[string]any
	decodeBody(t, resp, &questions)
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	choices := questions[0]["choices"].([]any)
	for _, c := range choices {
		if _, leaked := c.(map[string]any)["isCorrect"]; leaked {
			t.Fatalf("correct flag leaked to student: %v", c)
		}
	}
}

func TestQuestionsRequireStartedAttempt(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, fmt.Sprintf("/quizzes/%d/questions", f.quiz.ID), f.asStudent(), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before start, got %d", resp.StatusCode)
	}
}

func TestCreateQuizValidation(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/quizzes", f.asTeacher(), map[string]any{
		"title": "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body struct {
		Errors []domain.FieldError `json:"errors"`
	}
	decodeBody(t, resp, &body)
	if len(body.Errors) == 0 {
		t.Fatalf("expected field errors")
	}
}

func TestTeacherRosterListsEveryStudent(t *testing.T) {
	f := newFixture(t)
	// A second student in the audience who never starts.
	f.store.SeedStudent(f.teacher, "Bilal Omar", f.student.GradeID, f.student.CenterID)

	base := fmt.Sprintf("/quizzes/%d", f.quiz.ID)
	f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil).Body.Close()

	resp := f.do(t, http.MethodGet, base+"/submissions", f.asTeacher(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("roster status %d", resp.StatusCode)
	}
	var roster app.Roster
	decodeBody(t, resp, &roster)
	if len(roster.Rows) != 2 {
		t.Fatalf("expected 2 roster rows, got %d", len(roster.Rows))
	}
	// Started attempts sort before never-started students.
	if roster.Rows[0].SubmissionID == nil || roster.Rows[1].SubmissionID != nil {
		t.Fatalf("roster order wrong: %+v", roster.Rows)
	}
	if roster.Settings == nil {
		t.Fatalf("roster must include quiz settings")
	}
}

func TestReleaseFlow(t *testing.T) {
	f := newFixture(t)
	base := fmt.Sprintf("/quizzes/%d", f.quiz.ID)

	f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil).Body.Close()
	f.do(t, http.MethodPost, base+"/submissions", f.asStudent(), map[string]any{"answers": []map[string]any{}}).Body.Close()

	// Score is immediate mode: releasing it is rejected; answers are manual.
	on := true
	resp := f.do(t, http.MethodPost, base+"/release", f.asTeacher(), app.ReleaseRequest{Answers: &on})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release status %d", resp.StatusCode)
	}
	var result app.ReleaseResult
	decodeBody(t, resp, &result)
	if result.AnswersUpdated != 1 {
		t.Fatalf("expected 1 answer release, got %+v", result)
	}

	detailResp := f.do(t, http.MethodGet, base+"/submissions", f.asStudent(), nil)
	var detail struct {
		Answers []any `json:"answers"`
	}
	decodeBody(t, detailResp, &detail)
	if len(detail.Answers) == 0 {
		t.Fatalf("answers still hidden after release")
	}
}

func TestForeignTeacherCannotReadQuiz(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{headerRole: roleTeacher, headerTeacherID: "999"}
	resp := f.do(t, http.MethodGet, fmt.Sprintf("/quizzes/%d", f.quiz.ID), headers, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMissingIdentityRejected(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/quizzes", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestDeleteSubmissionAllowsRetake(t *testing.T) {
	f := newFixture(t)
	base := fmt.Sprintf("/quizzes/%d", f.quiz.ID)

	f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil).Body.Close()
	f.do(t, http.MethodPost, base+"/submissions", f.asStudent(), map[string]any{"answers": []map[string]any{}}).Body.Close()

	var receipt app.StartReceipt
	resp := f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil)
	decodeBody(t, resp, &receipt)

	del := f.do(t, http.MethodDelete, fmt.Sprintf("%s/submissions/%d", base, receipt.SubmissionID), f.asTeacher(), nil)
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", del.StatusCode)
	}

	resp = f.do(t, http.MethodPost, base+"/start", f.asStudent(), nil)
	var fresh app.StartReceipt
	decodeBody(t, resp, &fresh)
	if fresh.SubmissionID == receipt.SubmissionID {
		t.Fatalf("expected a fresh attempt after delete")
	}
}
