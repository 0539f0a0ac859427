package http

import (
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

// windowView decorates a quiz window with its live status label.
type windowView struct {
	domain.QuizWindow
	Status domain.WindowStatus `json:"status"`
}

// quizView shadows the windows (and, for students, the questions) of the
// embedded quiz with decorated copies.
type quizView struct {
	*domain.Quiz
	Windows   []windowView      `json:"windows"`
	Questions []domain.Question `json:"questions,omitempty"`
}

func quizWithWindowStatus(quiz *domain.Quiz, now time.Time) quizView {
	windows := make([]windowView, 0, len(quiz.Windows))
	for _, w := range quiz.Windows {
		windows = append(windows, windowView{QuizWindow: w, Status: w.Status(now)})
	}
	return quizView{Quiz: quiz, Windows: windows, Questions: quiz.Questions}
}

// sanitizeQuestions strips the correct flags before questions reach a
// student. The zero flag is omitted from the JSON entirely.
func sanitizeQuestions(questions []domain.Question) []domain.Question {
	out := make([]domain.Question, len(questions))
	for i, q := range questions {
		out[i] = q
		out[i].Choices = make([]domain.Choice, len(q.Choices))
		for j, c := range q.Choices {
			c.IsCorrect = false
			out[i].Choices[j] = c
		}
	}
	return out
}

// studentQuizView is one quiz on a student's list, with their own attempt
// state attached.
type studentQuizView struct {
	quizView
	Status       string `json:"studentQuizStatus"` // not_started | in_progress | submitted
	SubmissionID *int64 `json:"submissionId,omitempty"`
}

func newStudentQuizView(item app.StudentQuizItem, now time.Time) studentQuizView {
	view := studentQuizView{
		quizView: quizWithWindowStatus(item.Quiz, now),
		Status:   studentStatusLabel(item.State),
	}
	// Question bodies are not part of the list payload.
	view.Questions = nil
	if item.Submission != nil && item.State.Finished() {
		id := item.Submission.ID
		view.SubmissionID = &id
	}
	return view
}

func studentStatusLabel(state domain.SubmissionState) string {
	switch state {
	case domain.StateInProgress:
		return "in_progress"
	case domain.StateSubmitted, domain.StateTimedOut:
		return "submitted"
	default:
		return "not_started"
	}
}

// answerView is one graded answer of a submission detail.
type answerView struct {
	ID                int64    `json:"id"`
	QuestionID        int64    `json:"questionId"`
	Position          int      `json:"order"`
	SelectedChoiceIDs []int64  `json:"selectedChoices"`
	IsCorrect         *bool    `json:"isCorrect,omitempty"`
	PointsEarned      *float64 `json:"pointsEarned,omitempty"`
}

// submissionDetail is the full read of one attempt. Teachers always see the
// score and graded answers; students only what the visibility rules expose.
// The released flags always report the effective visibility.
type submissionDetail struct {
	app.SubmissionOverview
	StudentID   int64        `json:"student"`
	StudentName string       `json:"studentName"`
	Answers     []answerView `json:"answers,omitempty"`
}

func newSubmissionDetail(quiz *domain.Quiz, student *domain.Student, sub *domain.Submission, asTeacher bool, now time.Time) submissionDetail {
	var window *domain.QuizWindow
	if student != nil {
		window = quiz.Window(student.CenterID)
	}
	overview := app.BuildOverview(quiz, window, sub, now)

	detail := submissionDetail{SubmissionOverview: overview}
	if student != nil {
		detail.StudentID = student.ID
		detail.StudentName = student.FullName
	}

	showScore := asTeacher || overview.ScoreVisible
	showAnswers := asTeacher || overview.AnswersVisible
	if !showScore {
		detail.Score = nil
	}
	if showAnswers {
		graded := overview.IsSubmitted
		detail.Answers = make([]answerView, 0, len(sub.Answers))
		for i := range sub.Answers {
			ans := &sub.Answers[i]
			view := answerView{
				ID:                ans.ID,
				QuestionID:        ans.QuestionID,
				Position:          ans.Position,
				SelectedChoiceIDs: append([]int64(nil), ans.SelectedChoiceIDs...),
			}
			if graded {
				correct := ans.IsCorrect
				earned := ans.PointsEarned
				view.IsCorrect = &correct
				view.PointsEarned = &earned
			}
			detail.Answers = append(detail.Answers, view)
		}
	}
	return detail
}
