package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// SelectionType controls how many choices of a question may be marked correct
// and how many a student may select.
type SelectionType string

const (
	SelectionSingle   SelectionType = "single"
	SelectionMultiple SelectionType = "multiple"
)

// VisibilityMode governs when a finished submission's score or answers become
// visible to the student.
type VisibilityMode string

const (
	VisibilityImmediate  VisibilityMode = "immediate"
	VisibilityAfterClose VisibilityMode = "after_close"
	VisibilityManual     VisibilityMode = "manual"
)

// QuestionOrdering selects how questions are presented to a student.
type QuestionOrdering string

const (
	OrderCreated QuestionOrdering = "created"
	OrderRandom  QuestionOrdering = "random"
)

// MaxTimerMinutes caps the quiz timer at one day.
const MaxTimerMinutes = 1440

// Grade is a teaching level (e.g. "Senior 2") owned by the surrounding system.
type Grade struct {
	bun.BaseModel `bun:"table:grades"`

	ID   int64  `bun:"id,pk,autoincrement" json:"id"`
	Name string `bun:"name,notnull" json:"name"`
}

// Center is a physical teaching location. Centers are private per teacher.
type Center struct {
	bun.BaseModel `bun:"table:centers"`

	ID        int64  `bun:"id,pk,autoincrement" json:"id"`
	TeacherID int64  `bun:"teacher_id,notnull" json:"teacherId"`
	Name      string `bun:"name,notnull" json:"name"`
}

// Student is the enrolled-student profile the quiz core reads; account
// management lives outside this service.
type Student struct {
	bun.BaseModel `bun:"table:students"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	TeacherID   int64  `bun:"teacher_id,notnull" json:"teacherId"`
	FullName    string `bun:"full_name,notnull" json:"fullName"`
	PhoneNumber string `bun:"phone_number" json:"phoneNumber"`
	ParentPhone string `bun:"parent_phone" json:"parentPhoneNumber"`
	GradeID     int64  `bun:"grade_id,notnull" json:"gradeId"`
	CenterID    int64  `bun:"center_id,notnull" json:"centerId"`

	Center *Center `bun:"rel:belongs-to,join:center_id=id" json:"center,omitempty"`
	Grade  *Grade  `bun:"rel:belongs-to,join:grade_id=id" json:"grade,omitempty"`
}

// Quiz is the definition-store aggregate: settings, per-center windows and the
// ordered question/choice tree are created and updated with it as one unit.
type Quiz struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description string    `bun:"description" json:"description"`
	TeacherID   int64     `bun:"teacher_id,notnull" json:"teacherId"`
	GradeID     int64     `bun:"grade_id,notnull" json:"gradeId"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`

	Settings  *QuizSettings `bun:"rel:has-one,join:id=quiz_id" json:"settings,omitempty"`
	Windows   []QuizWindow  `bun:"rel:has-many,join:id=quiz_id" json:"windows,omitempty"`
	Questions []Question    `bun:"rel:has-many,join:id=quiz_id" json:"questions,omitempty"`
}

// Window returns the quiz's window for the given center, or nil when the
// center is not assigned.
func (q *Quiz) Window(centerID int64) *QuizWindow {
	for i := range q.Windows {
		if q.Windows[i].CenterID == centerID {
			return &q.Windows[i]
		}
	}
	return nil
}

// TotalPoints sums the points of every question in the quiz.
func (q *Quiz) TotalPoints() int {
	total := 0
	for i := range q.Questions {
		total += q.Questions[i].Points
	}
	return total
}

// TimerMinutes is a nil-safe settings accessor; 0 means unlimited time.
func (q *Quiz) TimerMinutes() int {
	if q.Settings == nil {
		return 0
	}
	return q.Settings.TimerMinutes
}

// QuizWindow is the authoritative open/close boundary for one center.
// Each center appears at most once per quiz.
type QuizWindow struct {
	bun.BaseModel `bun:"table:quiz_windows"`

	ID       int64     `bun:"id,pk,autoincrement" json:"id,omitempty"`
	QuizID   int64     `bun:"quiz_id,notnull" json:"-"`
	CenterID int64     `bun:"center_id,notnull" json:"centerId"`
	OpenAt   time.Time `bun:"open_at,notnull" json:"openAt"`
	CloseAt  time.Time `bun:"close_at,notnull" json:"closeAt"`

	Center *Center `bun:"rel:belongs-to,join:center_id=id" json:"center,omitempty"`
}

// WindowStatus is the teacher-facing activity label for a window.
type WindowStatus string

const (
	WindowUpcoming WindowStatus = "upcoming"
	WindowOpen     WindowStatus = "open"
	WindowClosed   WindowStatus = "closed"
)

// Status reports whether the window is upcoming, open or closed at now.
func (w *QuizWindow) Status(now time.Time) WindowStatus {
	if now.Before(w.OpenAt) {
		return WindowUpcoming
	}
	if now.After(w.CloseAt) {
		return WindowClosed
	}
	return WindowOpen
}

// IsOpen reports whether the window admits new starts at now.
func (w *QuizWindow) IsOpen(now time.Time) bool {
	return !now.Before(w.OpenAt) && !now.After(w.CloseAt)
}

// QuizSettings is the one-to-one settings row of a quiz.
type QuizSettings struct {
	bun.BaseModel `bun:"table:quiz_settings"`

	ID                int64            `bun:"id,pk,autoincrement" json:"-"`
	QuizID            int64            `bun:"quiz_id,notnull,unique" json:"-"`
	TimerMinutes      int              `bun:"timer_minutes,notnull,default:0" json:"timerMinutes"`
	ScoreVisibility   VisibilityMode   `bun:"score_visibility,notnull,default:'after_close'" json:"scoreVisibility"`
	AnswersVisibility VisibilityMode   `bun:"answers_visibility,notnull,default:'after_close'" json:"answersVisibility"`
	QuestionOrder     QuestionOrdering `bun:"question_order,notnull,default:'created'" json:"questionOrder"`
}

// Question belongs to a quiz and is ordered by an explicit index. A question
// must carry text or an image (or both).
type Question struct {
	bun.BaseModel `bun:"table:questions"`

	ID            int64         `bun:"id,pk,autoincrement" json:"id,omitempty"`
	QuizID        int64         `bun:"quiz_id,notnull" json:"-"`
	SelectionType SelectionType `bun:"selection_type,notnull,default:'single'" json:"selectionType"`
	Text          string        `bun:"text" json:"text"`
	ImageURL      string        `bun:"image_url" json:"image,omitempty"`
	Points        int           `bun:"points,notnull,default:1" json:"points"`
	Position      int           `bun:"position,notnull,default:0" json:"order"`
	CreatedAt     time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"-"`

	Choices []Choice `bun:"rel:has-many,join:id=question_id" json:"choices,omitempty"`
}

// CorrectChoiceCount counts choices flagged correct.
func (q *Question) CorrectChoiceCount() int {
	n := 0
	for i := range q.Choices {
		if q.Choices[i].IsCorrect {
			n++
		}
	}
	return n
}

// Choice belongs to a question. Like questions, a choice must carry text or
// an image.
type Choice struct {
	bun.BaseModel `bun:"table:choices"`

	ID         int64  `bun:"id,pk,autoincrement" json:"id,omitempty"`
	QuestionID int64  `bun:"question_id,notnull" json:"-"`
	Text       string `bun:"text" json:"text"`
	ImageURL   string `bun:"image_url" json:"image,omitempty"`
	IsCorrect  bool   `bun:"is_correct,notnull,default:false" json:"isCorrect,omitempty"`
}

// Submission is a student's single attempt at a quiz; unique per
// (quiz, student). Its lifecycle state is derived from the timestamp fields
// by StateOf, never stored directly.
type Submission struct {
	bun.BaseModel `bun:"table:submissions"`

	ID        int64 `bun:"id,pk,autoincrement" json:"id"`
	QuizID    int64 `bun:"quiz_id,notnull" json:"quizId"`
	StudentID int64 `bun:"student_id,notnull" json:"studentId"`

	StartTime *time.Time `bun:"start_time" json:"startTime,omitempty"`
	EndTime   *time.Time `bun:"end_time" json:"endTime,omitempty"`

	Score       float64 `bun:"score,notnull,default:0" json:"-"`
	IsSubmitted bool    `bun:"is_submitted,notnull,default:false" json:"-"`

	// Manual-override release flags, meaningful only under VisibilityManual.
	ScoreReleased   bool `bun:"is_score_released,notnull,default:false" json:"-"`
	AnswersReleased bool `bun:"are_answers_released,notnull,default:false" json:"-"`

	Answers []Answer `bun:"rel:has-many,join:id=submission_id" json:"answers,omitempty"`
}

// AnswerFor returns the submission's answer for a question, or nil.
func (s *Submission) AnswerFor(questionID int64) *Answer {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// Answer holds one question of a submission, in the order it was presented to
// the student. Selected choices are mutable until the attempt is finalized;
// IsCorrect and PointsEarned are derived by the scoring pass.
type Answer struct {
	bun.BaseModel `bun:"table:answers"`

	ID           int64 `bun:"id,pk,autoincrement" json:"id"`
	SubmissionID int64 `bun:"submission_id,notnull" json:"-"`
	QuestionID   int64 `bun:"question_id,notnull" json:"questionId"`
	Position     int   `bun:"position,notnull,default:0" json:"order"`

	IsCorrect    bool    `bun:"is_correct,notnull,default:false" json:"isCorrect"`
	PointsEarned float64 `bun:"points_earned,notnull,default:0" json:"pointsEarned"`

	// Stored through the answer_choices join table.
	SelectedChoiceIDs []int64 `bun:"-" json:"selectedChoices"`
}

// AnswerChoice is the join row for an answer's selected choices.
type AnswerChoice struct {
	bun.BaseModel `bun:"table:answer_choices"`

	AnswerID int64 `bun:"answer_id,pk"`
	ChoiceID int64 `bun:"choice_id,pk"`
}
