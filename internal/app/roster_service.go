package app

import (
	"context"
	"sort"
	"time"

	"tutordesk/internal/domain"
)

// RosterRow is one student of the quiz's audience, with their attempt state
// merged in. Students who never started still get a row.
type RosterRow struct {
	SubmissionID *int64         `json:"id"`
	StudentID    int64          `json:"student"`
	StudentName  string         `json:"studentName"`
	PhoneNumber  string         `json:"phoneNumber"`
	ParentPhone  string         `json:"parentPhoneNumber"`
	Center       *domain.Center `json:"center"`

	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	Score          *string    `json:"score"`
	IsSubmitted    bool       `json:"isSubmitted"`
	TimeTaken      *string    `json:"timeTaken"`
	ScoreVisible   bool       `json:"isScoreReleased"`
	AnswersVisible bool       `json:"areAnswersReleased"`
	Status         string     `json:"submissionStatus"`
}

// Roster is the teacher's live progress view over one quiz.
type Roster struct {
	Settings *domain.QuizSettings `json:"settings"`
	Rows     []RosterRow          `json:"submissions"`
}

// RosterService projects the per-student status view for teachers: every
// enrolled student of the quiz's grade and centers, left-joined with at most
// one submission, with timeout state evaluated live.
type RosterService struct {
	quizzes QuizReader
	subs    SubmissionStore
	dir     Directory
	now     func() time.Time
}

func NewRosterService(quizzes QuizReader, subs SubmissionStore, dir Directory) *RosterService {
	return &RosterService{quizzes: quizzes, subs: subs, dir: dir, now: time.Now}
}

// NewRosterServiceWithClock is test-only for deterministic timestamps.
func NewRosterServiceWithClock(quizzes QuizReader, subs SubmissionStore, dir Directory, now func() time.Time) *RosterService {
	s := NewRosterService(quizzes, subs, dir)
	s.now = now
	return s
}

// Project builds the roster, sorted by submission start time descending with
// never-started students last, ties broken by student name.
func (s *RosterService) Project(ctx context.Context, quizID int64) (*Roster, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Settings == nil {
		return nil, domain.ErrMissingSettings
	}

	centerIDs := make([]int64, len(quiz.Windows))
	for i := range quiz.Windows {
		centerIDs[i] = quiz.Windows[i].CenterID
	}
	students, err := s.dir.StudentsByGradeAndCenters(ctx, quiz.GradeID, centerIDs)
	if err != nil {
		return nil, err
	}

	subs, err := s.subs.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	byStudent := make(map[int64]*domain.Submission, len(subs))
	for _, sub := range subs {
		byStudent[sub.StudentID] = sub
	}

	now := s.now()
	rows := make([]RosterRow, 0, len(students))
	for _, student := range students {
		rows = append(rows, s.row(quiz, student, byStudent[student.ID], now))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := rows[i].StartTime, rows[j].StartTime
		switch {
		case si != nil && sj != nil && !si.Equal(*sj):
			return si.After(*sj)
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return rows[i].StudentName < rows[j].StudentName
	})

	return &Roster{Settings: quiz.Settings, Rows: rows}, nil
}

func (s *RosterService) row(quiz *domain.Quiz, student *domain.Student, sub *domain.Submission, now time.Time) RosterRow {
	row := RosterRow{
		StudentID:   student.ID,
		StudentName: student.FullName,
		PhoneNumber: student.PhoneNumber,
		ParentPhone: student.ParentPhone,
		Center:      student.Center,
		Status:      "Not Started",
	}
	if sub == nil {
		// Settings-only exposure still applies: immediate/after_close modes
		// report their effective value even without an attempt.
		exposure := exposureWithoutAttempt(quiz, student, now)
		row.ScoreVisible = exposure.Score
		row.AnswersVisible = exposure.Answers
		return row
	}

	overview := BuildOverview(quiz, quiz.Window(student.CenterID), sub, now)
	row.SubmissionID = &sub.ID
	row.StartTime = overview.StartTime
	row.EndTime = overview.EndTime
	row.Score = overview.Score
	row.IsSubmitted = overview.IsSubmitted
	row.TimeTaken = &overview.TimeTaken
	row.ScoreVisible = overview.ScoreVisible
	row.AnswersVisible = overview.AnswersVisible
	row.Status = overview.Status
	return row
}

// exposureWithoutAttempt mirrors the resolver's time rules for roster rows
// with no submission: manual resolves false, immediate true, after_close by
// the student's window.
func exposureWithoutAttempt(quiz *domain.Quiz, student *domain.Student, now time.Time) domain.Exposure {
	closed := domain.WindowReleased(quiz.Window(student.CenterID), quiz.TimerMinutes(), now)
	exposure := domain.Exposure{}
	switch quiz.Settings.ScoreVisibility {
	case domain.VisibilityImmediate:
		exposure.Score = true
	case domain.VisibilityAfterClose:
		exposure.Score = closed
	}
	switch quiz.Settings.AnswersVisibility {
	case domain.VisibilityImmediate:
		exposure.Answers = true
	case domain.VisibilityAfterClose:
		exposure.Answers = closed
	}
	return exposure
}
