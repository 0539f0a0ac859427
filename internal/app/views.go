package app

import (
	"fmt"
	"time"

	"tutordesk/internal/domain"
)

// SubmissionOverview is the shared student-attempt projection used by the
// student list path, the detail path and the roster. All of them resolve
// visibility through domain.ResolveExposure so the three read paths cannot
// drift apart.
type SubmissionOverview struct {
	SubmissionID   int64      `json:"id"`
	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	Status         string     `json:"submissionStatus"` // Not Started | In Progress | Finished
	IsSubmitted    bool       `json:"isSubmitted"`
	TimeTaken      string     `json:"timeTaken"`
	Score          *string    `json:"score,omitempty"` // "X.X / Y.Y", nil when hidden/unfinished
	ScoreVisible   bool       `json:"isScoreReleased"`
	AnswersVisible bool       `json:"areAnswersReleased"`
}

// BuildOverview projects one submission for display. window is the quiz
// window of the submission's student. The reported end time of a live
// timed-out attempt is synthesized from start + timer even before the lazy
// finalization write lands.
func BuildOverview(quiz *domain.Quiz, window *domain.QuizWindow, sub *domain.Submission, now time.Time) SubmissionOverview {
	timer := quiz.TimerMinutes()
	state := domain.StateOf(sub, timer, now)

	view := SubmissionOverview{
		SubmissionID: sub.ID,
		StartTime:    sub.StartTime,
		Status:       statusLabel(state),
		IsSubmitted:  state.Finished(),
		TimeTaken:    timeTakenLabel(sub, state),
	}

	view.EndTime = sub.EndTime
	if view.EndTime == nil && state == domain.StateTimedOut && sub.StartTime != nil {
		if end, ok := domain.NominalEnd(*sub.StartTime, timer); ok {
			view.EndTime = &end
		}
	}

	exposure := domain.ResolveExposure(quiz.Settings, window, sub, now)
	view.ScoreVisible = exposure.Score
	view.AnswersVisible = exposure.Answers

	if state.Finished() {
		display := domain.DisplayScore(sub, timer, now)
		formatted := FormatScore(display, quiz.TotalPoints())
		view.Score = &formatted
	}
	return view
}

// FormatScore renders "earned / total" with one decimal each.
func FormatScore(score float64, totalPoints int) string {
	return fmt.Sprintf("%.1f / %.1f", score, float64(totalPoints))
}

func statusLabel(state domain.SubmissionState) string {
	switch state {
	case domain.StateNotStarted:
		return "Not Started"
	case domain.StateInProgress:
		return "In Progress"
	default:
		return "Finished"
	}
}

func timeTakenLabel(sub *domain.Submission, state domain.SubmissionState) string {
	switch state {
	case domain.StateSubmitted:
		return domain.TimeTaken(sub.StartTime, sub.EndTime)
	case domain.StateTimedOut:
		return "Didn't submit"
	default:
		return "0 seconds"
	}
}

// Timing labels a finished attempt on_time or late against timer + grace;
// in-progress attempts report in_progress, finished rows missing their
// timestamps report pending.
func Timing(sub *domain.Submission, timerMinutes int, now time.Time) string {
	state := domain.StateOf(sub, timerMinutes, now)
	switch state {
	case domain.StateTimedOut:
		return "late"
	case domain.StateSubmitted:
		if sub.StartTime == nil || sub.EndTime == nil {
			return "pending"
		}
		if domain.OnTime(*sub.StartTime, *sub.EndTime, timerMinutes) {
			return "on_time"
		}
		return "late"
	default:
		return "in_progress"
	}
}
