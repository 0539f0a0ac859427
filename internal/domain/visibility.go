package domain

import "time"

// Exposure is the outcome of the visibility resolution for one submission:
// whether its score and its answers may be shown to the owning student.
// Score and answers are resolved independently, each with its own mode.
type Exposure struct {
	Score   bool
	Answers bool
}

// ResolveExposure is the single visibility rule shared by the list, detail and
// roster read paths. window is the quiz window for the student's own center
// (nil when the center is not assigned, in which case after_close never
// opens). Nothing is ever exposed before the attempt is finished.
func ResolveExposure(settings *QuizSettings, window *QuizWindow, sub *Submission, now time.Time) Exposure {
	if settings == nil {
		return Exposure{}
	}
	state := StateOf(sub, settings.TimerMinutes, now)
	if !state.Finished() {
		return Exposure{}
	}

	closed := WindowReleased(window, settings.TimerMinutes, now)

	return Exposure{
		Score:   modeAllows(settings.ScoreVisibility, closed, sub.ScoreReleased),
		Answers: modeAllows(settings.AnswersVisibility, closed, sub.AnswersReleased),
	}
}

// WindowReleased reports whether the effective release time of a window has
// passed: close_at plus the timer, so late starters finish before results
// open. Saturating: if the addition is not representable, the quiz counts as
// not yet closed.
func WindowReleased(window *QuizWindow, timerMinutes int, now time.Time) bool {
	if window == nil {
		return false
	}
	release := window.CloseAt
	if timerMinutes > 0 {
		var ok bool
		release, ok = AddMinutes(window.CloseAt, timerMinutes)
		if !ok {
			return false
		}
	}
	return now.After(release)
}

func modeAllows(mode VisibilityMode, closed, released bool) bool {
	switch mode {
	case VisibilityImmediate:
		return true
	case VisibilityAfterClose:
		return closed
	case VisibilityManual:
		return released
	default:
		return false
	}
}

// DisplayScore is the student-facing score figure: timed-out attempts always
// display zero, a genuine submission displays its computed score.
func DisplayScore(sub *Submission, timerMinutes int, now time.Time) float64 {
	if StateOf(sub, timerMinutes, now) == StateTimedOut {
		return 0
	}
	return sub.Score
}
