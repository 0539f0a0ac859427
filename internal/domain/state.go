package domain

import (
	"fmt"
	"time"
)

// SubmissionState is the explicit attempt lifecycle. The stored row encodes it
// implicitly in (start_time, end_time, is_submitted); StateOf is the single
// place that decodes the combination.
type SubmissionState string

const (
	StateNotStarted SubmissionState = "not_started"
	StateInProgress SubmissionState = "in_progress"
	StateSubmitted  SubmissionState = "submitted"
	StateTimedOut   SubmissionState = "timed_out"
)

// Finished reports whether the attempt reached a terminal state.
func (s SubmissionState) Finished() bool {
	return s == StateSubmitted || s == StateTimedOut
}

// GracePeriod is added to the nominal deadline both when detecting a timeout
// and when judging on-time vs late.
const GracePeriod = 60 * time.Second

// StateOf derives the lifecycle state of a submission. A nil submission or one
// without a start time is NotStarted. TimedOut is evaluated live: an
// in-progress row past its deadline reports TimedOut even before the lazy
// finalization write happens.
func StateOf(sub *Submission, timerMinutes int, now time.Time) SubmissionState {
	if sub == nil || sub.StartTime == nil {
		return StateNotStarted
	}
	if sub.IsSubmitted {
		return StateSubmitted
	}
	// end_time without is_submitted means the attempt was auto-finalized.
	// That state is permanent.
	if sub.EndTime != nil {
		return StateTimedOut
	}
	if timerMinutes > 0 {
		deadline, ok := AddMinutes(*sub.StartTime, timerMinutes)
		if ok && now.After(deadline.Add(GracePeriod)) {
			return StateTimedOut
		}
	}
	return StateInProgress
}

// NominalEnd is the theoretical end of a timed attempt: start + timer. Used as
// the stored end_time when an attempt is auto-finalized, and as the synthetic
// end_time shown for live-timed-out rows. ok is false when the timer is zero
// or the arithmetic is not representable.
func NominalEnd(start time.Time, timerMinutes int) (time.Time, bool) {
	if timerMinutes <= 0 {
		return time.Time{}, false
	}
	return AddMinutes(start, timerMinutes)
}

// OnTime judges a finalized attempt against timer + grace. A zero timer means
// unlimited time, hence always on time.
func OnTime(start, end time.Time, timerMinutes int) bool {
	if timerMinutes == 0 {
		return true
	}
	allowed := time.Duration(timerMinutes)*time.Minute + GracePeriod
	return end.Sub(start) <= allowed
}

// AddMinutes adds minutes to t, reporting ok=false instead of wrapping when
// the result is outside the representable range.
func AddMinutes(t time.Time, minutes int) (time.Time, bool) {
	d := time.Duration(minutes) * time.Minute
	if minutes > 0 && d < 0 {
		return time.Time{}, false
	}
	result := t.Add(d)
	if minutes > 0 && result.Before(t) {
		return time.Time{}, false
	}
	return result, true
}

// TimeTaken renders the attempt duration the way rosters display it:
// seconds under a minute, minutes (one decimal when fractional) above.
func TimeTaken(start, end *time.Time) string {
	if start == nil || end == nil {
		return "0 seconds"
	}
	seconds := end.Sub(*start).Seconds()
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", int(seconds))
	}
	minutes := seconds / 60
	if minutes == float64(int(minutes)) {
		return fmt.Sprintf("%d minutes", int(minutes))
	}
	return fmt.Sprintf("%.1f minutes", minutes)
}
