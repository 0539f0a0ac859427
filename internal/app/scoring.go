package app

import "tutordesk/internal/domain"

// scoreSubmission recomputes every answer's derived fields in place and
// returns the submission total. Partial credit per answer: the fraction of
// correct choices selected, minus the same fraction per incorrect selection,
// floored at zero. The pass is deterministic and idempotent, so it is safe to
// invoke both at finalize time and again during bulk rescoring.
//
// A question whose choice set has no correct choice cannot be scored and
// contributes zero. The definition store rejects such questions, so hitting
// one here points at a data-integrity problem; warnf surfaces it.
func scoreSubmission(quiz *domain.Quiz, sub *domain.Submission, warnf func(format string, args ...any)) float64 {
	questions := make(map[int64]*domain.Question, len(quiz.Questions))
	for i := range quiz.Questions {
		questions[quiz.Questions[i].ID] = &quiz.Questions[i]
	}

	total := 0.0
	for i := range sub.Answers {
		ans := &sub.Answers[i]
		question, ok := questions[ans.QuestionID]
		if !ok {
			// Stub for a question deleted after the attempt; contributes nothing.
			ans.IsCorrect = false
			ans.PointsEarned = 0
			continue
		}

		correct := make(map[int64]bool, len(question.Choices))
		for j := range question.Choices {
			if question.Choices[j].IsCorrect {
				correct[question.Choices[j].ID] = true
			}
		}

		if len(correct) == 0 {
			if warnf != nil {
				warnf("question %d of quiz %d has no correct choice; scoring it as 0", question.ID, quiz.ID)
			}
			ans.IsCorrect = false
			ans.PointsEarned = 0
			continue
		}

		selectedCorrect := 0
		for _, choiceID := range ans.SelectedChoiceIDs {
			if correct[choiceID] {
				selectedCorrect++
			}
		}
		selectedTotal := len(ans.SelectedChoiceIDs)

		points := float64(question.Points)
		awarded := float64(selectedCorrect) / float64(len(correct)) * points
		if wrong := selectedTotal - selectedCorrect; wrong > 0 {
			penalty := float64(wrong) / float64(len(correct)) * points
			awarded -= penalty
			if awarded < 0 {
				awarded = 0
			}
		}

		ans.PointsEarned = awarded
		ans.IsCorrect = selectedCorrect == len(correct) && selectedTotal == len(correct)
		total += awarded
	}
	return total
}
