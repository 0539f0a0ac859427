// Package http exposes the quiz service over REST plus a websocket roster
// feed for teachers.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

// Identity headers are set by the fronting auth layer; this service trusts
// them and only resolves grade/center/ownership against the directory.
const (
	headerRole      = "X-User-Role"
	headerTeacherID = "X-Teacher-ID"
	headerStudentID = "X-Student-ID"

	roleTeacher = "teacher"
	roleStudent = "student"
)

type identity struct {
	role      string
	teacherID int64
	studentID int64
}

func callerIdentity(r *http.Request) (identity, bool) {
	id := identity{role: r.Header.Get(headerRole)}
	switch id.role {
	case roleTeacher:
		v, err := strconv.ParseInt(r.Header.Get(headerTeacherID), 10, 64)
		if err != nil || v <= 0 {
			return id, false
		}
		id.teacherID = v
	case roleStudent:
		v, err := strconv.ParseInt(r.Header.Get(headerStudentID), 10, 64)
		if err != nil || v <= 0 {
			return id, false
		}
		id.studentID = v
	default:
		return id, false
	}
	return id, true
}

// Handler wires the application services into an http.ServeMux.
type Handler struct {
	defs   *app.DefinitionService
	subs   *app.SubmissionService
	roster *app.RosterService
	ws     *RosterWSHandler
	logger *log.Logger
	now    func() time.Time
}

func NewHandler(defs *app.DefinitionService, subs *app.SubmissionService, roster *app.RosterService, feed app.RosterFeed, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		defs:   defs,
		subs:   subs,
		roster: roster,
		ws:     NewRosterWSHandler(roster, feed, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Mux returns the routing table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /quizzes", h.createQuiz)
	mux.HandleFunc("GET /quizzes", h.listQuizzes)
	mux.HandleFunc("GET /quizzes/{id}", h.getQuiz)
	mux.HandleFunc("PUT /quizzes/{id}", h.updateQuiz)
	mux.HandleFunc("DELETE /quizzes/{id}", h.deleteQuiz)
	mux.HandleFunc("GET /quizzes/{id}/questions", h.listQuestions)
	mux.HandleFunc("GET /quizzes/{id}/availability", h.checkAvailability)
	mux.HandleFunc("POST /quizzes/{id}/start", h.startAttempt)
	mux.HandleFunc("POST /quizzes/{id}/submissions", h.submitAnswers)
	mux.HandleFunc("GET /quizzes/{id}/submissions", h.listSubmissions)
	mux.HandleFunc("GET /quizzes/{id}/submissions/{sid}", h.getSubmission)
	mux.HandleFunc("DELETE /quizzes/{id}/submissions/{sid}", h.deleteSubmission)
	mux.HandleFunc("POST /quizzes/{id}/release", h.releaseAll)
	mux.HandleFunc("GET /quizzes/{id}/roster/ws", h.ws.ServeWS)
	return mux
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	if !ok || id.role != roleTeacher {
		writeError(w, domain.ErrForbidden)
		return
	}
	var draft app.QuizDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	quiz, err := h.defs.Create(r.Context(), id.teacherID, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	if !ok {
		writeError(w, domain.ErrForbidden)
		return
	}
	switch id.role {
	case roleTeacher:
		quizzes, err := h.defs.ListForTeacher(r.Context(), id.teacherID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, quizzes)
	case roleStudent:
		items, err := h.defs.ListForStudent(r.Context(), id.studentID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]studentQuizView, 0, len(items))
		for _, item := range items {
			out = append(out, newStudentQuizView(item, h.now()))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) getQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	quiz, err := h.defs.Get(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return
	}
	if id.role == roleTeacher {
		if quiz.TeacherID != id.teacherID {
			writeError(w, domain.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, quizWithWindowStatus(quiz, h.now()))
		return
	}

	// Students get their own question order with the correct flags stripped.
	questions, err := h.subs.QuestionsForStudent(r.Context(), quizID, id.studentID)
	if err != nil {
		writeError(w, err)
		return
	}
	view := quizWithWindowStatus(quiz, h.now())
	view.Questions = sanitizeQuestions(questions)
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) updateQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || id.role != roleTeacher || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	var draft app.QuizDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	quiz, err := h.defs.Update(r.Context(), id.teacherID, quizID, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || id.role != roleTeacher || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	if err := h.defs.Delete(r.Context(), id.teacherID, quizID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	if id.role == roleTeacher {
		quiz, err := h.defs.Get(r.Context(), quizID)
		if err != nil {
			writeError(w, err)
			return
		}
		if quiz.TeacherID != id.teacherID {
			writeError(w, domain.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, quiz.Questions)
		return
	}
	questions, err := h.subs.QuestionsForStudent(r.Context(), quizID, id.studentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeQuestions(questions))
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || id.role != roleStudent || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	avail, err := h.subs.CheckAvailability(r.Context(), quizID, id.studentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || id.role != roleStudent || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	receipt, err := h.subs.Start(r.Context(), quizID, id.studentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type submitRequest struct {
	Answers []app.AnswerPayload `json:"answers"`
}

func (h *Handler) submitAnswers(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || id.role != roleStudent || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	confirmation, err := h.subs.SubmitAnswers(r.Context(), quizID, id.studentID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmation)
}

func (h *Handler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	switch id.role {
	case roleTeacher:
		roster, err := h.roster.Project(r.Context(), quizID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, roster)
	case roleStudent:
		sub, quiz, student, err := h.subs.StudentSubmission(r.Context(), quizID, id.studentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSubmissionDetail(quiz, student, sub, false, h.now()))
	}
}

func (h *Handler) getSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	subID, serr := pathID(r, "sid")
	if !ok || perr != nil || serr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	sub, quiz, student, err := h.subs.Submission(r.Context(), quizID, subID)
	if err != nil {
		writeError(w, err)
		return
	}
	switch id.role {
	case roleTeacher:
		if quiz.TeacherID != id.teacherID {
			writeError(w, domain.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, newSubmissionDetail(quiz, student, sub, true, h.now()))
	case roleStudent:
		if sub.StudentID != id.studentID {
			writeError(w, domain.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, newSubmissionDetail(quiz, student, sub, false, h.now()))
	}
}

func (h *Handler) deleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	subID, serr := pathID(r, "sid")
	if !ok || id.role != roleTeacher || perr != nil || serr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	if err := h.subs.Delete(r.Context(), quizID, subID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) releaseAll(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(r)
	quizID, perr := pathID(r, "id")
	if !ok || id.role != roleTeacher || perr != nil {
		writeError(w, domain.ErrForbidden)
		return
	}
	var req app.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	result, err := h.subs.ReleaseAll(r.Context(), quizID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Detail string             `json:"detail,omitempty"`
	Errors []domain.FieldError `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "validation failed", Errors: verr.Fields})
		return
	}
	switch {
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotEligible):
		writeJSON(w, http.StatusForbidden, errorResponse{Detail: err.Error()})
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrSubmissionNotFound),
		errors.Is(err, domain.ErrStudentNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: err.Error()})
	case errors.Is(err, domain.ErrAlreadyFinished),
		errors.Is(err, domain.ErrNotStarted),
		errors.Is(err, domain.ErrMissingSettings),
		errors.Is(err, domain.ErrNoManualMode):
		writeJSON(w, http.StatusConflict, errorResponse{Detail: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
	}
}
