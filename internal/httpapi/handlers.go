package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campusguess/battle-client/internal/hub"
	"github.com/campusguess/battle-client/internal/questions"
	"github.com/campusguess/battle-client/internal/scoring"
	"github.com/campusguess/battle-client/internal/session"
	"github.com/campusguess/battle-client/internal/transport"
	"github.com/campusguess/battle-client/pkg/types"
)

// Session is the part of session.Store the HTTP surface drives.
type Session interface {
	Identity() string
	Snapshot() session.Snapshot
	SetIdentity(identity string)
	SendInvite(ctx context.Context, to string) error
	AcceptInvite(ctx context.Context, roomCode string) error
	RejectInvite(ctx context.Context, roomCode string) error
	QuitBattle(ctx context.Context) error
	DismissToast(id string) bool
}

type Questions interface {
	Get(ctx context.Context, id int64) (types.Question, error)
}

type health struct {
	Status  string `json:"status"`
	Lobbies *int   `json:"lobbies,omitempty"`
}

// Healthz reports liveness and, when a hub is wired, how many room views it
// holds.
func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := health{Status: "ok"}
		if h != nil {
			n, err := h.Count(r.Context())
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			out.Lobbies = &n
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func GetSession(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// PutIdentity switches the local user. Lobbies rendered for the previous
// user are stopped.
func PutIdentity(s Session, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
		}
		if !decode(w, r, &body) {
			return
		}
		before := s.Identity()
		s.SetIdentity(body.Username)
		if h != nil && s.Identity() != before {
			h.Inbox() <- hub.ResetLobbies{}
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func SendInvite(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To string `json:"to"`
		}
		if !decode(w, r, &body) {
			return
		}
		if err := s.SendInvite(r.Context(), body.To); err != nil {
			writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func RespondInvite(s Session, accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomCode")
		respond := s.RejectInvite
		if accept {
			respond = s.AcceptInvite
		}
		if err := respond(r.Context(), room); err != nil {
			writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func QuitBattle(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.QuitBattle(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func DismissToast(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.DismissToast(chi.URLParam(r, "id")) {
			writeError(w, http.StatusNotFound, "toast not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetQuestion(q Questions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid question id")
			return
		}
		question, err := q.Get(r.Context(), id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, question)
	}
}

type practiceRequest struct {
	QuestionID int64        `json:"questionId,omitempty"`
	Correct    *types.Coord `json:"correct,omitempty"`
	Guess      *types.Coord `json:"guess,omitempty"`
}

type practiceResponse struct {
	Score    int      `json:"score"`
	Meters   *float64 `json:"meters,omitempty"`
	Distance string   `json:"distance"`
	Perfect  bool     `json:"perfect"`
	Message  string   `json:"message"`
}

// PracticeScore scores a solo guess. The answer comes from the request or,
// given only a question id, from the question API.
func PracticeScore(q Questions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req practiceRequest
		if !decode(w, r, &req) {
			return
		}

		correct := req.Correct
		if correct == nil && req.QuestionID > 0 {
			question, err := q.Get(r.Context(), req.QuestionID)
			if err != nil {
				writeFailure(w, err)
				return
			}
			correct = question.CorrectCoord
		}

		res := scoring.Practice(correct, req.Guess)
		out := practiceResponse{
			Score:    res.Score,
			Distance: scoring.FormatMeters(res.Meters),
			Perfect:  res.Perfect,
			Message:  res.Message,
		}
		if !math.IsNaN(res.Meters) {
			m := res.Meters
			out.Meters = &m
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

// statusFor maps an action failure to the HTTP status a caller can act on.
func statusFor(err error) int {
	var de *session.DomainError
	switch {
	case errors.As(err, &de):
		return http.StatusConflict
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, questions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
