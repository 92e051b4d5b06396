package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campusguess/battle-client/internal/engine"
	"github.com/campusguess/battle-client/internal/hub"
	"github.com/campusguess/battle-client/internal/lobby"
	"github.com/campusguess/battle-client/internal/questions"
	"github.com/campusguess/battle-client/internal/session"
	"github.com/campusguess/battle-client/internal/transport"
	"github.com/campusguess/battle-client/pkg/types"
)

type fakeSession struct {
	identity string
	err      error
	calls    []string
	toasts   map[string]bool
}

func (f *fakeSession) Identity() string { return f.identity }
func (f *fakeSession) Snapshot() session.Snapshot {
	return session.Snapshot{Identity: f.identity, Connected: f.identity != ""}
}
func (f *fakeSession) SetIdentity(id string) { f.identity = id }

func (f *fakeSession) SendInvite(_ context.Context, to string) error {
	f.calls = append(f.calls, "invite:"+to)
	return f.err
}

func (f *fakeSession) AcceptInvite(_ context.Context, room string) error {
	f.calls = append(f.calls, "accept:"+room)
	return f.err
}

func (f *fakeSession) RejectInvite(_ context.Context, room string) error {
	f.calls = append(f.calls, "reject:"+room)
	return f.err
}

func (f *fakeSession) QuitBattle(context.Context) error {
	f.calls = append(f.calls, "quit")
	return f.err
}

func (f *fakeSession) DismissToast(id string) bool { return f.toasts[id] }

type fakeQuestions map[int64]types.Question

func (f fakeQuestions) Get(_ context.Context, id int64) (types.Question, error) {
	q, ok := f[id]
	if !ok {
		return types.Question{}, fmt.Errorf("question %d: %w", id, questions.ErrNotFound)
	}
	return q, nil
}

func newServer(t *testing.T, s *fakeSession) *httptest.Server {
	t.Helper()
	qs := fakeQuestions{
		7: {ID: 7, Title: "Library", CorrectCoord: &types.Coord{Lat: 22.2550, Lon: 113.5410}},
		8: {ID: 8, Title: "No answer"},
	}
	srv := httptest.NewServer(SetupRoutes(Deps{Session: s, Questions: qs, Logger: zaptest.NewLogger(t)}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, &fakeSession{})
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "lobbies")
}

type emptyBackend struct{ log *session.EventLog }

func (b emptyBackend) Events(since uint64) []engine.Event { return b.log.Since(since) }
func (b emptyBackend) Track() *session.Cursor             { return b.log.Track() }
func (emptyBackend) SubmitAnswer(context.Context, string, types.Coord) error {
	return nil
}
func (emptyBackend) QuitBattle(context.Context) error { return nil }

func TestHealthz_ReportsLobbies(t *testing.T) {
	log := zaptest.NewLogger(t)
	h := hub.NewHub(context.Background(), emptyBackend{log: session.NewEventLog(0)}, nil, lobby.Options{Logger: log})
	t.Cleanup(func() { h.Inbox() <- hub.ShutdownHub{} })
	_, err := h.Ensure(context.Background(), "R1", "alice")
	require.NoError(t, err)

	srv := httptest.NewServer(SetupRoutes(Deps{Session: &fakeSession{}, Hub: h, Logger: log}))
	t.Cleanup(srv.Close)

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["lobbies"])
}

func TestIdentityAndSession(t *testing.T) {
	s := &fakeSession{}
	srv := newServer(t, s)

	resp, body := do(t, http.MethodPut, srv.URL+"/session/identity", `{"username":"alice"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["identity"])

	resp, body = do(t, http.MethodGet, srv.URL+"/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/session/identity", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActions_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusAccepted},
		{"domain", &session.DomainError{Op: "invite", Err: session.ErrAlreadyInBattle}, http.StatusConflict},
		{"timeout", fmt.Errorf("sending invite: %w", transport.ErrTimeout), http.StatusGatewayTimeout},
		{"transport", &transport.ConnectionError{Op: "publish", Err: errors.New("broken pipe")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{identity: "alice", err: tt.err}
			srv := newServer(t, s)

			resp, body := do(t, http.MethodPost, srv.URL+"/invites", `{"to":"bob"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), body["error"])
			}

			resp, _ = do(t, http.MethodPost, srv.URL+"/invites/R1/accept", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			resp, _ = do(t, http.MethodPost, srv.URL+"/invites/R2/reject", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			resp, _ = do(t, http.MethodPost, srv.URL+"/battle/quit", "")
			assert.Equal(t, tt.status, resp.StatusCode)

			assert.Equal(t, []string{"invite:bob", "accept:R1", "reject:R2", "quit"}, s.calls)
		})
	}
}

func TestDismissToast(t *testing.T) {
	srv := newServer(t, &fakeSession{toasts: map[string]bool{"t1": true}})

	resp, _ := do(t, http.MethodDelete, srv.URL+"/toasts/t1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/toasts/t2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetQuestion(t *testing.T) {
	srv := newServer(t, &fakeSession{})

	resp, body := do(t, http.MethodGet, srv.URL+"/questions/7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Library", body["title"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/questions/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/questions/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPracticeScore(t *testing.T) {
	srv := newServer(t, &fakeSession{})

	tests := []struct {
		name     string
		body     string
		score    float64
		distance string
		meters   bool
	}{
		{"by question id", `{"questionId":7,"guess":{"lat":22.2551,"lon":113.5411}}`, 98, "15 m", true},
		{"explicit answer", `{"correct":{"lat":1,"lon":1},"guess":{"lat":1,"lon":1}}`, 100, "0 m", true},
		{"no guess", `{"questionId":7}`, 0, "-", false},
		{"question without answer", `{"questionId":8,"guess":{"lat":1,"lon":1}}`, 0, "-", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/practice/score", tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.score, body["score"])
			assert.Equal(t, tt.distance, body["distance"])
			_, hasMeters := body["meters"]
			assert.Equal(t, tt.meters, hasMeters)
		})
	}

	resp, _ := do(t, http.MethodPost, srv.URL+"/practice/score", `{"questionId":99,"guess":{"lat":1,"lon":1}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
