package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/campusguess/battle-client/internal/hub"
	"github.com/campusguess/battle-client/internal/ws"
)

type Deps struct {
	Session   Session
	Questions Questions
	Hub       *hub.Hub
	Logger    *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log.Named("httpapi")))

	r.Get("/healthz", Healthz(d.Hub))

	r.Get("/session", GetSession(d.Session))
	r.Put("/session/identity", PutIdentity(d.Session, d.Hub))
	r.Delete("/toasts/{id}", DismissToast(d.Session))

	r.Post("/invites", SendInvite(d.Session))
	r.Post("/invites/{roomCode}/accept", RespondInvite(d.Session, true))
	r.Post("/invites/{roomCode}/reject", RespondInvite(d.Session, false))
	r.Post("/battle/quit", QuitBattle(d.Session))

	r.Post("/practice/score", PracticeScore(d.Questions))
	r.Get("/questions/{id}", GetQuestion(d.Questions))

	r.Get("/ws", ws.Handler(d.Hub, d.Session, log))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
