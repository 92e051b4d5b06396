package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusguess/battle-client/internal/engine"
	"github.com/campusguess/battle-client/internal/scoring"
	"github.com/campusguess/battle-client/internal/session"
	"github.com/campusguess/battle-client/pkg/types"
)

var ErrSubmitInFlight = errors.New("answer submission already in flight")

const (
	DefaultCountdown     = 30
	defaultTick          = time.Second
	defaultSubmitTimeout = 10 * time.Second
)

// Backend is what a lobby needs from the session store.
type Backend interface {
	Events(since uint64) []engine.Event
	Track() *session.Cursor
	SubmitAnswer(ctx context.Context, roomCode string, guess types.Coord) error
	QuitBattle(ctx context.Context) error
}

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Advance asks the lobby to pull new events from the session log.
type Advance struct{}

func (Advance) isLobbyMsg() {}

type SetGuess struct {
	Guess types.Coord
	Reply chan error // optional
}

func (SetGuess) isLobbyMsg() {}

type Submit struct {
	Reply chan error // optional; receives the publish outcome
}

func (Submit) isLobbyMsg() {}

type Quit struct {
	Reply chan error // optional
}

func (Quit) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type submitDone struct {
	err   error
	reply chan error
}

func (submitDone) isLobbyMsg() {}

type tick struct{ gen uint64 }

func (tick) isLobbyMsg() {}

// Preview scores the local guess against the revealed answer with the same
// function solo practice uses.
type Preview struct {
	Meters   float64 `json:"meters"`
	Distance string  `json:"distance"`
	Score    int     `json:"score"`
}

type Snapshot struct {
	Version    int               `json:"version"`
	State      engine.Projection `json:"state"`
	View       engine.View       `json:"view"`
	Countdown  int               `json:"countdown"`
	Submitting bool              `json:"submitting"`
	Preview    *Preview          `json:"preview,omitempty"`
}

type View struct {
	Version    int
	NumClients int
	State      engine.Projection
	Countdown  int
	Submitting bool
	Cursor     uint64
}

type Options struct {
	// Me is the local username; it decides which side of the board is "mine".
	Me            string
	Countdown     int
	Tick          time.Duration
	SubmitTimeout time.Duration
	Logger        *zap.Logger
	// OnRetire runs after a finished battle's last client leaves and the
	// lobby has stopped itself.
	OnRetire func(*Lobby)
}

type Lobby struct {
	inbox   chan Msg
	room    string
	me      string
	backend Backend
	reducer *engine.Reducer
	cursor  *session.Cursor
	version int
	clients map[string]chan Snapshot
	log     *zap.Logger

	submitting    bool
	submitTimeout time.Duration

	countdownStart int
	countdown      int
	countdownGen   uint64
	stopTicker     context.CancelFunc
	tickEvery      time.Duration

	onRetire func(*Lobby)

	ctx    context.Context
	cancel context.CancelFunc
}

func NewLobby(parent context.Context, room string, backend Backend, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if opts.Countdown <= 0 {
		opts.Countdown = DefaultCountdown
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	l := &Lobby{
		inbox:          make(chan Msg, 64), // Small buffer
		room:           room,
		me:             opts.Me,
		backend:        backend,
		reducer:        engine.NewReducer(room),
		cursor:         backend.Track(),
		clients:        make(map[string]chan Snapshot),
		log:            opts.Logger.Named("lobby").With(zap.String("room", room)),
		submitTimeout:  opts.SubmitTimeout,
		countdownStart: opts.Countdown,
		tickEvery:      opts.Tick,
		onRetire:       opts.OnRetire,
		ctx:            ctx,
		cancel:         cancel,
	}

	go l.loop()
	return l
}

// Expose the inbox so the hub or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) Room() string { return l.room }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) loop() {
	l.advance()

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				l.send(msg.ClientID, msg.Outbox, l.snapshot())

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}
				if len(l.clients) == 0 && l.reducer.State().Terminal() {
					l.retire()
					return
				}

			case Advance:
				l.advance()

			case SetGuess:
				err := l.reducer.Update(func(p engine.Projection) (engine.Projection, error) {
					return engine.SetGuess(p, msg.Guess)
				})
				reply(msg.Reply, err)
				if err == nil {
					l.publish()
				}

			case Submit:
				l.submit(msg.Reply)

			case submitDone:
				l.submitting = false
				if msg.err != nil {
					l.log.Warn("submit failed", zap.Error(msg.err))
					status := fmt.Sprintf("submit failed: %v", msg.err)
					_ = l.reducer.Update(func(p engine.Projection) (engine.Projection, error) {
						return engine.ClearSubmitted(p, status), nil
					})
				} else {
					_ = l.reducer.Update(func(p engine.Projection) (engine.Projection, error) {
						return engine.MarkAnswered(p, l.me), nil
					})
				}
				reply(msg.reply, msg.err)
				l.publish()

			case Quit:
				go func() {
					ctx, cancel := context.WithTimeout(l.ctx, l.submitTimeout)
					defer cancel()
					reply(msg.Reply, l.backend.QuitBattle(ctx))
				}()

			case tick:
				if msg.gen != l.countdownGen || l.countdown <= 0 {
					break
				}
				l.countdown--
				if l.countdown == 0 {
					l.stopCountdown()
				}
				l.publish()

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.reducer.State(),
					Countdown:  l.countdown,
					Submitting: l.submitting,
					Cursor:     l.reducer.Cursor(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) advance() {
	applied := l.reducer.Consume(l.backend.Events(l.reducer.Cursor()))
	l.cursor.Advance(l.reducer.Cursor())
	if l.cursor.TakeLost() {
		l.log.Warn("event log overflowed before this room caught up")
	}
	if len(applied) == 0 {
		return
	}

	for _, ev := range applied {
		switch ev.Msg.Type {
		case types.TypePlayerAnswered:
			n := l.countdownStart
			if ev.Msg.Countdown != nil && *ev.Msg.Countdown > 0 {
				n = *ev.Msg.Countdown
			}
			l.startCountdown(n)
		case types.TypeGameStart, types.TypeNewQuestion, types.TypeRoundResult, types.TypeGameOver:
			l.stopCountdown()
		}
	}
	if st := l.reducer.State(); st.Terminal() && engine.ContainsType(applied, types.TypeGameOver) {
		l.log.Info("battle over", zap.String("winner", st.GameOver.Winner))
	}
	l.publish()
}

func (l *Lobby) submit(replyTo chan error) {
	if l.submitting {
		reply(replyTo, ErrSubmitInFlight)
		return
	}
	if err := l.reducer.Update(engine.MarkSubmitted); err != nil {
		reply(replyTo, err)
		return
	}
	l.submitting = true
	guess := *l.reducer.State().MyGuess
	l.publish()

	go func() {
		ctx, cancel := context.WithTimeout(l.ctx, l.submitTimeout)
		defer cancel()
		err := l.backend.SubmitAnswer(ctx, l.room, guess)
		select {
		case l.inbox <- submitDone{err: err, reply: replyTo}:
		case <-l.ctx.Done():
		}
	}()
}

// startCountdown re-arms the ticker. Ticks from an earlier arming carry an
// old generation and are ignored.
func (l *Lobby) startCountdown(n int) {
	l.stopCountdown()
	l.countdownGen++
	l.countdown = n

	ctx, cancel := context.WithCancel(l.ctx)
	l.stopTicker = cancel
	go func(gen uint64) {
		t := time.NewTicker(l.tickEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case l.inbox <- tick{gen: gen}:
				case <-ctx.Done():
					return
				}
			}
		}
	}(l.countdownGen)
}

func (l *Lobby) stopCountdown() {
	if l.stopTicker != nil {
		l.stopTicker()
		l.stopTicker = nil
	}
	l.countdown = 0
}

func (l *Lobby) snapshot() Snapshot {
	st := l.reducer.State()
	return Snapshot{
		Version:    l.version,
		State:      st,
		View:       st.Perspective(l.me),
		Countdown:  l.countdown,
		Submitting: l.submitting,
		Preview:    preview(st),
	}
}

func preview(p engine.Projection) *Preview {
	if !p.ShowRoundResult || p.MyGuess == nil || p.Question == nil || p.Question.CorrectCoord == nil {
		return nil
	}
	r := scoring.Score(p.Question.CorrectCoord, *p.MyGuess)
	return &Preview{Meters: r.Meters, Distance: scoring.FormatMeters(r.Meters), Score: r.Score}
}

func (l *Lobby) publish() {
	l.version++
	l.broadcast(l.snapshot())
}

func (l *Lobby) shutdown() {
	l.stopCountdown()
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cursor.Release()
	l.cancel()
}

func (l *Lobby) retire() {
	l.log.Debug("retiring finished lobby")
	l.shutdown()
	if l.onRetire != nil {
		l.onRetire(l)
	}
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		l.send(id, ch, snap)
	}
}

func (l *Lobby) send(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		//ok
	default:
		// Client is slow/full - drop them.
		l.log.Debug("dropping slow client", zap.String("client", id))
		close(ch)
		delete(l.clients, id)
	}
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
