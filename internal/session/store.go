package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusguess/battle-client/internal/engine"
	"github.com/campusguess/battle-client/internal/transport"
	"github.com/campusguess/battle-client/pkg/types"
)

// Transport is the part of transport.Conn the store drives.
type Transport interface {
	Connect(identity string) *transport.Handshake
	Disconnect()
	Publish(ctx context.Context, destination string, body any) error
	SubscribeConnection(fn func(connected bool)) func()
	SubscribeInvite(fn func(types.InviteMessage)) func()
	SubscribeState(fn func(types.BattleMessage)) func()
}

type Options struct {
	LogSize    int
	ToastTTL   time.Duration
	ToastLimit int
	Now        func() time.Time
	Logger     *zap.Logger
}

// Store owns the event log, pending invites and toasts for one user. It is
// the only writer of all three.
type Store struct {
	tr  Transport
	log *zap.Logger
	now func() time.Time

	events *EventLog

	mu         sync.Mutex
	identity   string
	connected  bool
	inBattle   bool
	activeRoom string
	finished   map[string]bool
	invites    inviteSet
	toasts     toastList

	watchMu  sync.Mutex
	watchID  int
	watchers map[int]chan struct{}

	unsubs []func()
}

func New(tr Transport, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = DefaultToastTTL
	}
	if opts.ToastLimit <= 0 {
		opts.ToastLimit = DefaultToastLimit
	}

	s := &Store{
		tr:       tr,
		log:      opts.Logger.Named("session"),
		now:      opts.Now,
		events:   NewEventLog(opts.LogSize),
		finished: make(map[string]bool),
		invites:  newInviteSet(),
		toasts:   toastList{ttl: opts.ToastTTL, limit: opts.ToastLimit},
		watchers: make(map[int]chan struct{}),
	}
	s.unsubs = []func(){
		tr.SubscribeConnection(s.onConnection),
		tr.SubscribeInvite(s.ingestInvite),
		tr.SubscribeState(s.ingestState),
	}
	return s
}

// Close detaches from the transport and disconnects it.
func (s *Store) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.tr.Disconnect()

	s.watchMu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.watchMu.Unlock()
}

func (s *Store) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity binds the store to a user. An empty identity logs out: the
// connection is torn down and battle and invite state is cleared.
func (s *Store) SetIdentity(identity string) {
	identity = strings.TrimSpace(identity)

	s.mu.Lock()
	changed := identity != s.identity
	if changed {
		s.identity = identity
		s.resetLocked()
	}
	s.mu.Unlock()

	if identity == "" {
		s.tr.Disconnect()
	} else {
		s.tr.Connect(identity)
	}
	if changed {
		s.log.Info("identity set", zap.String("identity", identity))
		s.notify()
	}
}

func (s *Store) resetLocked() {
	s.inBattle = false
	s.activeRoom = ""
	s.finished = make(map[string]bool)
	s.invites.clear()
	s.events.Reset()
}

func (s *Store) SendInvite(ctx context.Context, to string) error {
	to = strings.TrimSpace(to)

	s.mu.Lock()
	me, inBattle := s.identity, s.inBattle
	s.mu.Unlock()

	switch {
	case me == "":
		return s.fail(domainErr("invite", ErrNoIdentity))
	case to == "":
		return s.fail(domainErr("invite", ErrEmptyTarget))
	case to == me:
		return s.fail(domainErr("invite", ErrSelfInvite))
	case inBattle:
		return s.fail(domainErr("invite", ErrAlreadyInBattle))
	}

	if err := s.tr.Publish(ctx, types.DestInvite, types.InviteRequest{FromUsername: me, ToUsername: to}); err != nil {
		return s.fail(fmt.Errorf("sending invite: %w", err))
	}
	s.pushToast(fmt.Sprintf("Invite sent to %s", to), LevelInfo)
	return nil
}

func (s *Store) AcceptInvite(ctx context.Context, roomCode string) error {
	return s.respond(ctx, roomCode, true)
}

func (s *Store) RejectInvite(ctx context.Context, roomCode string) error {
	return s.respond(ctx, roomCode, false)
}

func (s *Store) respond(ctx context.Context, roomCode string, accepted bool) error {
	op := "reject invite"
	if accepted {
		op = "accept invite"
	}
	roomCode = strings.TrimSpace(roomCode)
	me := s.Identity()
	switch {
	case me == "":
		return s.fail(domainErr(op, ErrNoIdentity))
	case roomCode == "":
		return s.fail(domainErr(op, ErrEmptyRoomCode))
	}

	req := types.RespondRequest{RoomCode: roomCode, Accepted: accepted, Username: me}
	if err := s.tr.Publish(ctx, types.DestRespond, req); err != nil {
		// The invite stays pending so the user can retry.
		return s.fail(fmt.Errorf("%s %s: %w", op, roomCode, err))
	}

	s.optimisticRemoveInvite(roomCode)
	if accepted {
		s.pushToast("Invite accepted, waiting for the battle to start", LevelInfo)
	} else {
		s.pushToast("Invite declined", LevelInfo)
	}
	return nil
}

// optimisticRemoveInvite drops the invite as soon as the response is
// published, without waiting for the server. It only runs after a
// successful publish, so a failed publish leaves nothing to roll back.
func (s *Store) optimisticRemoveInvite(roomCode string) {
	s.mu.Lock()
	removed := s.invites.remove(roomCode)
	s.mu.Unlock()
	if removed {
		s.notify()
	}
}

// SubmitAnswer publishes the guess. Health and score only ever change
// through later state messages.
func (s *Store) SubmitAnswer(ctx context.Context, roomCode string, guess types.Coord) error {
	roomCode = strings.TrimSpace(roomCode)

	s.mu.Lock()
	me, over := s.identity, s.finished[roomCode]
	s.mu.Unlock()

	switch {
	case me == "":
		return s.fail(domainErr("submit answer", ErrNoIdentity))
	case roomCode == "":
		return s.fail(domainErr("submit answer", ErrEmptyRoomCode))
	case over:
		return s.fail(domainErr("submit answer", ErrBattleOver))
	}

	req := types.AnswerRequest{
		RoomCode:  roomCode,
		Username:  me,
		Longitude: guess.Lon,
		Latitude:  guess.Lat,
	}
	if err := s.tr.Publish(ctx, types.DestAnswer, req); err != nil {
		return s.fail(fmt.Errorf("submitting answer: %w", err))
	}
	return nil
}

// QuitBattle asks the server to end the battle. Local state only changes
// when the GAME_OVER arrives.
func (s *Store) QuitBattle(ctx context.Context) error {
	me := s.Identity()
	if me == "" {
		return s.fail(domainErr("quit", ErrNoIdentity))
	}
	if err := s.tr.Publish(ctx, types.DestQuit, types.QuitRequest{FromUsername: me}); err != nil {
		return s.fail(fmt.Errorf("quitting battle: %w", err))
	}
	return nil
}

func (s *Store) onConnection(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) ingestState(msg types.BattleMessage) {
	s.mu.Lock()
	ev := s.events.Append(msg)
	switch msg.Type {
	case types.TypeGameStart:
		s.inBattle = true
		s.activeRoom = msg.RoomCode
		s.invites.clear()
	case types.TypeGameOver:
		s.inBattle = false
		s.activeRoom = ""
		s.finished[msg.RoomCode] = true
		text := msg.Message
		if text == "" {
			text = fmt.Sprintf("Battle over, winner: %s", msg.Winner)
		}
		s.toasts.push(s.now(), text, LevelInfo)
	case types.TypeInviteRejected:
		text := msg.Message
		if text == "" {
			text = "Your invite was declined"
		}
		s.toasts.push(s.now(), text, LevelError)
	}
	s.mu.Unlock()

	s.log.Debug("state message", zap.Uint64("seq", ev.Seq), zap.String("type", string(msg.Type)), zap.String("room", msg.RoomCode))
	s.notify()
}

func (s *Store) ingestInvite(m types.InviteMessage) {
	inv := normalizeInvite(m)
	if inv.RoomCode == "" {
		s.log.Warn("dropping invite without room code", zap.String("from", inv.From))
		return
	}

	s.mu.Lock()
	added := s.invites.add(inv)
	if added {
		s.toasts.push(s.now(), fmt.Sprintf("%s invited you to a battle", inv.From), LevelInfo)
	}
	s.mu.Unlock()

	if added {
		s.notify()
	}
}

func (s *Store) fail(err error) error {
	s.pushToast(err.Error(), LevelError)
	return err
}

func (s *Store) pushToast(text string, level Level) {
	s.mu.Lock()
	s.toasts.push(s.now(), text, level)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) DismissToast(id string) bool {
	s.mu.Lock()
	ok := s.toasts.dismiss(id)
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

type Snapshot struct {
	Identity     string   `json:"identity"`
	Connected    bool     `json:"connected"`
	InBattle     bool     `json:"inBattle"`
	ActiveRoom   string   `json:"activeRoom,omitempty"`
	Invites      []Invite `json:"invites"`
	ActiveInvite *Invite  `json:"activeInvite,omitempty"`
	Toasts       []Toast  `json:"toasts"`
	LastSeq      uint64   `json:"lastSeq"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Identity:     s.identity,
		Connected:    s.connected,
		InBattle:     s.inBattle,
		ActiveRoom:   s.activeRoom,
		Invites:      s.invites.list(),
		ActiveInvite: s.invites.activeInvite(),
		Toasts:       s.toasts.active(s.now()),
		LastSeq:      s.events.LastSeq(),
	}
}

// Events returns every retained event after since.
func (s *Store) Events(since uint64) []engine.Event { return s.events.Since(since) }

func (s *Store) Track() *Cursor { return s.events.Track() }

// Watch returns a channel that receives a value after any change. Signals
// coalesce, so a slow reader sees one pending signal, not a backlog.
func (s *Store) Watch() (<-chan struct{}, func()) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	id := s.watchID
	s.watchID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if _, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(ch)
			}
		})
	}
}

func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
