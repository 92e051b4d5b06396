package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/campusguess/battle-client/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

// EnsureLobby returns the lobby for Code, creating it if needed. Me is only
// used when the lobby is created.
type EnsureLobby struct {
	Code  string
	Me    string
	Reply chan *lobby.Lobby
}

// RemoveLobby stops and forgets the lobby for Code. When Lobby is set, only
// that instance is removed, so a retired lobby cannot take its successor
// down with it.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

type ShutdownHub struct{}

// ResetLobbies stops every lobby, e.g. after the local user changed.
type ResetLobbies struct{}

type CountLobbies struct {
	Reply chan int
}

func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (ShutdownHub) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ResetLobbies) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	backend lobby.Backend
	opts    lobby.Options
	watch   <-chan struct{}
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub starts the registry. Every signal on watch is forwarded to all
// lobbies as an Advance.
func NewHub(parent context.Context, backend lobby.Backend, watch <-chan struct{}, opts lobby.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		backend: backend,
		opts:    opts,
		watch:   watch,
		log:     log.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.opts.OnRetire = h.retire
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after ShutdownHub or parent cancellation.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case _, ok := <-h.watch:
			if !ok {
				h.watch = nil
				break
			}
			for _, lb := range h.lobbies {
				select {
				case lb.Inbox() <- lobby.Advance{}:
				default:
					// inbox full; an Advance already queued will catch up
				}
			}

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureLobby:
				if lb := h.live(msg.Code); lb != nil {
					msg.Reply <- lb
					break
				}
				opts := h.opts
				opts.Me = msg.Me
				lb := lobby.NewLobby(h.ctx, msg.Code, h.backend, opts)
				h.lobbies[msg.Code] = lb
				h.log.Debug("lobby created", zap.String("room", msg.Code))
				msg.Reply <- lb

			case RemoveLobby:
				lb := h.lobbies[msg.Code]
				if lb == nil || (msg.Lobby != nil && msg.Lobby != lb) {
					break
				}
				select {
				case lb.Inbox() <- lobby.Shutdown{}:
				case <-lb.Done():
				}
				delete(h.lobbies, msg.Code)
				h.log.Debug("lobby removed", zap.String("room", msg.Code))

			case ResetLobbies:
				h.stopLobbies()

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the lobby for code unless it has already stopped.
func (h *Hub) live(code string) *lobby.Lobby {
	lb := h.lobbies[code]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, code)
		return nil
	default:
		return lb
	}
}

func (h *Hub) stopLobbies() {
	for _, lb := range h.lobbies {
		select {
		case lb.Inbox() <- lobby.Shutdown{}:
		case <-lb.Done():
		}
	}
	clear(h.lobbies)
}

func (h *Hub) shutdown() {
	h.stopLobbies()
	h.cancel()
}

// retire runs on the lobby's goroutine once it has stopped itself.
func (h *Hub) retire(lb *lobby.Lobby) {
	select {
	case h.inbox <- RemoveLobby{Code: lb.Room(), Lobby: lb}:
	case <-h.ctx.Done():
	}
}

// Count reports how many lobbies the hub is holding.
func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.inbox <- CountLobbies{Reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, context.Canceled
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, context.Canceled
	}
}

// Ensure is a blocking convenience around EnsureLobby.
func (h *Hub) Ensure(ctx context.Context, code, me string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- EnsureLobby{Code: code, Me: me, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, context.Canceled
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, context.Canceled
	}
}
