package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/campusguess/battle-client/internal/hub"
	"github.com/campusguess/battle-client/internal/lobby"
	"github.com/campusguess/battle-client/internal/types"
	pkgtypes "github.com/campusguess/battle-client/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	replyTimeout = 15 * time.Second
)

// Identity reports the local username the lobby should render for.
type Identity interface {
	Identity() string
}

// Handler streams one room's snapshots over a websocket and feeds guess,
// submit and quit commands back into the lobby.
func Handler(h *hub.Hub, id Identity, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		me := id.Identity()
		if me == "" {
			http.Error(w, "no username set", http.StatusConflict)
			return
		}

		lb, err := h.Ensure(r.Context(), room, me)
		if err != nil || lb == nil {
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan lobby.Snapshot, 8)
		clientID := uuid.NewString()
		log := log.With(zap.String("room", room), zap.String("client", clientID))

		if err := join(r.Context(), lb, lobby.Join{ClientID: clientID, Outbox: out}); err != nil {
			conn.Close(websocket.StatusGoingAway, "lobby closed")
			return
		}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{ClientID: clientID}:
			case <-lb.Done():
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		writerDone := make(chan struct{})
		defer func() {
			cancel()
			<-writerDone
		}()

		// Writer goroutine
		go func() {
			defer close(writerDone)
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// Lobby stopped or dropped us as too slow.
						conn.Close(websocket.StatusGoingAway, "lobby closed")
						return
					}
					msg := types.ServerMessage{Type: types.MsgStateSnapshot, Version: snap.Version, State: &snap}
					if err := writeJSON(ctx, conn, msg); err != nil {
						log.Debug("snapshot write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeError(ctx, conn, "bad json")
				continue
			}

			reply := make(chan error, 1)
			var msg lobby.Msg
			switch cm.Type {
			case types.MsgSetGuess:
				if cm.Lat == nil || cm.Lon == nil {
					_ = writeError(ctx, conn, "lat and lon are required")
					continue
				}
				msg = lobby.SetGuess{Guess: pkgtypes.Coord{Lat: *cm.Lat, Lon: *cm.Lon}, Reply: reply}
			case types.MsgSubmitAnswer:
				msg = lobby.Submit{Reply: reply}
			case types.MsgQuit:
				msg = lobby.Quit{Reply: reply}
			default:
				_ = writeError(ctx, conn, "unknown type")
				continue
			}

			select {
			case lb.Inbox() <- msg:
			case <-lb.Done():
				return
			}
			go awaitReply(ctx, conn, reply)
		}
	}
}

var errLobbyClosed = errors.New("lobby closed")

// join registers the client unless the lobby stops first.
func join(ctx context.Context, lb *lobby.Lobby, msg lobby.Join) error {
	select {
	case lb.Inbox() <- msg:
		return nil
	case <-lb.Done():
		return errLobbyClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitReply reports a failed command back to the client that sent it.
func awaitReply(ctx context.Context, conn *websocket.Conn, reply <-chan error) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	select {
	case err := <-reply:
		if err != nil {
			_ = writeError(ctx, conn, err.Error())
		}
	case <-ctx.Done():
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) error {
	return writeJSON(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: msg})
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
