package engine

import (
	"errors"

	"github.com/campusguess/battle-client/pkg/types"
)

var ErrGameAlreadyOver = errors.New("game already over")
var ErrAlreadySubmitted = errors.New("answer already submitted")
var ErrNoGuess = errors.New("no guess placed")

const (
	MaxHealth    = 100
	DefaultRound = 1

	// StatusWaitingForOpponent is shown after the local answer went through.
	StatusWaitingForOpponent = "answer submitted, waiting for opponent"
)

// Event is one entry of the session log. Seq is assigned on ingestion and
// is the only ordering and de-duplication key.
type Event struct {
	Seq uint64
	Msg types.BattleMessage
}

type Players struct {
	A string `json:"a"`
	B string `json:"b"`
}

type Health struct {
	A int `json:"a"`
	B int `json:"b"`
}

type Answered struct {
	A bool `json:"a"`
	B bool `json:"b"`
}

type GameOver struct {
	Winner  string `json:"winner"`
	Message string `json:"message"`
}

// Projection is the per-room UI state folded from the event log. MyGuess and
// HasSubmitted are the only locally owned fields.
type Projection struct {
	RoomCode        string             `json:"roomCode"`
	Started         bool               `json:"started"`
	Players         Players            `json:"players"`
	Health          Health             `json:"health"`
	CurrentRound    int                `json:"currentRound"`
	Question        *types.Question    `json:"question,omitempty"`
	MyGuess         *types.Coord       `json:"myGuess,omitempty"`
	HasSubmitted    bool               `json:"hasSubmitted"`
	Answered        Answered           `json:"answered"`
	RoundResult     *types.RoundResult `json:"roundResult,omitempty"`
	ShowRoundResult bool               `json:"showRoundResult"`
	GameOver        *GameOver          `json:"gameOver,omitempty"`
	Status          string             `json:"status"`
}

func (p Projection) Terminal() bool { return p.GameOver != nil }

/*
	GAME_START      -> players, health (default 100), round (default 1), question; clear per-game flags
	NEW_QUESTION    -> round (+1 if absent), question, health; clear per-round flags
	PLAYER_ANSWERED -> answered flags only
	ROUND_RESULT    -> health, round, result breakdown; result visible
	GAME_OVER       -> health, winner + message; terminal
	anything else   -> status line only
*/

// Apply folds one message into p. Messages for other rooms and anything
// after GAME_OVER leave p untouched.
func Apply(p Projection, msg types.BattleMessage) Projection {
	if msg.RoomCode != p.RoomCode || p.Terminal() {
		return p
	}

	next := p

	switch msg.Type {
	case types.TypeGameStart:
		next.Started = true
		next.Players = Players{A: msg.PlayerA, B: msg.PlayerB}
		next.Health = Health{
			A: clampHealth(intOr(msg.PlayerAHealth, MaxHealth)),
			B: clampHealth(intOr(msg.PlayerBHealth, MaxHealth)),
		}
		next.CurrentRound = intOr(msg.CurrentRound, DefaultRound)
		next.Question = msg.Question
		next.MyGuess = nil
		next.HasSubmitted = false
		next.Answered = Answered{A: msg.PlayerAAnswered, B: msg.PlayerBAnswered}
		next.RoundResult = nil
		next.ShowRoundResult = false
		next.GameOver = nil
		next.Status = statusOr(msg.Message, "battle started")

	case types.TypeNewQuestion:
		next.CurrentRound = intOr(msg.CurrentRound, p.CurrentRound+1)
		next.Question = msg.Question
		next.Health = refreshHealth(p.Health, msg)
		next.MyGuess = nil
		next.HasSubmitted = false
		next.Answered = Answered{}
		next.RoundResult = nil
		next.ShowRoundResult = false
		next.Status = statusOr(msg.Message, "new round")

	case types.TypePlayerAnswered:
		next.Answered = Answered{A: msg.PlayerAAnswered, B: msg.PlayerBAnswered}
		next.Status = statusOr(msg.Message, "opponent answered")

	case types.TypeRoundResult:
		next.Health = refreshHealth(p.Health, msg)
		next.CurrentRound = intOr(msg.CurrentRound, p.CurrentRound)
		if msg.RoundResult != nil {
			rr := *msg.RoundResult
			next.RoundResult = &rr
		} else {
			next.RoundResult = nil
		}
		next.ShowRoundResult = true
		next.Status = statusOr(msg.Message, "round over")

	case types.TypeGameOver:
		next.Health = refreshHealth(p.Health, msg)
		msgText := statusOr(msg.Message, "game over")
		next.GameOver = &GameOver{Winner: msg.Winner, Message: msgText}
		next.Status = msgText

	default:
		next.Status = msg.Message
	}

	return next
}

// Reduce folds events for room from an empty projection.
func Reduce(room string, events []Event) Projection {
	r := NewReducer(room)
	r.Consume(events)
	return r.State()
}

// SetGuess records the local map marker.
func SetGuess(p Projection, c types.Coord) (Projection, error) {
	if p.Terminal() {
		return p, ErrGameAlreadyOver
	}
	if p.HasSubmitted {
		return p, ErrAlreadySubmitted
	}
	p.MyGuess = &c
	return p, nil
}

// MarkSubmitted locks the guess before the answer is published.
func MarkSubmitted(p Projection) (Projection, error) {
	if p.Terminal() {
		return p, ErrGameAlreadyOver
	}
	if p.HasSubmitted {
		return p, ErrAlreadySubmitted
	}
	if p.MyGuess == nil {
		return p, ErrNoGuess
	}
	p.HasSubmitted = true
	return p, nil
}

// MarkAnswered flags me's side as answered once the server accepted the
// answer. An unknown seat leaves the flags alone.
func MarkAnswered(p Projection, me string) Projection {
	switch {
	case me == "":
	case me == p.Players.A:
		p.Answered.A = true
	case me == p.Players.B:
		p.Answered.B = true
	}
	if !p.Terminal() {
		p.Status = StatusWaitingForOpponent
	}
	return p
}

// ClearSubmitted unlocks the guess after a failed publish.
func ClearSubmitted(p Projection, status string) Projection {
	p.HasSubmitted = false
	if status != "" {
		p.Status = status
	}
	return p
}
