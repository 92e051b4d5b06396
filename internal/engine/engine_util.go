package engine

import "github.com/campusguess/battle-client/pkg/types"

func NewProjection(room string) Projection {
	return Projection{
		RoomCode:     room,
		Health:       Health{A: MaxHealth, B: MaxHealth},
		CurrentRound: DefaultRound,
		Status:       "waiting for the battle to start",
	}
}

func ContainsType(events []Event, t types.MessageType) bool {
	for _, event := range events {
		if event.Msg.Type == t {
			return true
		}
	}
	return false
}

func clampHealth(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxHealth {
		return MaxHealth
	}
	return v
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func statusOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

// refreshHealth takes the server's snapshot, keeping the last known value
// for any side the message leaves out.
func refreshHealth(prev Health, msg types.BattleMessage) Health {
	return Health{
		A: clampHealth(intOr(msg.PlayerAHealth, prev.A)),
		B: clampHealth(intOr(msg.PlayerBHealth, prev.B)),
	}
}

// View is a projection seen from one player's seat.
type View struct {
	IsPlayerA   bool   `json:"isPlayerA"`
	Opponent    string `json:"opponent"`
	MyHealth    int    `json:"myHealth"`
	OppHealth   int    `json:"oppHealth"`
	MyAnswered  bool   `json:"myAnswered"`
	OppAnswered bool   `json:"oppAnswered"`
	CanSubmit   bool   `json:"canSubmit"`
}

func (p Projection) Perspective(me string) View {
	isA := me != "" && p.Players.A != "" && me == p.Players.A
	v := View{
		IsPlayerA: isA,
		CanSubmit: p.MyGuess != nil && !p.HasSubmitted && !p.Terminal(),
	}
	if isA {
		v.Opponent = p.Players.B
		v.MyHealth, v.OppHealth = p.Health.A, p.Health.B
		v.MyAnswered, v.OppAnswered = p.Answered.A, p.Answered.B
	} else {
		v.Opponent = p.Players.A
		v.MyHealth, v.OppHealth = p.Health.B, p.Health.A
		v.MyAnswered, v.OppAnswered = p.Answered.B, p.Answered.A
	}
	return v
}
