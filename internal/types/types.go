package types

import "github.com/campusguess/battle-client/internal/lobby"

// Client -> local ws messages.
const (
	MsgSetGuess     = "SetGuess"
	MsgSubmitAnswer = "SubmitAnswer"
	MsgQuit         = "Quit"
)

// Local ws -> client messages.
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"
)

type ClientMessage struct {
	Type string   `json:"type"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

type ServerMessage struct {
	Type    string          `json:"type"` // "StateSnapshot" | "Error"
	Version int             `json:"version,omitempty"`
	State   *lobby.Snapshot `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
}
