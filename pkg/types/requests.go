package types

// Client -> Server bodies.
//
// invite:  /app/battle/invite  { fromUsername, toUsername }
// respond: /app/battle/respond { roomCode, accepted, username }
// answer:  /app/battle/answer  { roomCode, username, longitude, latitude }
// quit:    /app/battle/quit    { fromUsername, toUsername: "" }

type InviteRequest struct {
	FromUsername string `json:"fromUsername"`
	ToUsername   string `json:"toUsername"`
}

type RespondRequest struct {
	RoomCode string `json:"roomCode"`
	Accepted bool   `json:"accepted"`
	Username string `json:"username"`
}

type AnswerRequest struct {
	RoomCode  string  `json:"roomCode"`
	Username  string  `json:"username"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// QuitRequest always carries an empty toUsername; the server keys the quit
// on the sender.
type QuitRequest struct {
	FromUsername string `json:"fromUsername"`
	ToUsername   string `json:"toUsername"`
}
