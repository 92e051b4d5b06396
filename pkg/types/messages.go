package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> Server destinations (STOMP SEND).
const (
	DestInvite  = "/app/battle/invite"
	DestRespond = "/app/battle/respond"
	DestAnswer  = "/app/battle/answer"
	DestQuit    = "/app/battle/quit"
)

// Server -> Client topics, scoped to the connected user.
const (
	TopicInvite = "/user/queue/battle/invite"
	TopicState  = "/user/queue/battle/state"
)

var ErrMalformed = errors.New("malformed message")

type MessageType string

const (
	TypeGameStart      MessageType = "GAME_START"
	TypeNewQuestion    MessageType = "NEW_QUESTION"
	TypePlayerAnswered MessageType = "PLAYER_ANSWERED"
	TypeRoundResult    MessageType = "ROUND_RESULT"
	TypeGameOver       MessageType = "GAME_OVER"
	TypeInviteRejected MessageType = "INVITE_REJECTED"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Question struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title,omitempty"`
	Campus       string     `json:"campus,omitempty"`
	Difficulty   string     `json:"difficulty,omitempty"`
	CorrectCoord *Coord     `json:"correctCoord,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	ImageData    *ImageData `json:"imageData,omitempty"`
}

type ImageData struct {
	Links struct {
		URL string `json:"url"`
	} `json:"links"`
}

// Image returns the hosted image link, preferring the upload host's payload.
func (q *Question) Image() string {
	if q == nil {
		return ""
	}
	if q.ImageData != nil && q.ImageData.Links.URL != "" {
		return q.ImageData.Links.URL
	}
	return q.ImageURL
}

type RoundResult struct {
	PlayerADistance float64 `json:"playerADistance"`
	PlayerBDistance float64 `json:"playerBDistance"`
	DamagedPlayer   string  `json:"damagedPlayer"`
	Damage          int     `json:"damage"`
}

// BattleMessage is everything the state topic can carry. Numeric fields are
// pointers so "absent" and "zero" stay distinguishable.
type BattleMessage struct {
	Type            MessageType  `json:"type"`
	RoomCode        string       `json:"roomCode"`
	PlayerA         string       `json:"playerA,omitempty"`
	PlayerB         string       `json:"playerB,omitempty"`
	PlayerAHealth   *int         `json:"playerAHealth,omitempty"`
	PlayerBHealth   *int         `json:"playerBHealth,omitempty"`
	CurrentRound    *int         `json:"currentRound,omitempty"`
	Question        *Question    `json:"question,omitempty"`
	PlayerAAnswered bool         `json:"playerAAnswered,omitempty"`
	PlayerBAnswered bool         `json:"playerBAnswered,omitempty"`
	Countdown       *int         `json:"countdown,omitempty"`
	RoundResult     *RoundResult `json:"roundResult,omitempty"`
	Winner          string       `json:"winner,omitempty"`
	Message         string       `json:"message,omitempty"`
}

// InviteMessage arrives on the invite topic. Older servers put the inviter
// in playerA and the invitee in playerB.
type InviteMessage struct {
	RoomCode string `json:"roomCode"`
	FromUser string `json:"fromUser,omitempty"`
	ToUser   string `json:"toUser,omitempty"`
	PlayerA  string `json:"playerA,omitempty"`
	PlayerB  string `json:"playerB,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (m InviteMessage) From() string {
	if m.FromUser != "" {
		return m.FromUser
	}
	return m.PlayerA
}

func (m InviteMessage) To() string {
	if m.ToUser != "" {
		return m.ToUser
	}
	return m.PlayerB
}

func DecodeBattleMessage(data []byte) (BattleMessage, error) {
	var m BattleMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return BattleMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

func DecodeInviteMessage(data []byte) (InviteMessage, error) {
	var m InviteMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return InviteMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// Int is a helper for building messages with optional numeric fields.
func Int(v int) *int { return &v }
