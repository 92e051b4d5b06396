package session

import (
	"strings"

	"github.com/campusguess/battle-client/pkg/types"
)

type Invite struct {
	RoomCode string              `json:"roomCode"`
	From     string              `json:"from"`
	To       string              `json:"to"`
	Message  string              `json:"message,omitempty"`
	Raw      types.InviteMessage `json:"raw"`
}

func normalizeInvite(m types.InviteMessage) Invite {
	return Invite{
		RoomCode: strings.TrimSpace(m.RoomCode),
		From:     m.From(),
		To:       m.To(),
		Message:  m.Message,
		Raw:      m,
	}
}

// inviteSet keeps pending invites in arrival order; the first invite seen
// for a room code wins.
type inviteSet struct {
	order  []string
	byRoom map[string]Invite
	active string
}

func newInviteSet() inviteSet {
	return inviteSet{byRoom: make(map[string]Invite)}
}

func (s *inviteSet) add(inv Invite) bool {
	if _, dup := s.byRoom[inv.RoomCode]; dup {
		return false
	}
	s.byRoom[inv.RoomCode] = inv
	s.order = append(s.order, inv.RoomCode)
	if s.active == "" {
		s.active = inv.RoomCode
	}
	return true
}

func (s *inviteSet) remove(room string) bool {
	if _, ok := s.byRoom[room]; !ok {
		return false
	}
	delete(s.byRoom, room)
	for i, r := range s.order {
		if r == room {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == room {
		s.active = ""
	}
	return true
}

func (s *inviteSet) clear() {
	s.order = nil
	s.byRoom = make(map[string]Invite)
	s.active = ""
}

func (s *inviteSet) list() []Invite {
	out := make([]Invite, 0, len(s.order))
	for _, r := range s.order {
		out = append(out, s.byRoom[r])
	}
	return out
}

func (s *inviteSet) activeInvite() *Invite {
	inv, ok := s.byRoom[s.active]
	if !ok {
		return nil
	}
	return &inv
}
