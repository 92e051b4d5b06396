package session

import "errors"

var (
	ErrNoIdentity      = errors.New("no username set")
	ErrEmptyTarget     = errors.New("target username is empty")
	ErrSelfInvite      = errors.New("cannot invite yourself")
	ErrAlreadyInBattle = errors.New("already in a battle")
	ErrEmptyRoomCode   = errors.New("room code is empty")
	ErrBattleOver      = errors.New("battle is already over")
)

// DomainError is a rule violation caught before any network call.
type DomainError struct {
	Op  string
	Err error
}

func (e *DomainError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *DomainError) Unwrap() error { return e.Err }

func domainErr(op string, err error) error { return &DomainError{Op: op, Err: err} }
