package app

import "github.com/dkeye/Parley/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a peer whose send buffer is full.
type Policy interface {
	OnBackPressure(sessionID domain.SessionID, userID domain.UserID) BackpressureAction
}

// SimplePolicy disconnects slow peers; they rejoin and renegotiate.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, domain.UserID) BackpressureAction {
	return KickMember
}
