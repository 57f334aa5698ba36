package engine

import (
	"maps"
	"slices"
	"time"
)

type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseBriefing    Phase = "briefing"
	PhaseActive      Phase = "active"
	PhaseSyncConfirm Phase = "sync_confirm"
	PhaseSuccess     Phase = "success"
	PhaseRetry       Phase = "retry"
)

type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

func (r Role) Other() Role {
	if r == RoleA {
		return RoleB
	}
	return RoleA
}

const (
	ChatMaxEntries = 20
	ChatMaxRunes   = 240
)

// PlayerSlot is one of the two fixed seats in a session. An empty ClientID
// means the seat is unclaimed.
type PlayerSlot struct {
	ClientID    string
	Selection   []string
	ConfirmedAt int64 // unix ms, 0 = not confirmed this round
	Ready       bool
}

type ChatMessage struct {
	Role Role
	Text string
	At   int64 // unix ms
}

// Rules are the per-process session parameters, injected at room creation.
type Rules struct {
	StartDelay   time.Duration // briefing countdown
	SyncWindow   time.Duration // max gap between the two confirms
	RetryDelay   time.Duration // retry -> active
	AdvanceDelay time.Duration // success -> next briefing
	FinalLevel   int
}

// Session is the authoritative state for one room code.
type Session struct {
	Code          string
	Phase         Phase
	LevelID       int
	StartAt       int64 // unix ms the countdown ends, 0 when idle
	CountdownMs   int64
	HintCount     int
	CurrentHint   string
	ResultMessage string
	ResultSuccess bool
	Chat          []ChatMessage
	ExitRequests  map[Role]bool
	Players       map[Role]PlayerSlot
	Rules         Rules
}

// NewSession returns a fully-initialized lobby-phase session. Every reset
// funnels through here so a reset room is indistinguishable from a fresh one.
func NewSession(code string, rules Rules) Session {
	return Session{
		Code:         code,
		Phase:        PhaseLobby,
		LevelID:      1,
		Chat:         []ChatMessage{},
		ExitRequests: map[Role]bool{RoleA: false, RoleB: false},
		Players:      map[Role]PlayerSlot{RoleA: {}, RoleB: {}},
		Rules:        rules,
	}
}

// ConnectedCount derives the number of claimed seats; it is never stored.
func (s Session) ConnectedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.ClientID != "" {
			n++
		}
	}
	return n
}

// RoleOf reports which seat, if any, the client occupies.
func (s Session) RoleOf(clientID string) (Role, bool) {
	if clientID == "" {
		return "", false
	}
	for role, p := range s.Players {
		if p.ClientID == clientID {
			return role, true
		}
	}
	return "", false
}

// clone deep-copies the session so Apply can mutate freely. A rejected
// command returns the original, untouched value.
func (s Session) clone() Session {
	c := s
	c.Chat = slices.Clone(s.Chat)
	c.ExitRequests = maps.Clone(s.ExitRequests)
	c.Players = make(map[Role]PlayerSlot, len(s.Players))
	for role, p := range s.Players {
		p.Selection = slices.Clone(p.Selection)
		c.Players[role] = p
	}
	return c
}
