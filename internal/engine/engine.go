package engine

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var ErrInvalidPhase = errors.New("action not allowed in current phase")
var ErrRoleTaken = errors.New("role already claimed")
var ErrRoomFull = errors.New("both roles are claimed")
var ErrNotInRoom = errors.New("client holds no role in this session")
var ErrNotReady = errors.New("both roles must be claimed and ready")
var ErrSyncWindow = errors.New("confirmation missed the sync window")
var ErrUnsupportedCommand = errors.New("unsupported command")

type TimerClass string

const (
	TimerCountdown TimerClass = "countdown"
	TimerSyncWatch TimerClass = "sync_watch"
	TimerAdvance   TimerClass = "advance"
)

type CommandType string

const (
	CmdClaimRole       CommandType = "ClaimRole"
	CmdReleaseRole     CommandType = "ReleaseRole"
	CmdSetReady        CommandType = "SetReady"
	CmdStart           CommandType = "Start"
	CmdSubmitSelection CommandType = "SubmitSelection"
	CmdConfirm         CommandType = "Confirm"
	CmdSendChat        CommandType = "SendChat"
	CmdRequestHint     CommandType = "RequestHint"
	CmdRequestExit     CommandType = "RequestExit"
	CmdCancelExit      CommandType = "CancelExit"

	// Transport-driven: connection loss for a client that holds a seat.
	CmdDisconnect CommandType = "Disconnect"

	// Timer-driven. The room only delivers these after the controller has
	// vetted the firing generation, and Apply re-checks the phase anyway.
	CmdCountdownFired CommandType = "CountdownFired"
	CmdSyncWatchFired CommandType = "SyncWatchFired"
	CmdAdvanceFired   CommandType = "AdvanceFired"

	// Internal: applied by the room immediately after a confirm closed the
	// sync window, so sync_confirm resolves without a timer.
	CmdResolve CommandType = "Resolve"
)

type Command struct {
	Type     CommandType
	ClientID string
	Role     Role
	Ready    bool
	Tokens   []string
	Text     string
}

type EventType string

const (
	EvtPhaseChanged   EventType = "PhaseChanged"
	EvtTimerArmed     EventType = "TimerArmed"
	EvtTimerCanceled  EventType = "TimerCanceled"
	EvtResync         EventType = "Resync"
	EvtResolvePending EventType = "ResolvePending"
	EvtGameWon        EventType = "GameWon"
	EvtGameAbandoned  EventType = "GameAbandoned"
)

type Event struct {
	Type     EventType
	Phase    Phase
	Class    TimerClass
	Duration time.Duration
}

// Deps are the engine's external collaborators, both pure functions.
// Resolve judges whether the two selections jointly satisfy the level;
// Hint returns the n-th assist text for a level (1-based).
type Deps struct {
	Resolve func(level int, a, b []string) (success bool, message string)
	Hint    func(level, n int) (string, bool)
}

// Apply validates cmd against the current session state and returns the
// events to act on plus the next state. On error the returned state is s
// unchanged; no command is ever partially applied.
func Apply(s Session, cmd Command, now time.Time, deps Deps) ([]Event, Session, error) {
	switch cmd.Type {
	case CmdClaimRole:
		return applyClaim(s, cmd)
	case CmdReleaseRole:
		role, ok := s.RoleOf(cmd.ClientID)
		if !ok {
			return nil, s, ErrNotInRoom
		}
		return applyRelease(s, role)
	case CmdDisconnect:
		role, ok := s.RoleOf(cmd.ClientID)
		if !ok {
			// Spectator or already-released client dropping is not an event.
			return nil, s, nil
		}
		return applyRelease(s, role)
	case CmdSetReady:
		return applySetReady(s, cmd)
	case CmdStart:
		return applyStart(s, cmd, now)
	case CmdSubmitSelection:
		return applySubmit(s, cmd)
	case CmdConfirm:
		return applyConfirm(s, cmd, now)
	case CmdSendChat:
		return applyChat(s, cmd, now)
	case CmdRequestHint:
		return applyHint(s, cmd, deps)
	case CmdRequestExit:
		return applyExit(s, cmd, true)
	case CmdCancelExit:
		return applyExit(s, cmd, false)
	case CmdCountdownFired:
		return applyCountdownFired(s)
	case CmdSyncWatchFired:
		return applySyncWatchFired(s)
	case CmdAdvanceFired:
		return applyAdvanceFired(s, now)
	case CmdResolve:
		return applyResolve(s, deps)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyClaim(s Session, cmd Command) ([]Event, Session, error) {
	if s.Phase != PhaseLobby {
		return nil, s, ErrInvalidPhase
	}
	slot := s.Players[cmd.Role]
	if slot.ClientID == cmd.ClientID {
		// Re-claiming your own seat is idempotent.
		return nil, s, nil
	}
	if slot.ClientID != "" {
		if s.Players[cmd.Role.Other()].ClientID != "" {
			return nil, s, ErrRoomFull
		}
		return nil, s, ErrRoleTaken
	}
	if _, held := s.RoleOf(cmd.ClientID); held {
		// One seat per client.
		return nil, s, ErrRoleTaken
	}
	next := s.clone()
	next.Players[cmd.Role] = PlayerSlot{ClientID: cmd.ClientID}
	return nil, next, nil
}

// applyRelease vacates a seat. Outside the lobby a half-populated session is
// never left standing: all timers die and the phase returns to lobby.
func applyRelease(s Session, role Role) ([]Event, Session, error) {
	next := s.clone()
	next.Players[role] = PlayerSlot{}
	next.ExitRequests[role] = false

	if s.Phase == PhaseLobby {
		return nil, next, nil
	}

	next.Phase = PhaseLobby
	next.StartAt = 0
	next.CountdownMs = 0
	for r, p := range next.Players {
		p.ConfirmedAt = 0
		p.Selection = nil
		next.Players[r] = p
	}
	events := append(cancelAllTimers(), Event{Type: EvtPhaseChanged, Phase: PhaseLobby})
	return events, next, nil
}

func applySetReady(s Session, cmd Command) ([]Event, Session, error) {
	if s.Phase != PhaseLobby {
		return nil, s, ErrInvalidPhase
	}
	role, ok := s.RoleOf(cmd.ClientID)
	if !ok {
		return nil, s, ErrNotInRoom
	}
	next := s.clone()
	slot := next.Players[role]
	slot.Ready = cmd.Ready
	next.Players[role] = slot
	return nil, next, nil
}

func applyStart(s Session, cmd Command, now time.Time) ([]Event, Session, error) {
	if s.Phase == PhaseBriefing {
		// A second start while the countdown runs is a no-op.
		return nil, s, nil
	}
	if s.Phase != PhaseLobby {
		return nil, s, ErrInvalidPhase
	}
	if _, ok := s.RoleOf(cmd.ClientID); !ok {
		return nil, s, ErrNotInRoom
	}
	for _, p := range s.Players {
		if p.ClientID == "" || !p.Ready {
			return nil, s, ErrNotReady
		}
	}
	next := enterBriefing(s.clone(), now)
	events := []Event{
		{Type: EvtPhaseChanged, Phase: PhaseBriefing},
		{Type: EvtTimerArmed, Class: TimerCountdown, Duration: s.Rules.StartDelay},
	}
	return events, next, nil
}

func enterBriefing(next Session, now time.Time) Session {
	next.Phase = PhaseBriefing
	next.StartAt = now.Add(next.Rules.StartDelay).UnixMilli()
	next.CountdownMs = next.Rules.StartDelay.Milliseconds()
	return next
}

func applySubmit(s Session, cmd Command) ([]Event, Session, error) {
	if s.Phase != PhaseActive {
		return nil, s, ErrInvalidPhase
	}
	role, ok := s.RoleOf(cmd.ClientID)
	if !ok {
		return nil, s, ErrNotInRoom
	}
	next := s.clone()
	slot := next.Players[role]
	slot.Selection = slices.Clone(cmd.Tokens)
	next.Players[role] = slot
	return nil, next, nil
}

// applyConfirm implements the dual-client sync rule. The window boundary is
// inclusive: a gap of exactly Rules.SyncWindow still counts as simultaneous.
// A confirm that arrives against a stamp older than the window is rejected
// with ErrSyncWindow and mutates nothing; the watchdog timer is what clears
// the stale stamp.
func applyConfirm(s Session, cmd Command, now time.Time) ([]Event, Session, error) {
	if s.Phase != PhaseActive {
		return nil, s, ErrInvalidPhase
	}
	role, ok := s.RoleOf(cmd.ClientID)
	if !ok {
		return nil, s, ErrNotInRoom
	}
	nowMs := now.UnixMilli()
	other := s.Players[role.Other()]

	if other.ConfirmedAt != 0 {
		if nowMs-other.ConfirmedAt > s.Rules.SyncWindow.Milliseconds() {
			return nil, s, ErrSyncWindow
		}
		next := s.clone()
		slot := next.Players[role]
		slot.ConfirmedAt = nowMs
		next.Players[role] = slot
		next.Phase = PhaseSyncConfirm
		events := []Event{
			{Type: EvtTimerCanceled, Class: TimerSyncWatch},
			{Type: EvtPhaseChanged, Phase: PhaseSyncConfirm},
			{Type: EvtResolvePending},
		}
		return events, next, nil
	}

	// First confirm of the round: stamp it and start the watchdog. A repeat
	// confirm by the same player just moves their stamp and the window.
	next := s.clone()
	slot := next.Players[role]
	slot.ConfirmedAt = nowMs
	next.Players[role] = slot
	events := []Event{
		{Type: EvtTimerArmed, Class: TimerSyncWatch, Duration: s.Rules.SyncWindow},
	}
	return events, next, nil
}

func applyChat(s Session, cmd Command, now time.Time) ([]Event, Session, error) {
	role, ok := s.RoleOf(cmd.ClientID)
	if !ok {
		return nil, s, ErrNotInRoom
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return nil, s, nil
	}
	if runes := []rune(text); len(runes) > ChatMaxRunes {
		text = string(runes[:ChatMaxRunes])
	}
	next := s.clone()
	next.Chat = append(next.Chat, ChatMessage{Role: role, Text: text, At: now.UnixMilli()})
	if len(next.Chat) > ChatMaxEntries {
		next.Chat = next.Chat[len(next.Chat)-ChatMaxEntries:]
	}
	return nil, next, nil
}

func applyHint(s Session, cmd Command, deps Deps) ([]Event, Session, error) {
	if s.Phase != PhaseActive {
		return nil, s, ErrInvalidPhase
	}
	if _, ok := s.RoleOf(cmd.ClientID); !ok {
		return nil, s, ErrNotInRoom
	}
	text, ok := deps.Hint(s.LevelID, s.HintCount+1)
	if !ok {
		// Out of hints for this level.
		return nil, s, nil
	}
	next := s.clone()
	next.HintCount++
	next.CurrentHint = text
	return nil, next, nil
}

func applyExit(s Session, cmd Command, want bool) ([]Event, Session, error) {
	role, ok := s.RoleOf(cmd.ClientID)
	if !ok {
		return nil, s, ErrNotInRoom
	}
	if want && s.ExitRequests[role.Other()] {
		// Both want out: abandon the game and fall back to a fresh lobby.
		reset := NewSession(s.Code, s.Rules)
		events := append(cancelAllTimers(),
			Event{Type: EvtGameAbandoned},
			Event{Type: EvtPhaseChanged, Phase: PhaseLobby},
		)
		return events, reset, nil
	}
	next := s.clone()
	next.ExitRequests[role] = want
	return nil, next, nil
}

func applyCountdownFired(s Session) ([]Event, Session, error) {
	if s.Phase != PhaseBriefing {
		// Stale fire, the phase moved on without us.
		return nil, s, nil
	}
	next := s.clone()
	next.Phase = PhaseActive
	next.StartAt = 0
	next.CountdownMs = 0
	for r, p := range next.Players {
		p.Selection = nil
		p.ConfirmedAt = 0
		next.Players[r] = p
	}
	return []Event{{Type: EvtPhaseChanged, Phase: PhaseActive}}, next, nil
}

func applySyncWatchFired(s Session) ([]Event, Session, error) {
	if s.Phase != PhaseActive {
		return nil, s, nil
	}
	stamped := false
	for _, p := range s.Players {
		if p.ConfirmedAt != 0 {
			stamped = true
		}
	}
	if !stamped {
		return nil, s, nil
	}
	next := s.clone()
	for r, p := range next.Players {
		p.ConfirmedAt = 0
		next.Players[r] = p
	}
	return []Event{{Type: EvtResync}}, next, nil
}

// applyResolve consults the puzzle resolver and leaves sync_confirm for
// success or retry. Retry keeps the hint state so repeated attempts are not
// punished; success keeps both selections on display until auto-advance.
func applyResolve(s Session, deps Deps) ([]Event, Session, error) {
	if s.Phase != PhaseSyncConfirm {
		return nil, s, nil
	}
	a := s.Players[RoleA].Selection
	b := s.Players[RoleB].Selection
	success, message := deps.Resolve(s.LevelID, a, b)

	next := s.clone()
	next.ResultSuccess = success
	next.ResultMessage = message
	for r, p := range next.Players {
		p.ConfirmedAt = 0
		if !success {
			p.Selection = nil
		}
		next.Players[r] = p
	}

	if !success {
		next.Phase = PhaseRetry
		events := []Event{
			{Type: EvtPhaseChanged, Phase: PhaseRetry},
			{Type: EvtTimerArmed, Class: TimerAdvance, Duration: s.Rules.RetryDelay},
		}
		return events, next, nil
	}

	next.Phase = PhaseSuccess
	if next.LevelID >= next.Rules.FinalLevel {
		// Terminal success: no auto-advance, the orchestrator takes over.
		events := []Event{
			{Type: EvtPhaseChanged, Phase: PhaseSuccess},
			{Type: EvtGameWon},
		}
		return events, next, nil
	}
	events := []Event{
		{Type: EvtPhaseChanged, Phase: PhaseSuccess},
		{Type: EvtTimerArmed, Class: TimerAdvance, Duration: s.Rules.AdvanceDelay},
	}
	return events, next, nil
}

func applyAdvanceFired(s Session, now time.Time) ([]Event, Session, error) {
	switch s.Phase {
	case PhaseRetry:
		next := s.clone()
		next.Phase = PhaseActive
		return []Event{{Type: EvtPhaseChanged, Phase: PhaseActive}}, next, nil

	case PhaseSuccess:
		if s.LevelID >= s.Rules.FinalLevel {
			return nil, s, nil
		}
		next := s.clone()
		next.LevelID++
		next.ResultMessage = ""
		next.ResultSuccess = false
		next.HintCount = 0
		next.CurrentHint = ""
		for r, p := range next.Players {
			p.Selection = nil
			p.ConfirmedAt = 0
			next.Players[r] = p
		}
		next = enterBriefing(next, now)
		events := []Event{
			{Type: EvtPhaseChanged, Phase: PhaseBriefing},
			{Type: EvtTimerArmed, Class: TimerCountdown, Duration: s.Rules.StartDelay},
		}
		return events, next, nil

	default:
		return nil, s, nil
	}
}

func cancelAllTimers() []Event {
	return []Event{
		{Type: EvtTimerCanceled, Class: TimerCountdown},
		{Type: EvtTimerCanceled, Class: TimerSyncWatch},
		{Type: EvtTimerCanceled, Class: TimerAdvance},
	}
}

// ContainsEvent reports whether events carries one of the given type.
func ContainsEvent(events []Event, t EventType) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// ErrorCode maps engine errors onto the wire taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, ErrRoleTaken):
		return "role_taken"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrSyncWindow):
		return "resync"
	default:
		return "internal"
	}
}
