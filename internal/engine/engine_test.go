package engine

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

var testRules = Rules{
	StartDelay:   5 * time.Second,
	SyncWindow:   10 * time.Second,
	RetryDelay:   3 * time.Second,
	AdvanceDelay: 5 * time.Second,
	FinalLevel:   3,
}

var base = time.UnixMilli(1_700_000_000_000)

func testDeps(success bool) Deps {
	return Deps{
		Resolve: func(level int, a, b []string) (bool, string) {
			if success {
				return true, "open"
			}
			return false, "locked"
		},
		Hint: func(level, n int) (string, bool) {
			if n >= 1 && n <= 2 {
				return fmt.Sprintf("hint %d", n), true
			}
			return "", false
		},
	}
}

func bothClaimed() Session {
	s := NewSession("ROOM1", testRules)
	s.Players[RoleA] = PlayerSlot{ClientID: "ca", Ready: true}
	s.Players[RoleB] = PlayerSlot{ClientID: "cb", Ready: true}
	return s
}

func activeSession() Session {
	s := bothClaimed()
	s.Phase = PhaseActive
	return s
}

func TestClaimRole_FirstWriterWins(t *testing.T) {
	s := NewSession("ROOM1", testRules)

	_, s, err := Apply(s, Command{Type: CmdClaimRole, ClientID: "ca", Role: RoleA}, base, testDeps(false))
	if err != nil {
		t.Fatalf("first claim: unexpected err %v", err)
	}
	if s.Players[RoleA].ClientID != "ca" {
		t.Fatalf("want seat A held by ca, got %q", s.Players[RoleA].ClientID)
	}

	before := s
	_, after, err := Apply(s, Command{Type: CmdClaimRole, ClientID: "cb", Role: RoleA}, base, testDeps(false))
	if !errors.Is(err, ErrRoleTaken) {
		t.Fatalf("want ErrRoleTaken, got %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rejected claim mutated the session")
	}
}

func TestClaimRole_IdempotentForSameClient(t *testing.T) {
	s := bothClaimed()
	_, next, err := Apply(s, Command{Type: CmdClaimRole, ClientID: "ca", Role: RoleA}, base, testDeps(false))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if !reflect.DeepEqual(s, next) {
		t.Fatalf("re-claim changed the session")
	}
}

func TestClaimRole_ThirdClientFindsRoomFull(t *testing.T) {
	s := bothClaimed()
	_, next, err := Apply(s, Command{Type: CmdClaimRole, ClientID: "cc", Role: RoleA}, base, testDeps(false))
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}
	if !reflect.DeepEqual(s, next) {
		t.Fatalf("rejected claim mutated the session")
	}
}

func TestClaimRole_OneSeatPerClient(t *testing.T) {
	s := NewSession("ROOM1", testRules)
	_, s, _ = Apply(s, Command{Type: CmdClaimRole, ClientID: "ca", Role: RoleA}, base, testDeps(false))
	_, _, err := Apply(s, Command{Type: CmdClaimRole, ClientID: "ca", Role: RoleB}, base, testDeps(false))
	if !errors.Is(err, ErrRoleTaken) {
		t.Fatalf("want ErrRoleTaken, got %v", err)
	}
}

func TestStart_Preconditions(t *testing.T) {
	cases := []struct {
		name    string
		setup   func() Session
		wantErr error
	}{
		{
			name:    "both claimed and ready",
			setup:   bothClaimed,
			wantErr: nil,
		},
		{
			name: "missing second player",
			setup: func() Session {
				s := bothClaimed()
				s.Players[RoleB] = PlayerSlot{}
				return s
			},
			wantErr: ErrNotReady,
		},
		{
			name: "second player not ready",
			setup: func() Session {
				s := bothClaimed()
				p := s.Players[RoleB]
				p.Ready = false
				s.Players[RoleB] = p
				return s
			},
			wantErr: ErrNotReady,
		},
		{
			name: "caller holds no seat",
			setup: func() Session {
				s := bothClaimed()
				s.Players[RoleA] = PlayerSlot{ClientID: "cx", Ready: true}
				return s
			},
			wantErr: ErrNotInRoom,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.setup()
			events, next, err := Apply(s, Command{Type: CmdStart, ClientID: "ca"}, base, testDeps(false))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				if !reflect.DeepEqual(s, next) {
					t.Fatalf("rejected start mutated the session")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			if next.Phase != PhaseBriefing {
				t.Fatalf("want briefing, got %v", next.Phase)
			}
			if next.StartAt != base.Add(testRules.StartDelay).UnixMilli() {
				t.Fatalf("wrong StartAt %d", next.StartAt)
			}
			if !ContainsEvent(events, EvtTimerArmed) {
				t.Fatalf("expected countdown to be armed")
			}
		})
	}
}

func TestStart_SecondStartDuringBriefingIsNoop(t *testing.T) {
	s := bothClaimed()
	_, s, _ = Apply(s, Command{Type: CmdStart, ClientID: "ca"}, base, testDeps(false))

	events, next, err := Apply(s, Command{Type: CmdStart, ClientID: "cb"}, base, testDeps(false))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if len(events) != 0 || !reflect.DeepEqual(s, next) {
		t.Fatalf("second start was not a no-op")
	}
}

func TestRelease_DuringBriefingReturnsToLobby(t *testing.T) {
	s := bothClaimed()
	_, s, _ = Apply(s, Command{Type: CmdStart, ClientID: "ca"}, base, testDeps(false))

	events, next, err := Apply(s, Command{Type: CmdReleaseRole, ClientID: "cb"}, base, testDeps(false))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.Phase != PhaseLobby {
		t.Fatalf("want lobby, got %v", next.Phase)
	}
	if next.Players[RoleB].ClientID != "" {
		t.Fatalf("seat B should be vacated")
	}
	if next.StartAt != 0 || next.CountdownMs != 0 {
		t.Fatalf("countdown fields should be zeroed")
	}
	if !ContainsEvent(events, EvtTimerCanceled) {
		t.Fatalf("expected timer cancels on release")
	}

	// The countdown that was running must be a no-op if it still fires.
	evts, after, err := Apply(next, Command{Type: CmdCountdownFired}, base, testDeps(false))
	if err != nil || len(evts) != 0 || !reflect.DeepEqual(next, after) {
		t.Fatalf("stale countdown fire was not a no-op")
	}
}

func TestDisconnect_UnseatedClientIsSilent(t *testing.T) {
	s := bothClaimed()
	events, next, err := Apply(s, Command{Type: CmdDisconnect, ClientID: "spectator"}, base, testDeps(false))
	if err != nil || len(events) != 0 || !reflect.DeepEqual(s, next) {
		t.Fatalf("spectator disconnect should be silent")
	}
}

func TestCountdownFired_EntersActive(t *testing.T) {
	s := bothClaimed()
	_, s, _ = Apply(s, Command{Type: CmdStart, ClientID: "ca"}, base, testDeps(false))

	events, next, err := Apply(s, Command{Type: CmdCountdownFired}, base.Add(testRules.StartDelay), testDeps(false))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.Phase != PhaseActive {
		t.Fatalf("want active, got %v", next.Phase)
	}
	for role, p := range next.Players {
		if p.Selection != nil || p.ConfirmedAt != 0 {
			t.Fatalf("seat %s not cleared on entering active", role)
		}
	}
	if !ContainsEvent(events, EvtPhaseChanged) {
		t.Fatalf("expected phase change event")
	}
}

func TestConfirm_WithinWindowSyncs(t *testing.T) {
	cases := []struct {
		name string
		gap  time.Duration
		sync bool
	}{
		{"three seconds apart", 3 * time.Second, true},
		{"exactly at the boundary", testRules.SyncWindow, true},
		{"one ms past the boundary", testRules.SyncWindow + time.Millisecond, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := activeSession()
			_, s, err := Apply(s, Command{Type: CmdConfirm, ClientID: "ca"}, base, testDeps(false))
			if err != nil {
				t.Fatalf("first confirm: %v", err)
			}
			if s.Players[RoleA].ConfirmedAt != base.UnixMilli() {
				t.Fatalf("first confirm not stamped")
			}

			events, next, err := Apply(s, Command{Type: CmdConfirm, ClientID: "cb"}, base.Add(tc.gap), testDeps(false))
			if !tc.sync {
				if !errors.Is(err, ErrSyncWindow) {
					t.Fatalf("want ErrSyncWindow, got %v", err)
				}
				if !reflect.DeepEqual(s, next) {
					t.Fatalf("rejected confirm mutated the session")
				}
				return
			}
			if err != nil {
				t.Fatalf("second confirm: %v", err)
			}
			if next.Phase != PhaseSyncConfirm {
				t.Fatalf("want sync_confirm, got %v", next.Phase)
			}
			if !ContainsEvent(events, EvtResolvePending) {
				t.Fatalf("expected resolve to be pending")
			}
		})
	}
}

func TestConfirm_OutsideActiveRejected(t *testing.T) {
	s := bothClaimed()
	_, _, err := Apply(s, Command{Type: CmdConfirm, ClientID: "ca"}, base, testDeps(false))
	if !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("want ErrInvalidPhase, got %v", err)
	}
}

func TestSyncWatchFired_ClearsLoneStamp(t *testing.T) {
	s := activeSession()
	_, s, _ = Apply(s, Command{Type: CmdConfirm, ClientID: "ca"}, base, testDeps(false))

	events, next, err := Apply(s, Command{Type: CmdSyncWatchFired}, base.Add(testRules.SyncWindow), testDeps(false))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.Players[RoleA].ConfirmedAt != 0 {
		t.Fatalf("stale stamp not cleared")
	}
	if !ContainsEvent(events, EvtResync) {
		t.Fatalf("expected resync event")
	}

	// A confirm after the wipe starts a fresh window.
	_, next, err = Apply(next, Command{Type: CmdConfirm, ClientID: "cb"}, base.Add(20*time.Second), testDeps(false))
	if err != nil {
		t.Fatalf("fresh confirm after resync: %v", err)
	}
	if next.Players[RoleB].ConfirmedAt == 0 {
		t.Fatalf("fresh confirm not stamped")
	}
}

func confirmBoth(t *testing.T, s Session, deps Deps) ([]Event, Session) {
	t.Helper()
	_, s, err := Apply(s, Command{Type: CmdConfirm, ClientID: "ca"}, base, deps)
	if err != nil {
		t.Fatalf("confirm a: %v", err)
	}
	_, s, err = Apply(s, Command{Type: CmdConfirm, ClientID: "cb"}, base.Add(time.Second), deps)
	if err != nil {
		t.Fatalf("confirm b: %v", err)
	}
	events, s, err := Apply(s, Command{Type: CmdResolve}, base.Add(time.Second), deps)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return events, s
}

func TestResolve_FailureEntersRetryKeepingHints(t *testing.T) {
	s := activeSession()
	s.HintCount = 2
	s.CurrentHint = "hint 2"
	_, s, _ = Apply(s, Command{Type: CmdSubmitSelection, ClientID: "ca", Tokens: []string{"x"}}, base, testDeps(false))

	events, next := confirmBoth(t, s, testDeps(false))
	if next.Phase != PhaseRetry {
		t.Fatalf("want retry, got %v", next.Phase)
	}
	if next.ResultSuccess || next.ResultMessage != "locked" {
		t.Fatalf("result not recorded: %+v", next)
	}
	for role, p := range next.Players {
		if p.Selection != nil || p.ConfirmedAt != 0 {
			t.Fatalf("seat %s not cleared entering retry", role)
		}
	}
	if next.HintCount != 2 || next.CurrentHint != "hint 2" {
		t.Fatalf("retry must preserve hint state")
	}
	if !ContainsEvent(events, EvtTimerArmed) {
		t.Fatalf("expected retry delay to be armed")
	}

	// After the delay the session resumes active play.
	_, resumed, err := Apply(next, Command{Type: CmdAdvanceFired}, base.Add(testRules.RetryDelay), testDeps(false))
	if err != nil {
		t.Fatalf("advance from retry: %v", err)
	}
	if resumed.Phase != PhaseActive {
		t.Fatalf("want active after retry delay, got %v", resumed.Phase)
	}
	if resumed.HintCount != 2 {
		t.Fatalf("hints lost across retry")
	}
}

func TestResolve_SuccessAdvancesToNextBriefing(t *testing.T) {
	s := activeSession()
	events, next := confirmBoth(t, s, testDeps(true))
	if next.Phase != PhaseSuccess {
		t.Fatalf("want success, got %v", next.Phase)
	}
	if !next.ResultSuccess {
		t.Fatalf("result not recorded")
	}
	if !ContainsEvent(events, EvtTimerArmed) {
		t.Fatalf("expected auto-advance to be armed")
	}
	if ContainsEvent(events, EvtGameWon) {
		t.Fatalf("mid-game success must not report a win")
	}

	_, advanced, err := Apply(next, Command{Type: CmdAdvanceFired}, base.Add(testRules.AdvanceDelay), testDeps(true))
	if err != nil {
		t.Fatalf("advance from success: %v", err)
	}
	if advanced.Phase != PhaseBriefing {
		t.Fatalf("want briefing for next level, got %v", advanced.Phase)
	}
	if advanced.LevelID != 2 {
		t.Fatalf("want level 2, got %d", advanced.LevelID)
	}
	if advanced.HintCount != 0 || advanced.CurrentHint != "" {
		t.Fatalf("hints must reset on a new level")
	}
	if advanced.ResultMessage != "" || advanced.ResultSuccess {
		t.Fatalf("result must clear on a new level")
	}
}

func TestResolve_FinalLevelWinIsSticky(t *testing.T) {
	s := activeSession()
	s.LevelID = testRules.FinalLevel

	events, next := confirmBoth(t, s, testDeps(true))
	if next.Phase != PhaseSuccess {
		t.Fatalf("want success, got %v", next.Phase)
	}
	if !ContainsEvent(events, EvtGameWon) {
		t.Fatalf("expected the win to be reported")
	}
	if ContainsEvent(events, EvtTimerArmed) {
		t.Fatalf("final level must not auto-advance")
	}

	// Even a spurious advance fire changes nothing.
	evts, after, err := Apply(next, Command{Type: CmdAdvanceFired}, base.Add(time.Minute), testDeps(true))
	if err != nil || len(evts) != 0 || !reflect.DeepEqual(next, after) {
		t.Fatalf("final success must be sticky")
	}
}

func TestChat_TrimCapAndFIFO(t *testing.T) {
	s := activeSession()

	_, next, err := Apply(s, Command{Type: CmdSendChat, ClientID: "ca", Text: "   "}, base, testDeps(false))
	if err != nil || len(next.Chat) != 0 {
		t.Fatalf("blank chat should be a silent no-op")
	}

	for i := 0; i < ChatMaxEntries+5; i++ {
		_, s, err = Apply(s, Command{Type: CmdSendChat, ClientID: "ca", Text: fmt.Sprintf("m%d", i)}, base, testDeps(false))
		if err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
	}
	if len(s.Chat) != ChatMaxEntries {
		t.Fatalf("want %d retained entries, got %d", ChatMaxEntries, len(s.Chat))
	}
	if s.Chat[0].Text != "m5" {
		t.Fatalf("oldest entries must drop first, head is %q", s.Chat[0].Text)
	}

	_, _, err = Apply(s, Command{Type: CmdSendChat, ClientID: "nobody", Text: "hi"}, base, testDeps(false))
	if !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("want ErrNotInRoom, got %v", err)
	}
}

func TestHint_MonotonicAndBounded(t *testing.T) {
	s := activeSession()
	deps := testDeps(false)

	_, s, _ = Apply(s, Command{Type: CmdRequestHint, ClientID: "ca"}, base, deps)
	if s.HintCount != 1 || s.CurrentHint != "hint 1" {
		t.Fatalf("first hint: %d %q", s.HintCount, s.CurrentHint)
	}
	_, s, _ = Apply(s, Command{Type: CmdRequestHint, ClientID: "cb"}, base, deps)
	if s.HintCount != 2 || s.CurrentHint != "hint 2" {
		t.Fatalf("second hint: %d %q", s.HintCount, s.CurrentHint)
	}

	// Out of hints: silent no-op.
	_, next, err := Apply(s, Command{Type: CmdRequestHint, ClientID: "ca"}, base, deps)
	if err != nil || next.HintCount != 2 {
		t.Fatalf("exhausted hints should not error or advance")
	}
}

func TestExit_DoubleExitAbandons(t *testing.T) {
	s := activeSession()
	_, s, _ = Apply(s, Command{Type: CmdRequestExit, ClientID: "ca"}, base, testDeps(false))
	if !s.ExitRequests[RoleA] {
		t.Fatalf("exit flag not set")
	}

	_, s, _ = Apply(s, Command{Type: CmdCancelExit, ClientID: "ca"}, base, testDeps(false))
	if s.ExitRequests[RoleA] {
		t.Fatalf("exit flag not cleared")
	}

	_, s, _ = Apply(s, Command{Type: CmdRequestExit, ClientID: "ca"}, base, testDeps(false))
	events, next, err := Apply(s, Command{Type: CmdRequestExit, ClientID: "cb"}, base, testDeps(false))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if !ContainsEvent(events, EvtGameAbandoned) {
		t.Fatalf("expected abandonment to be reported")
	}
	if !reflect.DeepEqual(next, NewSession("ROOM1", testRules)) {
		t.Fatalf("double exit must reset to a fresh lobby")
	}
}

func TestRejectedActions_LeaveSessionUnchanged(t *testing.T) {
	cases := []struct {
		name string
		s    Session
		cmd  Command
	}{
		{"submit in lobby", bothClaimed(), Command{Type: CmdSubmitSelection, ClientID: "ca", Tokens: []string{"x"}}},
		{"ready in active", activeSession(), Command{Type: CmdSetReady, ClientID: "ca", Ready: true}},
		{"start in active", activeSession(), Command{Type: CmdStart, ClientID: "ca"}},
		{"release by stranger", activeSession(), Command{Type: CmdReleaseRole, ClientID: "nobody"}},
		{"unknown command", activeSession(), Command{Type: CommandType("Bogus")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, next, err := Apply(tc.s, tc.cmd, base, testDeps(false))
			if err == nil {
				t.Fatalf("expected rejection")
			}
			if !reflect.DeepEqual(tc.s, next) {
				t.Fatalf("rejected action mutated the session")
			}
		})
	}
}

func TestReset_EqualsFreshSession(t *testing.T) {
	s := activeSession()
	s.HintCount = 1
	s.Chat = append(s.Chat, ChatMessage{Role: RoleA, Text: "hello", At: base.UnixMilli()})

	fresh := NewSession(s.Code, s.Rules)
	if reflect.DeepEqual(s, fresh) {
		t.Fatalf("sanity: mutated session should differ from fresh")
	}
	if !reflect.DeepEqual(NewSession(s.Code, s.Rules), fresh) {
		t.Fatalf("factory must be deterministic")
	}
}
