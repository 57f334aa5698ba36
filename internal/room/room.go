// Package room runs one goroutine per session. Every façade call, client
// join/leave and timer fire funnels through the room inbox, so no two
// mutations of the same session ever interleave. Rooms are fully
// independent of each other.
package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/SalieeriW/twokeys-backend/internal/engine"
	"github.com/SalieeriW/twokeys-backend/internal/metrics"
	"github.com/SalieeriW/twokeys-backend/internal/orchestrator"
	"github.com/SalieeriW/twokeys-backend/internal/timer"
)

var ErrClosed = errors.New("room is shut down")

type Msg interface{ isRoomMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client receives snapshots
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type apply struct {
	cmd   engine.Command
	reply chan result
}

func (apply) isRoomMsg() {}

type doReset struct{ reply chan result }

func (doReset) isRoomMsg() {}

type timerFired struct {
	class engine.TimerClass
	gen   uint64
}

func (timerFired) isRoomMsg() {}

type Snapshot struct {
	Version int
	State   engine.Session
}

type View struct {
	Version    int
	NumClients int
	State      engine.Session
}

type result struct {
	snap Snapshot
	err  error
}

type Room struct {
	code    string
	inbox   chan Msg
	state   engine.Session
	version int
	clients map[string]chan Snapshot
	timers  *timer.Controller
	deps    engine.Deps
	notify  orchestrator.Notifier
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, code string, rules engine.Rules, deps engine.Deps,
	notify orchestrator.Notifier, log *zap.Logger) *Room {

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:    code,
		inbox:   make(chan Msg, 64),
		state:   engine.NewSession(code, rules),
		clients: make(map[string]chan Snapshot),
		timers:  timer.New(),
		deps:    deps,
		notify:  notify,
		log:     log.With(zap.String("room", code)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Inbox exposes the raw message channel for the transport layer and tests.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// ---- Session façade ------------------------------------------------------

func (r *Room) ClaimRole(clientID string, role engine.Role) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdClaimRole, ClientID: clientID, Role: role})
}

func (r *Room) ReleaseRole(clientID string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdReleaseRole, ClientID: clientID})
}

func (r *Room) SetReady(clientID string, ready bool) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdSetReady, ClientID: clientID, Ready: ready})
}

func (r *Room) Start(clientID string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdStart, ClientID: clientID})
}

func (r *Room) SubmitSelection(clientID string, tokens []string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdSubmitSelection, ClientID: clientID, Tokens: tokens})
}

func (r *Room) Confirm(clientID string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdConfirm, ClientID: clientID})
}

func (r *Room) SendChat(clientID, text string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdSendChat, ClientID: clientID, Text: text})
}

func (r *Room) RequestHint(clientID string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdRequestHint, ClientID: clientID})
}

func (r *Room) RequestExit(clientID string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdRequestExit, ClientID: clientID})
}

func (r *Room) CancelExit(clientID string) (Snapshot, error) {
	return r.do(engine.Command{Type: engine.CmdCancelExit, ClientID: clientID})
}

// Reset reinitializes the session in place: all timers die, every field
// returns to its lobby default, both identities are cleared. The Room
// instance survives so external references stay valid.
func (r *Room) Reset() (Snapshot, error) {
	reply := make(chan result, 1)
	if err := r.send(doReset{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return r.await(reply)
}

// Snapshot returns the current state without side effects.
func (r *Room) Snapshot() (Snapshot, error) {
	reply := make(chan View, 1)
	if err := r.send(GetState{Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case v := <-reply:
		return Snapshot{Version: v.Version, State: v.State}, nil
	case <-r.ctx.Done():
		return Snapshot{}, ErrClosed
	}
}

func (r *Room) do(cmd engine.Command) (Snapshot, error) {
	reply := make(chan result, 1)
	if err := r.send(apply{cmd: cmd, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return r.await(reply)
}

func (r *Room) send(m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	}
}

func (r *Room) await(reply chan result) (Snapshot, error) {
	select {
	case res := <-reply:
		return res.snap, res.err
	case <-r.ctx.Done():
		return Snapshot{}, ErrClosed
	}
}

// ---- Actor loop ----------------------------------------------------------

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: r.version, State: r.state}

			case Leave:
				delete(r.clients, msg.ClientID)
				// A dropped connection is an implicit release.
				r.runCommand(engine.Command{Type: engine.CmdDisconnect, ClientID: msg.ClientID}, nil)

			case apply:
				r.runCommand(msg.cmd, msg.reply)

			case doReset:
				r.timers.CancelAll()
				r.state = engine.NewSession(r.code, r.state.Rules)
				r.version++
				r.log.Info("session reset")
				r.broadcast()
				msg.reply <- result{snap: Snapshot{Version: r.version, State: r.state}}

			case timerFired:
				if !r.timers.Matches(timer.Class(msg.class), msg.gen) {
					// Lost a race with a cancel or re-arm.
					break
				}
				r.runCommand(expiryCommand(msg.class), nil)

			case GetState:
				msg.Reply <- View{Version: r.version, NumClients: len(r.clients), State: r.state}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) runCommand(cmd engine.Command, reply chan result) {
	events, next, err := engine.Apply(r.state, cmd, time.Now(), r.deps)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues(engine.ErrorCode(err)).Inc()
		if reply != nil {
			reply <- result{snap: Snapshot{Version: r.version, State: r.state}, err: err}
		}
		return
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Type)).Inc()
	r.state = next
	r.version++
	r.handleEvents(events)
	r.broadcast()
	if reply != nil {
		reply <- result{snap: Snapshot{Version: r.version, State: r.state}}
	}
	// sync_confirm is transient: resolve it in the same serialization slot,
	// after the sync_confirm snapshot went out.
	if engine.ContainsEvent(events, engine.EvtResolvePending) {
		r.runCommand(engine.Command{Type: engine.CmdResolve}, nil)
	}
}

func (r *Room) handleEvents(events []engine.Event) {
	for _, e := range events {
		switch e.Type {
		case engine.EvtTimerArmed:
			class := e.Class
			r.timers.Arm(timer.Class(class), e.Duration, func(gen uint64) {
				select {
				case r.inbox <- timerFired{class: class, gen: gen}:
				case <-r.ctx.Done():
				}
			})

		case engine.EvtTimerCanceled:
			r.timers.Cancel(timer.Class(e.Class))

		case engine.EvtPhaseChanged:
			r.log.Info("phase change",
				zap.String("phase", string(e.Phase)),
				zap.Int("level", r.state.LevelID))

		case engine.EvtResync:
			r.log.Info("confirm window lapsed, stamps cleared")

		case engine.EvtGameWon:
			metrics.GamesWonTotal.Inc()
			r.notify.GameWon(r.code, r.state.LevelID)

		case engine.EvtGameAbandoned:
			metrics.GamesAbandonedTotal.Inc()
			r.notify.GameAbandoned(r.code)
		}
	}
}

func (r *Room) broadcast() {
	snap := Snapshot{Version: r.version, State: r.state}
	for id, ch := range r.clients {
		select {
		case ch <- snap:
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(r.clients, id)
			r.log.Warn("dropping slow client", zap.String("client", id))
		}
	}
}

func (r *Room) shutdown() {
	r.timers.CancelAll()
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
}

func expiryCommand(class engine.TimerClass) engine.Command {
	switch class {
	case engine.TimerCountdown:
		return engine.Command{Type: engine.CmdCountdownFired}
	case engine.TimerSyncWatch:
		return engine.Command{Type: engine.CmdSyncWatchFired}
	default:
		return engine.Command{Type: engine.CmdAdvanceFired}
	}
}
