// Package hub is the session registry: one live room per normalized code,
// created lazily on first reference. The hub itself is an actor so
// concurrent first-access from both players resolves to a single room.
package hub

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/SalieeriW/twokeys-backend/internal/engine"
	"github.com/SalieeriW/twokeys-backend/internal/metrics"
	"github.com/SalieeriW/twokeys-backend/internal/orchestrator"
	"github.com/SalieeriW/twokeys-backend/internal/room"
)

type HubMsg interface{ isHubMsg() }

// Ensure returns the room for a code, creating it on first access.
type Ensure struct {
	Code  string
	Reply chan *room.Room
}

// Get returns the room for a code, or nil if none exists yet.
type Get struct {
	Code  string
	Reply chan *room.Room
}

type Remove struct{ Code string }

type ShutdownHub struct{}

func (Ensure) isHubMsg()      {}
func (Get) isHubMsg()         {}
func (Remove) isHubMsg()      {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	rules  engine.Rules
	deps   engine.Deps
	notify orchestrator.Notifier
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, rules engine.Rules, deps engine.Deps,
	notify orchestrator.Notifier, log *zap.Logger) *Hub {

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		rules:  rules,
		deps:   deps,
		notify: notify,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Normalize is the canonical form of a room code used as registry key.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// EnsureRoom is the blocking convenience wrapper around Ensure.
func (h *Hub) EnsureRoom(code string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- Ensure{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-h.ctx.Done():
		return nil
	}
}

// GetRoom is the blocking convenience wrapper around Get.
func (h *Hub) GetRoom(code string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- Get{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Ensure:
				code := Normalize(msg.Code)
				if rm := h.rooms[code]; rm != nil {
					msg.Reply <- rm
					break
				}
				rm := room.New(h.ctx, code, h.rules, h.deps, h.notify, h.log)
				h.rooms[code] = rm
				metrics.RoomsActive.Set(float64(len(h.rooms)))
				h.log.Info("room created", zap.String("room", code))
				msg.Reply <- rm

			case Get:
				msg.Reply <- h.rooms[Normalize(msg.Code)] // may be nil

			case Remove:
				code := Normalize(msg.Code)
				if rm := h.rooms[code]; rm != nil {
					rm.Inbox() <- room.Shutdown{}
					delete(h.rooms, code)
					metrics.RoomsActive.Set(float64(len(h.rooms)))
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for code, rm := range h.rooms {
		select {
		case rm.Inbox() <- room.Shutdown{}:
		default:
		}
		delete(h.rooms, code)
	}
	metrics.RoomsActive.Set(0)
	h.cancel()
}
