package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SalieeriW/twokeys-backend/internal/engine"
	"github.com/SalieeriW/twokeys-backend/internal/hub"
	"github.com/SalieeriW/twokeys-backend/internal/room"
	"github.com/SalieeriW/twokeys-backend/internal/types"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 3 * time.Second
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if code == "" {
			code = r.URL.Query().Get("code")
		}
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		// First reference creates the session.
		rm := h.EnsureRoom(code)
		if rm == nil {
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		out := make(chan room.Snapshot, 8)
		rm.Inbox() <- room.Join{ClientID: clientID, Outbox: out}
		defer func() { rm.Inbox() <- room.Leave{ClientID: clientID} }()

		log.Info("client connected",
			zap.String("room", rm.Code()), zap.String("client", clientID))

		// Writer goroutine: snapshots out of the room, onto the wire.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				view := types.FromSession(snap.State)
				msg := types.ServerMessage{Type: "snapshot", Version: snap.Version, Snapshot: &view}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop.
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad_json", "malformed message")
				continue
			}

			if err := dispatch(rm, clientID, cm); err != nil {
				writeError(r.Context(), conn, engine.ErrorCode(err), err.Error())
			}
		}
	}
}

// dispatch maps a wire message onto the session façade. Successful calls
// need no per-client response: the room broadcasts the new snapshot.
func dispatch(rm *room.Room, clientID string, m types.ClientMessage) error {
	var err error
	switch m.Type {
	case "claim_role":
		role, ok := parseRole(m.Role)
		if !ok {
			return engine.ErrUnsupportedCommand
		}
		_, err = rm.ClaimRole(clientID, role)
	case "release_role":
		_, err = rm.ReleaseRole(clientID)
	case "set_ready":
		_, err = rm.SetReady(clientID, m.Ready)
	case "start":
		_, err = rm.Start(clientID)
	case "submit_selection":
		_, err = rm.SubmitSelection(clientID, m.Tokens)
	case "confirm":
		_, err = rm.Confirm(clientID)
	case "chat":
		_, err = rm.SendChat(clientID, m.Text)
	case "request_hint":
		_, err = rm.RequestHint(clientID)
	case "request_exit":
		_, err = rm.RequestExit(clientID)
	case "cancel_exit":
		_, err = rm.CancelExit(clientID)
	case "reset":
		_, err = rm.Reset()
	default:
		return engine.ErrUnsupportedCommand
	}
	return err
}

func parseRole(role string) (engine.Role, bool) {
	switch role {
	case "A":
		return engine.RoleA, true
	case "B":
		return engine.RoleB, true
	default:
		return "", false
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "error", Code: code, Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
