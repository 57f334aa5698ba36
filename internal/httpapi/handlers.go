package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SalieeriW/twokeys-backend/internal/hub"
	"github.com/SalieeriW/twokeys-backend/internal/types"
)

// GenerateCode returns a 6-character human-shareable room code.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom mints a fresh code and its session. Used by the parent
// orchestrator when it hands a minigame slot to two players.
func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if h.GetRoom(c) == nil {
				code = c
				break
			}
			log.Warn("room code collision, regenerating", zap.String("code", c))
		}

		if h.EnsureRoom(code) == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

// GetRoom returns the session snapshot for a code.
func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := h.GetRoom(chi.URLParam(r, "code"))
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		snap, err := rm.Snapshot()
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		view := types.FromSession(snap.State)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.ServerMessage{
			Type: "snapshot", Version: snap.Version, Snapshot: &view,
		})
	}
}

// ResetRoom is the orchestrator's between-games reset.
func ResetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := h.GetRoom(chi.URLParam(r, "code"))
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		snap, err := rm.Reset()
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		view := types.FromSession(snap.State)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.ServerMessage{
			Type: "snapshot", Version: snap.Version, Snapshot: &view,
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
