// Package orchestrator reports terminal session outcomes upward to the
// parent game, which owns the minigame slot and the win/loss ledger.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Notifier interface {
	GameWon(code string, level int)
	GameAbandoned(code string)
}

type report struct {
	Code  string `json:"code"`
	Event string `json:"event"`
	Level int    `json:"level,omitempty"`
}

// Webhook posts outcome reports to the parent orchestrator. Delivery is
// best-effort: the session owns its own lifecycle and a lost report must
// never stall a room.
type Webhook struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// New returns a webhook notifier, or a log-only one when no URL is
// configured (standalone runs, tests).
func New(url string, log *zap.Logger) Notifier {
	if url == "" {
		return &logOnly{log: log}
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

func (w *Webhook) GameWon(code string, level int) {
	w.post(report{Code: code, Event: "won", Level: level})
}

func (w *Webhook) GameAbandoned(code string) {
	w.post(report{Code: code, Event: "abandoned"})
}

func (w *Webhook) post(r report) {
	go func() {
		body, _ := json.Marshal(r)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.log.Warn("orchestrator request build failed", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			w.log.Warn("orchestrator notify failed",
				zap.String("code", r.Code), zap.String("event", r.Event), zap.Error(err))
			return
		}
		resp.Body.Close()
	}()
}

type logOnly struct {
	log *zap.Logger
}

func (l *logOnly) GameWon(code string, level int) {
	l.log.Info("game won", zap.String("code", code), zap.Int("level", level))
}

func (l *logOnly) GameAbandoned(code string) {
	l.log.Info("game abandoned", zap.String("code", code))
}
