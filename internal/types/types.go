package types

import "github.com/SalieeriW/twokeys-backend/internal/engine"

type ClientMessage struct {
	Type   string   `json:"type"`
	Role   string   `json:"role,omitempty"`
	Ready  bool     `json:"ready,omitempty"`
	Tokens []string `json:"tokens,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type ServerMessage struct {
	Type     string    `json:"type"` // "snapshot" | "error"
	Version  int       `json:"version,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Snapshot is the full session state every client observes. It is built
// from the engine session with no hidden fields.
type Snapshot struct {
	Code             string                `json:"code"`
	Phase            string                `json:"phase"`
	LevelID          int                   `json:"level_id"`
	StartAt          int64                 `json:"start_at"`
	CountdownMs      int64                 `json:"countdown_ms"`
	HintCount        int                   `json:"hint_count"`
	CurrentHint      string                `json:"current_hint,omitempty"`
	ResultMessage    string                `json:"result_message,omitempty"`
	ResultSuccess    bool                  `json:"result_success"`
	Chat             []ChatEntry           `json:"chat"`
	Players          map[string]PlayerSlot `json:"players"`
	PlayersConnected int                   `json:"players_connected"`
	ExitRequests     map[string]bool       `json:"exit_requests"`
}

type PlayerSlot struct {
	ClientID    string   `json:"client_id"`
	Selection   []string `json:"selection"`
	ConfirmedAt int64    `json:"confirmed_at"`
	Ready       bool     `json:"ready"`
}

type ChatEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

func FromSession(s engine.Session) Snapshot {
	snap := Snapshot{
		Code:             s.Code,
		Phase:            string(s.Phase),
		LevelID:          s.LevelID,
		StartAt:          s.StartAt,
		CountdownMs:      s.CountdownMs,
		HintCount:        s.HintCount,
		CurrentHint:      s.CurrentHint,
		ResultMessage:    s.ResultMessage,
		ResultSuccess:    s.ResultSuccess,
		Chat:             make([]ChatEntry, 0, len(s.Chat)),
		Players:          make(map[string]PlayerSlot, len(s.Players)),
		PlayersConnected: s.ConnectedCount(),
		ExitRequests:     make(map[string]bool, len(s.ExitRequests)),
	}
	for _, m := range s.Chat {
		snap.Chat = append(snap.Chat, ChatEntry{Role: string(m.Role), Text: m.Text, At: m.At})
	}
	for role, p := range s.Players {
		sel := p.Selection
		if sel == nil {
			sel = []string{}
		}
		snap.Players[string(role)] = PlayerSlot{
			ClientID:    p.ClientID,
			Selection:   sel,
			ConfirmedAt: p.ConfirmedAt,
			Ready:       p.Ready,
		}
	}
	for role, v := range s.ExitRequests {
		snap.ExitRequests[string(role)] = v
	}
	return snap
}
