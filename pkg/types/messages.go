package types

import (
	"encoding/json"
	"fmt"
)

// Client -> Server (lobby)
// Pay: {}
// CancelPayment: {}
// Ping: {}
//
// Client -> Server (match)
// Move:
//   direction: "Up" | "Down" | "Left" | "Right" | "Stay"
//
// Shoot:
//   x: number
//   y: number
//
// VoteMode:
//   mode: "Classic" | "Cracked"

// Server -> Client (lobby)
// UpdateState:
//   lobby_players: PlayerInfo[]
//   ready_players: PlayerInfo[]
//   countdown_active: boolean
//   countdown_remaining: number // seconds, 0 when inactive
//
// GameStarted:
//   match_id: string
//
// Server -> Client (match)
// PreGameData:
//   modes: string[]
//   deadline_secs: number
//   players: PlayerInfo[]
//   grid_dims: { rows: number, cols: number }
//
// ModeVoteUpdate: { wallet: string, mode: string }
// ModeChosen:     { mode: string, chosen_by: string }
// StateUpdate:    { game_state: GameSnapshot, turn_duration_secs: number }
//
// Both:
// Error:         { code: string, message: string, context: object }
// SessionKicked: { reason: string }

const (
	ActionPay           = "Pay"
	ActionCancelPayment = "CancelPayment"
	ActionPing          = "Ping"
	ActionMove          = "Move"
	ActionShoot         = "Shoot"
	ActionVoteMode      = "VoteMode"

	ActionUpdateState    = "UpdateState"
	ActionGameStarted    = "GameStarted"
	ActionPreGameData    = "PreGameData"
	ActionModeVoteUpdate = "ModeVoteUpdate"
	ActionModeChosen     = "ModeChosen"
	ActionStateUpdate    = "StateUpdate"
	ActionError          = "Error"
	ActionSessionKicked  = "SessionKicked"
)

// Stable error codes carried in Error payloads and HTTP error bodies.
const (
	CodeInvalidAction      = "INVALID_ACTION"
	CodeSpectatorCommand   = "SPECTATOR_COMMAND"
	CodeNotAPlayer         = "NOT_A_PLAYER"
	CodeCountdownActive    = "COUNTDOWN_ACTIVE"
	CodeBanned             = "BANNED"
	CodeSessionKicked      = "SESSION_KICKED"
	CodeSerializationError = "SERIALIZATION_ERROR"
	CodeProtocolError      = "WS_PROTOCOL_ERROR"
	CodeMissingWallet      = "MISSING_WALLET"
	CodeInvalidMatchID     = "INVALID_MATCH_ID"
	CodeMatchNotFound      = "MATCH_NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// ClientMessage is the inbound envelope. Data is decoded according to Action.
type ClientMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// Envelope is ServerMessage as seen by a client decoding it.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type PlayerInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type MoveData struct {
	Direction string `json:"direction"`
}

type ShootData struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type VoteModeData struct {
	Mode string `json:"mode"`
}

type UpdateState struct {
	LobbyPlayers       []PlayerInfo `json:"lobby_players"`
	ReadyPlayers       []PlayerInfo `json:"ready_players"`
	CountdownActive    bool         `json:"countdown_active"`
	CountdownRemaining int          `json:"countdown_remaining"`
}

type GameStarted struct {
	MatchID string `json:"match_id"`
}

type GridDims struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type PreGameData struct {
	Modes        []string     `json:"modes"`
	DeadlineSecs int          `json:"deadline_secs"`
	Players      []PlayerInfo `json:"players"`
	GridDims     GridDims     `json:"grid_dims"`
}

type ModeVoteUpdate struct {
	Wallet string `json:"wallet"`
	Mode   string `json:"mode"`
}

type ModeChosen struct {
	Mode     string `json:"mode"`
	ChosenBy string `json:"chosen_by"`
}

type StateUpdate struct {
	GameState        GameSnapshot `json:"game_state"`
	TurnDurationSecs int          `json:"turn_duration_secs"`
}

type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

type SessionKicked struct {
	Reason string `json:"reason"`
}

// ErrorBody is the JSON body of HTTP error responses.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

func NewError(code, message string, context map[string]any) ServerMessage {
	return ServerMessage{Action: ActionError, Data: ErrorPayload{Code: code, Message: message, Context: context}}
}

func NewSessionKicked(reason string) ServerMessage {
	return ServerMessage{Action: ActionSessionKicked, Data: SessionKicked{Reason: reason}}
}

// ErrorCode returns the code of an Error envelope, or "" for anything else.
func (m ServerMessage) ErrorCode() string {
	if m.Action != ActionError {
		return ""
	}
	if p, ok := m.Data.(ErrorPayload); ok {
		return p.Code
	}
	return ""
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty data", e.Action)
	}
	return json.Unmarshal(e.Data, v)
}
