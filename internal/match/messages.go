package match

import (
	"github.com/DoyleJ11/tilefall-backend/internal/engine"
	"github.com/DoyleJ11/tilefall-backend/internal/types"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type Msg interface{ isMatchMsg() }

// Register binds a connection to the match and sends it the current phase.
type Register struct {
	Wallet string
	Role   types.Role
	Conn   types.Conn
}

type Unregister struct {
	Wallet string
	Role   types.Role
	Conn   types.Conn
}

type Vote struct {
	Wallet string
	Mode   string
	Conn   types.Conn
}

type SubmitAction struct {
	Wallet string
	Action engine.Action
	Conn   types.Conn
}

type GetView struct {
	Reply chan View
}

type Shutdown struct{}

type modeDeadline struct{ gen int }

type turnDeadline struct{ turn int }

func (Register) isMatchMsg()     {}
func (Unregister) isMatchMsg()   {}
func (Vote) isMatchMsg()         {}
func (SubmitAction) isMatchMsg() {}
func (GetView) isMatchMsg()      {}
func (Shutdown) isMatchMsg()     {}
func (modeDeadline) isMatchMsg() {}
func (turnDeadline) isMatchMsg() {}

// View is a copy of the match state for inspection.
type View struct {
	ID             string            `json:"id"`
	Phase          Phase             `json:"phase"`
	Turn           int               `json:"turn"`
	Roster         []wire.PlayerInfo `json:"roster"`
	Alive          []string          `json:"alive"`
	Mode           string            `json:"mode,omitempty"`
	ChosenBy       string            `json:"chosen_by,omitempty"`
	Votes          map[string]string `json:"-"`
	TurnInProgress bool              `json:"-"`
	Resolved       int               `json:"-"`
	Connections    int               `json:"connections"`
}
