package engine

import (
	"errors"
	"fmt"

	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

var ErrUnknownActor = errors.New("unknown actor")
var ErrActorEliminated = errors.New("actor eliminated")
var ErrUnsupportedAction = errors.New("unsupported action")
var ErrInvalidDirection = errors.New("invalid direction")
var ErrTargetOutOfBounds = errors.New("target out of bounds")

type Mode string

const (
	ModeClassic Mode = "Classic"
	ModeCracked Mode = "Cracked"
)

type Direction string

const (
	DirUp    Direction = "Up"
	DirDown  Direction = "Down"
	DirLeft  Direction = "Left"
	DirRight Direction = "Right"
	DirStay  Direction = "Stay"
)

type ActionKind string

const (
	ActionMove  ActionKind = "Move"
	ActionShoot ActionKind = "Shoot"
)

type Action struct {
	Kind      ActionKind
	Direction Direction
	Target    Position
}

// Stay is the action applied for a participant who did not act in time.
func Stay() Action { return Action{Kind: ActionMove, Direction: DirStay} }

// Rand is the random source the rules draw from. *math/rand/v2.Rand
// satisfies it.
type Rand interface {
	IntN(n int) int
}

// Rules is the game-rules contract a match drives. Implementations must be
// pure: they never mutate the State they are given.
type Rules interface {
	Modes() []Mode
	Dims() wire.GridDims
	Init(roster []wire.PlayerInfo, mode Mode, rng Rand) State
	Apply(s State, a Action, actor string) (State, error)
	Advance(s State, rng Rand) State
}

// Standard is the breaking-grid game: players move or shoot each turn and
// fall when the tile under them breaks.
type Standard struct {
	Rows int
	Cols int
}

func NewStandard(rows, cols int) Standard {
	return Standard{Rows: rows, Cols: cols}
}

func (Standard) Modes() []Mode { return []Mode{ModeClassic, ModeCracked} }

func (r Standard) Dims() wire.GridDims { return wire.GridDims{Rows: r.Rows, Cols: r.Cols} }

func (r Standard) Init(roster []wire.PlayerInfo, mode Mode, rng Rand) State {
	s := State{
		Grid:     newGrid(r.Rows, r.Cols),
		Players:  make([]Player, 0, len(roster)),
		Turn:     1,
		Mode:     mode,
		Targeted: []Position{},
	}
	for _, info := range roster {
		p := Player{ID: info.ID, Username: info.Username, Alive: true}
		free := s.freeCells(false)
		if len(free) == 0 {
			// no room left on the grid
			p.Alive = false
		} else {
			p.Pos = free[rng.IntN(len(free))]
		}
		s.Players = append(s.Players, p)
	}
	s.Cannonballs = []Position{}
	for n := 1 + rng.IntN(3); n > 0; n-- {
		free := s.freeCells(true)
		if len(free) == 0 {
			break
		}
		s.Cannonballs = append(s.Cannonballs, free[rng.IntN(len(free))])
	}
	return s
}

func (r Standard) Apply(s State, a Action, actor string) (State, error) {
	idx := s.index(actor)
	if idx < 0 {
		return s, ErrUnknownActor
	}
	if !s.Players[idx].Alive {
		return s, ErrActorEliminated
	}

	next := s.Clone()
	switch a.Kind {
	case ActionMove:
		pos, err := step(next.Players[idx].Pos, a.Direction, r.Rows, r.Cols)
		if err != nil {
			return s, err
		}
		next.Players[idx].Pos = pos

	case ActionShoot:
		if !a.Target.inBounds(r.Rows, r.Cols) {
			return s, fmt.Errorf("shoot (%d,%d): %w", a.Target.X, a.Target.Y, ErrTargetOutOfBounds)
		}
		p := &next.Players[idx]
		// Out of ammo or a tile already targeted this turn is a wasted shot.
		if p.Cannonballs > 0 && !containsPos(next.Targeted, a.Target) {
			next.Targeted = append(next.Targeted, a.Target)
			p.Cannonballs--
		}

	default:
		return s, ErrUnsupportedAction
	}

	next.applyPlayerRules(idx)
	return next, nil
}

// Advance applies the per-turn environment effects and moves to the next turn.
func (r Standard) Advance(s State, rng Rand) State {
	next := s.Clone()
	next.breakTile(rng)
	for _, t := range next.Targeted {
		next.Grid[t.Y][t.X] = CellBroken
	}
	next.Targeted = []Position{}
	next.dropCannonballsOnBroken()
	for i := range next.Players {
		next.applyPlayerRules(i)
	}
	next.Turn++
	return next
}

func step(p Position, d Direction, rows, cols int) (Position, error) {
	switch d {
	case DirUp:
		if p.Y > 0 {
			p.Y--
		}
	case DirDown:
		if p.Y < rows-1 {
			p.Y++
		}
	case DirLeft:
		if p.X > 0 {
			p.X--
		}
	case DirRight:
		if p.X < cols-1 {
			p.X++
		}
	case DirStay:
	default:
		return p, ErrInvalidDirection
	}
	return p, nil
}

func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case DirUp, DirDown, DirLeft, DirRight, DirStay:
		return d, true
	}
	return "", false
}

// ParseMode accepts only modes the given rules offer.
func ParseMode(r Rules, s string) (Mode, bool) {
	for _, m := range r.Modes() {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}
