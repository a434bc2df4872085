package engine

import (
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

type Cell uint8

const (
	CellSolid Cell = iota
	CellCracked
	CellBroken
)

func (c Cell) String() string {
	switch c {
	case CellCracked:
		return "Cracked"
	case CellBroken:
		return "Broken"
	default:
		return "Solid"
	}
}

type Position struct {
	X int
	Y int
}

func (p Position) inBounds(rows, cols int) bool {
	return p.X >= 0 && p.Y >= 0 && p.Y < rows && p.X < cols
}

type Player struct {
	ID          string
	Username    string
	Pos         Position
	Cannonballs int
	Alive       bool
}

// State is indexed Grid[y][x]. Players keep roster order.
type State struct {
	Grid        [][]Cell
	Players     []Player
	Cannonballs []Position
	Targeted    []Position
	Turn        int
	Mode        Mode
}

func newGrid(rows, cols int) [][]Cell {
	g := make([][]Cell, rows)
	for y := range g {
		g[y] = make([]Cell, cols)
	}
	return g
}

func (s State) Clone() State {
	c := s
	c.Grid = make([][]Cell, len(s.Grid))
	for y, row := range s.Grid {
		c.Grid[y] = append([]Cell(nil), row...)
	}
	c.Players = append([]Player(nil), s.Players...)
	c.Cannonballs = append([]Position{}, s.Cannonballs...)
	c.Targeted = append([]Position{}, s.Targeted...)
	return c
}

func (s State) index(id string) int {
	for i, p := range s.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s State) Player(id string) (Player, bool) {
	if i := s.index(id); i >= 0 {
		return s.Players[i], true
	}
	return Player{}, false
}

func (s State) IsAlive(id string) bool {
	p, ok := s.Player(id)
	return ok && p.Alive
}

func (s State) AliveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Alive {
			n++
		}
	}
	return n
}

// AliveIDs lists surviving players in roster order.
func (s State) AliveIDs() []string {
	ids := []string{}
	for _, p := range s.Players {
		if p.Alive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (s State) Snapshot() wire.GameSnapshot {
	snap := wire.GameSnapshot{
		Turn:          s.Turn,
		Mode:          string(s.Mode),
		Grid:          make([][]string, len(s.Grid)),
		Players:       make([]wire.PlayerSnapshot, 0, len(s.Players)),
		Cannonballs:   make([]wire.Position, 0, len(s.Cannonballs)),
		TargetedTiles: make([]wire.Position, 0, len(s.Targeted)),
	}
	for y, row := range s.Grid {
		snap.Grid[y] = make([]string, len(row))
		for x, c := range row {
			snap.Grid[y][x] = c.String()
		}
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, wire.PlayerSnapshot{
			ID:          p.ID,
			Username:    p.Username,
			Pos:         wire.Position{X: p.Pos.X, Y: p.Pos.Y},
			Cannonballs: p.Cannonballs,
			Alive:       p.Alive,
		})
	}
	for _, c := range s.Cannonballs {
		snap.Cannonballs = append(snap.Cannonballs, wire.Position{X: c.X, Y: c.Y})
	}
	for _, t := range s.Targeted {
		snap.TargetedTiles = append(snap.TargetedTiles, wire.Position{X: t.X, Y: t.Y})
	}
	return snap
}

// freeCells lists solid cells with no player on them, row-major. With
// noBalls it also skips cells holding a cannonball.
func (s State) freeCells(noBalls bool) []Position {
	out := []Position{}
	for y, row := range s.Grid {
		for x, c := range row {
			p := Position{X: x, Y: y}
			if c != CellSolid || s.occupied(p) {
				continue
			}
			if noBalls && containsPos(s.Cannonballs, p) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

func (s State) occupied(p Position) bool {
	for _, pl := range s.Players {
		if pl.Alive && pl.Pos == p {
			return true
		}
	}
	return false
}

// applyPlayerRules picks up a cannonball under the player and eliminates
// them if they stand on a broken tile.
func (s *State) applyPlayerRules(i int) {
	p := &s.Players[i]
	if !p.Alive {
		return
	}
	for j, c := range s.Cannonballs {
		if c == p.Pos {
			p.Cannonballs++
			s.Cannonballs = append(s.Cannonballs[:j], s.Cannonballs[j+1:]...)
			break
		}
	}
	if s.Grid[p.Pos.Y][p.Pos.X] == CellBroken {
		p.Alive = false
	}
}

// breakTile applies the mode's per-turn erosion.
func (s *State) breakTile(rng Rand) {
	switch s.Mode {
	case ModeCracked:
		for y, row := range s.Grid {
			for x, c := range row {
				if c == CellCracked {
					s.Grid[y][x] = CellBroken
				}
			}
		}
		if p, ok := s.randomSolid(rng); ok {
			s.Grid[p.Y][p.X] = CellCracked
		}
	default:
		if p, ok := s.randomSolid(rng); ok {
			s.Grid[p.Y][p.X] = CellBroken
		}
	}
}

func (s State) randomSolid(rng Rand) (Position, bool) {
	var solid []Position
	for y, row := range s.Grid {
		for x, c := range row {
			if c == CellSolid {
				solid = append(solid, Position{X: x, Y: y})
			}
		}
	}
	if len(solid) == 0 {
		return Position{}, false
	}
	return solid[rng.IntN(len(solid))], true
}

func (s *State) dropCannonballsOnBroken() {
	kept := s.Cannonballs[:0]
	for _, c := range s.Cannonballs {
		if s.Grid[c.Y][c.X] != CellBroken {
			kept = append(kept, c)
		}
	}
	s.Cannonballs = kept
}

func containsPos(ps []Position, p Position) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
