package types

// GameSnapshot:
//   turn: number
//   mode: "Classic" | "Cracked"
//   grid: string[][] // grid[y][x], one of "Solid" | "Cracked" | "Broken"
//   players: PlayerSnapshot[] // roster order
//   cannonballs: Position[]
//   targeted_tiles: Position[]

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type PlayerSnapshot struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Pos         Position `json:"pos"`
	Cannonballs int      `json:"cannonball_count"`
	Alive       bool     `json:"is_alive"`
}

type GameSnapshot struct {
	Turn          int              `json:"turn"`
	Mode          string           `json:"mode"`
	Grid          [][]string       `json:"grid"`
	Players       []PlayerSnapshot `json:"players"`
	Cannonballs   []Position       `json:"cannonballs"`
	TargetedTiles []Position       `json:"targeted_tiles"`
}
