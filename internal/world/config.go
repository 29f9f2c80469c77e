package world

import "kartsync/server/internal/tics"

const (
	// Frac is the fixed-point scale of every position.
	Frac = 256

	DefaultWidth  = 2400
	DefaultHeight = 1800

	// KartHalf is half the side of a kart's bounding square in map units.
	KartHalf = 16

	DefaultLevelTics        = 3 * 60 * tics.Rate
	DefaultIntermissionTics = 8 * tics.Rate
)

// Obstacle is a blocking rectangle in map units.
type Obstacle struct {
	X, Y          int32
	Width, Height int32
}

// Config describes the arena. Zero fields fall back to the defaults.
type Config struct {
	Width, Height    int32
	Obstacles        []Obstacle
	LevelTics        tics.Tic
	IntermissionTics tics.Tic
	Seed             uint32
}

// DefaultConfig is a walled arena with a block in the middle.
func DefaultConfig() Config {
	return Config{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Obstacles: []Obstacle{
			{X: 1000, Y: 700, Width: 400, Height: 400},
			{X: 300, Y: 300, Width: 200, Height: 60},
			{X: 1900, Y: 1440, Width: 200, Height: 60},
		},
		LevelTics:        DefaultLevelTics,
		IntermissionTics: DefaultIntermissionTics,
		Seed:             0x2545F491,
	}
}

func (c Config) normalized() Config {
	if c.Width <= 2*KartHalf {
		c.Width = DefaultWidth
	}
	if c.Height <= 2*KartHalf {
		c.Height = DefaultHeight
	}
	if c.IntermissionTics <= 0 {
		c.IntermissionTics = DefaultIntermissionTics
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	c.Obstacles = append([]Obstacle(nil), c.Obstacles...)
	return c
}
