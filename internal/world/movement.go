package world

import "math"

const sineScale = 1024

var sineTable [256]int32

func init() {
	for i := range sineTable {
		sineTable[i] = int32(math.Round(math.Sin(2*math.Pi*float64(i)/256) * sineScale))
	}
}

func sine(angle uint16) int32   { return sineTable[angle>>8] }
func cosine(angle uint16) int32 { return sineTable[uint8(angle>>8)+64] }

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// blocked reports whether a kart centred at x, y overlaps an obstacle.
func (w *World) blocked(x, y int32) bool {
	const half = KartHalf * Frac
	for _, o := range w.cfg.Obstacles {
		if x+half > o.X*Frac && x-half < (o.X+o.Width)*Frac &&
			y+half > o.Y*Frac && y-half < (o.Y+o.Height)*Frac {
			return true
		}
	}
	return false
}

// moveX applies horizontal movement, stopping at arena bounds and obstacle
// edges. It reports whether anything got in the way.
func (w *World) moveX(k *Kart, dx int32) bool {
	if dx == 0 {
		return false
	}
	const half = KartHalf * Frac
	want := k.X + dx
	nx := clamp(want, half, w.cfg.Width*Frac-half)
	for _, o := range w.cfg.Obstacles {
		minY := o.Y*Frac - half
		maxY := (o.Y+o.Height)*Frac + half
		if k.Y <= minY || k.Y >= maxY {
			continue
		}
		if dx > 0 {
			boundary := o.X*Frac - half
			if k.X <= boundary && nx > boundary {
				nx = boundary
			}
		} else {
			boundary := (o.X+o.Width)*Frac + half
			if k.X >= boundary && nx < boundary {
				nx = boundary
			}
		}
	}
	k.X = nx
	return nx != want
}

func (w *World) moveY(k *Kart, dy int32) bool {
	if dy == 0 {
		return false
	}
	const half = KartHalf * Frac
	want := k.Y + dy
	ny := clamp(want, half, w.cfg.Height*Frac-half)
	for _, o := range w.cfg.Obstacles {
		minX := o.X*Frac - half
		maxX := (o.X+o.Width)*Frac + half
		if k.X <= minX || k.X >= maxX {
			continue
		}
		if dy > 0 {
			boundary := o.Y*Frac - half
			if k.Y <= boundary && ny > boundary {
				ny = boundary
			}
		} else {
			boundary := (o.Y+o.Height)*Frac + half
			if k.Y >= boundary && ny < boundary {
				ny = boundary
			}
		}
	}
	k.Y = ny
	return ny != want
}
