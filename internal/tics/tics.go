package tics

// Tic counts simulation frames since the session started.
type Tic uint32

const (
	// Rate is the number of tics per second.
	Rate = 35
	// Backup is the size of every per-tic ring buffer.
	Backup = 1024
	// ClientBackup bounds how far ahead of a node's acknowledgement the server sends.
	ClientBackup = 32
)

// Low returns the byte that travels on the wire for t.
func Low(t Tic) uint8 {
	return uint8(t & 0xFF)
}

// Expand rebuilds a full tic number from its low byte, using anchor as the
// reference. The result is exact as long as the real tic lies within 64 tics
// of the anchor.
func Expand(low uint8, anchor Tic) Tic {
	delta := int(low) - int(anchor&0xFF)
	base := anchor &^ 0xFF
	switch {
	case delta >= -64 && delta <= 64:
		return base + Tic(low)
	case delta > 64:
		if base == 0 {
			return Tic(low)
		}
		return base - 256 + Tic(low)
	default:
		return base + 256 + Tic(low)
	}
}

// Seconds converts a tic count to whole seconds.
func Seconds(n Tic) int {
	return int(n) / Rate
}
