package ticcmd

import (
	"encoding/binary"
	"errors"
)

const (
	// MaxPlayerMove is the largest legal forwardmove magnitude.
	MaxPlayerMove = 50
	// FullTurn is the largest legal turning and throw direction magnitude.
	FullTurn = 800
	// Size is the encoded length of a Command.
	Size = 13
)

// FlagReceived marks a command that arrived from its owner instead of being
// repeated from the previous tic.
const FlagReceived uint8 = 1 << 0

// ErrShortCommand is returned when fewer than Size bytes are available.
var ErrShortCommand = errors.New("ticcmd: short command")

// Command is one frame of a player's input.
type Command struct {
	ForwardMove int8
	Turning     int16
	Angle       int16
	ThrowDir    int16
	Aiming      int16
	Buttons     uint16
	Latency     uint8
	Flags       uint8
}

// Received reports whether the command came from its owner.
func (c Command) Received() bool {
	return c.Flags&FlagReceived != 0
}

// Illegal reports input values no legitimate client can produce.
func (c Command) Illegal() bool {
	return c.ForwardMove > MaxPlayerMove || c.ForwardMove < -MaxPlayerMove ||
		c.Turning > FullTurn || c.Turning < -FullTurn ||
		c.ThrowDir > FullTurn || c.ThrowDir < -FullTurn
}

// AppendBinary appends the wire form of c to dst.
func (c Command) AppendBinary(dst []byte) []byte {
	dst = append(dst, byte(c.ForwardMove))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(c.Turning))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(c.Angle))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(c.ThrowDir))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(c.Aiming))
	dst = binary.LittleEndian.AppendUint16(dst, c.Buttons)
	return append(dst, c.Latency, c.Flags)
}

// Decode reads one command from the front of src.
func Decode(src []byte) (Command, error) {
	if len(src) < Size {
		return Command{}, ErrShortCommand
	}
	return Command{
		ForwardMove: int8(src[0]),
		Turning:     int16(binary.LittleEndian.Uint16(src[1:])),
		Angle:       int16(binary.LittleEndian.Uint16(src[3:])),
		ThrowDir:    int16(binary.LittleEndian.Uint16(src[5:])),
		Aiming:      int16(binary.LittleEndian.Uint16(src[7:])),
		Buttons:     binary.LittleEndian.Uint16(src[9:]),
		Latency:     src[11],
		Flags:       src[12],
	}, nil
}
