package world

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/tics"
)

var ErrBadSave = errors.New("world: bad save")

var saveMagic = [4]byte{'K', 'S', 'W', '1'}

type saveState struct {
	Magic     [4]byte
	Level     bool
	LevelTime uint32
	PhaseTime uint32
	Rand      uint32
	Karts     [protocol.MaxPlayers]Kart
}

// Save serializes everything RunTic depends on except the roster, which
// travels with the session's player table.
func (w *World) Save() ([]byte, error) {
	st := saveState{
		Magic:     saveMagic,
		Level:     w.level,
		LevelTime: uint32(w.levelTime),
		PhaseTime: uint32(w.phaseTime),
		Rand:      w.rand,
		Karts:     w.karts,
	}
	var buf bytes.Buffer
	buf.Grow(binary.Size(st))
	if err := binary.Write(&buf, binary.LittleEndian, &st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *World) Load(data []byte) error {
	var st saveState
	if len(data) != binary.Size(st) {
		return fmt.Errorf("%w: %d bytes", ErrBadSave, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &st); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSave, err)
	}
	if st.Magic != saveMagic {
		return fmt.Errorf("%w: magic %q", ErrBadSave, st.Magic[:])
	}
	w.level = st.Level
	w.levelTime = tics.Tic(st.LevelTime)
	w.phaseTime = tics.Tic(st.PhaseTime)
	w.rand = st.Rand
	w.karts = st.Karts
	return nil
}
