// Package snapshot frames, compresses and fragments full game-state blobs
// for joiners and resyncing nodes.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/tics"
)

var (
	ErrCorrupt    = errors.New("snapshot: corrupt frame")
	ErrFragment   = errors.New("snapshot: fragment does not belong to transfer")
	ErrIncomplete = errors.New("snapshot: transfer incomplete")
	ErrPlayerSlot = errors.New("snapshot: player slot out of range")
)

// MaxSize bounds an uncompressed snapshot.
const MaxSize = 8 << 20

// PlayerRecord is the registry view of one occupied slot.
type PlayerRecord struct {
	Slot  uint8
	Node  uint8
	Split uint8
	Admin bool
	Bot   bool
	Name  string
	Key   protocol.PublicKey
}

// State is everything a peer needs to resume at Tic.
type State struct {
	Tic     tics.Tic
	Players []PlayerRecord
	Game    []byte
}

// Encode serialises s without compression.
func Encode(s State) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(s.Tic))
	out = append(out, byte(len(s.Players)))
	for _, p := range s.Players {
		flags := byte(0)
		if p.Admin {
			flags |= 1
		}
		if p.Bot {
			flags |= 2
		}
		out = append(out, p.Slot, p.Node, p.Split, flags, byte(len(p.Name)))
		out = append(out, p.Name...)
		out = append(out, p.Key[:]...)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s.Game)))
	return append(out, s.Game...)
}

// Decode parses the output of Encode.
func Decode(raw []byte) (State, error) {
	r := protocol.NewReader(raw)
	s := State{Tic: tics.Tic(r.U32())}
	count := int(r.U8())
	for i := 0; i < count && r.Err() == nil; i++ {
		p := PlayerRecord{Slot: r.U8(), Node: r.U8(), Split: r.U8()}
		flags := r.U8()
		p.Admin = flags&1 != 0
		p.Bot = flags&2 != 0
		p.Name = r.LenString()
		r.Read(p.Key[:])
		if p.Slot >= protocol.MaxPlayers || p.Split >= protocol.MaxSplitscreen {
			return State{}, fmt.Errorf("%w: slot %d split %d", ErrPlayerSlot, p.Slot, p.Split)
		}
		s.Players = append(s.Players, p)
	}
	size := int(r.U32())
	s.Game = append([]byte(nil), r.Bytes(size)...)
	if err := r.Done(); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

// Pack frames raw as a u32 uncompressed length followed by the data. The
// length is zero when compression did not make the data strictly smaller.
func Pack(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if buf.Len() < len(raw) {
		out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+buf.Len()), uint32(len(raw)))
		return append(out, buf.Bytes()...), nil
	}
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(raw)), 0)
	return append(out, raw...), nil
}

// Unpack reverses Pack.
func Unpack(framed []byte) ([]byte, error) {
	if len(framed) < 4 {
		return nil, fmt.Errorf("%w: %d byte frame", ErrCorrupt, len(framed))
	}
	size := binary.LittleEndian.Uint32(framed)
	body := framed[4:]
	if size == 0 {
		return append([]byte(nil), body...), nil
	}
	if size > MaxSize {
		return nil, fmt.Errorf("%w: declares %d bytes", ErrCorrupt, size)
	}
	out := make([]byte, size)
	zr := lz4.NewReader(bytes.NewReader(body))
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}
