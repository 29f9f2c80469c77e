package protocol

import (
	"fmt"

	"kartsync/server/internal/ticcmd"
)

// ServerTicsBaseSize counts the fixed fields ahead of the commands.
const ServerTicsBaseSize = 3

// ServerSource is the text command source byte used for commands the server
// issues on its own behalf rather than for a player slot.
const ServerSource = MaxPlayers

// TextEntry is one player's text command bytes for a tic.
type TextEntry struct {
	Source uint8
	Data   []byte
}

// TicData is everything the server sends for a single tic.
type TicData struct {
	Cmds []ticcmd.Command
	Text []TextEntry
}

// ServerTics is a contiguous window of authoritative tics.
type ServerTics struct {
	StartTic uint8
	NumSlots uint8
	Tics     []TicData
}

// TicWireSize is the encoded size of one tic with numslots commands and the
// given text entries.
func TicWireSize(numslots int, text []TextEntry) int {
	size := numslots*ticcmd.Size + 1
	for _, entry := range text {
		size += 2 + len(entry.Data)
	}
	return size
}

// AppendServerTics encodes all commands first, then the per-tic text sections.
func AppendServerTics(dst []byte, s ServerTics) ([]byte, error) {
	if len(s.Tics) > 255 {
		return nil, fmt.Errorf("protocol: %d tics do not fit one packet", len(s.Tics))
	}
	dst = append(dst, s.StartTic, byte(len(s.Tics)), s.NumSlots)
	for i, tic := range s.Tics {
		if len(tic.Cmds) != int(s.NumSlots) {
			return nil, fmt.Errorf("protocol: tic %d has %d commands for %d slots", i, len(tic.Cmds), s.NumSlots)
		}
		for _, cmd := range tic.Cmds {
			dst = cmd.AppendBinary(dst)
		}
	}
	for _, tic := range s.Tics {
		if len(tic.Text) > 255 {
			return nil, fmt.Errorf("protocol: %d text entries in one tic", len(tic.Text))
		}
		dst = append(dst, byte(len(tic.Text)))
		for _, entry := range tic.Text {
			if len(entry.Data) > 255 {
				return nil, fmt.Errorf("protocol: text entry of %d bytes", len(entry.Data))
			}
			dst = append(dst, entry.Source, byte(len(entry.Data)))
			dst = append(dst, entry.Data...)
		}
	}
	return dst, nil
}

// DecodeServerTics parses a tic window, checking every declared count
// against the bytes actually present.
func DecodeServerTics(payload []byte) (ServerTics, error) {
	r := NewReader(payload)
	s := ServerTics{StartTic: r.U8()}
	numtics := int(r.U8())
	s.NumSlots = r.U8()
	if err := r.Err(); err != nil {
		return ServerTics{}, err
	}
	if int(s.NumSlots) > MaxPlayers {
		return ServerTics{}, fmt.Errorf("%w: %d slots", ErrLengthMismatch, s.NumSlots)
	}
	s.Tics = make([]TicData, numtics)
	for i := range s.Tics {
		cmds := make([]ticcmd.Command, s.NumSlots)
		for j := range cmds {
			cmd, err := ticcmd.Decode(r.Bytes(ticcmd.Size))
			if err != nil {
				return ServerTics{}, fmt.Errorf("%w: tic %d slot %d", ErrLengthMismatch, i, j)
			}
			cmds[j] = cmd
		}
		s.Tics[i].Cmds = cmds
	}
	for i := range s.Tics {
		count := int(r.U8())
		for j := 0; j < count && r.Err() == nil; j++ {
			source := r.U8()
			size := int(r.U8())
			data := r.Bytes(size)
			if int(source) > ServerSource {
				return ServerTics{}, fmt.Errorf("%w: text source %d", ErrLengthMismatch, source)
			}
			s.Tics[i].Text = append(s.Tics[i].Text, TextEntry{Source: source, Data: data})
		}
	}
	if err := r.Done(); err != nil {
		return ServerTics{}, err
	}
	return s, nil
}
