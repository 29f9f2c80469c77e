package protocol

import (
	"fmt"

	"kartsync/server/internal/ticcmd"
)

// ClientCmd is the steady-state packet a client sends every update. Tic
// numbers travel as their low byte only.
type ClientCmd struct {
	ClientTic   uint8
	ResendFrom  uint8
	Consistency int16
	Cmds        []ticcmd.Command
}

// AppendClientCmd encodes c for kind. Keepalive kinds carry only the counters.
func AppendClientCmd(dst []byte, kind Kind, c ClientCmd) ([]byte, error) {
	dst = append(dst, c.ClientTic, c.ResendFrom)
	if kind.IsKeepAlive() {
		return dst, nil
	}
	splits := kind.Splits()
	if splits == 0 {
		return nil, fmt.Errorf("protocol: %s is not a client command kind", kind)
	}
	if len(c.Cmds) != splits {
		return nil, fmt.Errorf("protocol: %s needs %d commands, got %d", kind, splits, len(c.Cmds))
	}
	dst = appendU16(dst, uint16(c.Consistency))
	for _, cmd := range c.Cmds {
		dst = cmd.AppendBinary(dst)
	}
	return dst, nil
}

// DecodeClientCmd parses a client command or keepalive payload.
func DecodeClientCmd(kind Kind, payload []byte) (ClientCmd, error) {
	if !kind.IsClientCmd() {
		return ClientCmd{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	r := NewReader(payload)
	c := ClientCmd{ClientTic: r.U8(), ResendFrom: r.U8()}
	if !kind.IsKeepAlive() {
		c.Consistency = int16(r.U16())
		splits := kind.Splits()
		c.Cmds = make([]ticcmd.Command, 0, splits)
		for i := 0; i < splits; i++ {
			cmd, err := ticcmd.Decode(r.Bytes(ticcmd.Size))
			if err != nil {
				return ClientCmd{}, fmt.Errorf("%w: command %d", ErrLengthMismatch, i)
			}
			c.Cmds = append(c.Cmds, cmd)
		}
	}
	if err := r.Done(); err != nil {
		return ClientCmd{}, err
	}
	return c, nil
}

// TextCmd carries a split's pending text command bytes.
type TextCmd struct {
	Data []byte
}

// AppendTextCmd writes the length-prefixed text command.
func AppendTextCmd(dst []byte, t TextCmd) []byte {
	dst = append(dst, byte(len(t.Data)))
	return append(dst, t.Data...)
}

// ErrEmptyTextCmd marks a text command that declares zero bytes.
var ErrEmptyTextCmd = fmt.Errorf("%w: empty text command", ErrLengthMismatch)

// DecodeTextCmd rejects empty commands and declared sizes larger than the datagram.
func DecodeTextCmd(payload []byte) (TextCmd, error) {
	r := NewReader(payload)
	size := int(r.U8())
	if r.Err() == nil && size == 0 {
		return TextCmd{}, ErrEmptyTextCmd
	}
	if size > r.Remaining() {
		return TextCmd{}, fmt.Errorf("%w: text command declares %d bytes, %d present", ErrLengthMismatch, size, r.Remaining())
	}
	data := r.Bytes(size)
	if err := r.Err(); err != nil {
		return TextCmd{}, err
	}
	return TextCmd{Data: data}, nil
}
