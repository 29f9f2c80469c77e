// Package xcmd implements the out-of-band text command channel: small
// byte-coded commands that ride along with a tic and run on every peer in
// the same order.
package xcmd

import (
	"errors"
	"fmt"
	"sort"

	"kartsync/server/internal/protocol"
)

// MaxTextCmd bounds the text command bytes one source may attach to a tic.
const MaxTextCmd = 255

// entryOverhead is the id and length bytes ahead of each command's params.
const entryOverhead = 2

// ServerSource is the source byte of commands the server issues itself.
const ServerSource = protocol.ServerSource

var (
	// ErrTextCmdOverflow means a command did not fit the per-tic cap. Local
	// buffers never drop commands silently.
	ErrTextCmdOverflow = errors.New("xcmd: text command buffer overflow")
	ErrUnknownCommand  = errors.New("xcmd: unknown command id")
	ErrDuplicateID     = errors.New("xcmd: command id already registered")
	ErrTruncated       = errors.New("xcmd: truncated command entry")
)

// ID selects a command handler.
type ID uint8

const (
	IDKick ID = iota + 1
	IDAddPlayer
	IDRemovePlayer
)

// Entry is one decoded command.
type Entry struct {
	ID     ID
	Params []byte
}

// Encode appends one [id][len][params] entry to dst.
func Encode(dst []byte, id ID, params []byte) ([]byte, error) {
	if len(params) > MaxTextCmd-entryOverhead {
		return dst, fmt.Errorf("%w: %d param bytes for %d", ErrTextCmdOverflow, len(params), id)
	}
	dst = append(dst, byte(id), byte(len(params)))
	return append(dst, params...), nil
}

// Split breaks a text command blob into its entries.
func Split(data []byte) ([]Entry, error) {
	var out []Entry
	for len(data) > 0 {
		if len(data) < entryOverhead {
			return out, ErrTruncated
		}
		id, size := ID(data[0]), int(data[1])
		data = data[entryOverhead:]
		if size > len(data) {
			return out, fmt.Errorf("%w: id %d wants %d bytes, %d left", ErrTruncated, id, size, len(data))
		}
		out = append(out, Entry{ID: id, Params: data[:size]})
		data = data[size:]
	}
	return out, nil
}

// Buffer collects a local split's commands until they are sent.
type Buffer struct {
	data []byte
}

// Append queues a command. Overflow leaves the buffer untouched.
func (b *Buffer) Append(id ID, params []byte) error {
	if len(b.data)+entryOverhead+len(params) > MaxTextCmd {
		return fmt.Errorf("%w: %d queued, %d more", ErrTextCmdOverflow, len(b.data), entryOverhead+len(params))
	}
	next, err := Encode(b.data, id, params)
	if err != nil {
		return err
	}
	b.data = next
	return nil
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the queued commands without clearing them.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Flush returns the queued commands and empties the buffer.
func (b *Buffer) Flush() []byte {
	out := b.data
	b.data = nil
	return out
}

// Handler runs a command issued by player. player is ServerSource for
// server-issued commands.
type Handler func(params []byte, player int) error

type command struct {
	name    string
	handler Handler
}

// Registry maps command ids to handlers.
type Registry struct {
	commands map[ID]command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[ID]command)}
}

// Register installs handler for id.
func (r *Registry) Register(id ID, name string, handler Handler) error {
	if _, ok := r.commands[id]; ok {
		return fmt.Errorf("%w: %d (%s)", ErrDuplicateID, id, name)
	}
	r.commands[id] = command{name: name, handler: handler}
	return nil
}

// Name reports the registered name of id.
func (r *Registry) Name(id ID) string {
	if cmd, ok := r.commands[id]; ok {
		return cmd.name
	}
	return fmt.Sprintf("xcmd(%d)", id)
}

// IDs lists registered ids in ascending order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Execute runs every entry in data in order. The first unknown id or
// handler error stops execution; the rest of the blob is untrusted.
func (r *Registry) Execute(data []byte, player int) error {
	entries, err := Split(data)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		cmd, ok := r.commands[entry.ID]
		if !ok {
			return fmt.Errorf("%w: %d from player %d", ErrUnknownCommand, entry.ID, player)
		}
		if err := cmd.handler(entry.Params, player); err != nil {
			return fmt.Errorf("xcmd %s: %w", cmd.name, err)
		}
	}
	return nil
}
