package ticbuf

import (
	"errors"
	"fmt"
	"sort"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/xcmd"
)

var ErrSourceRange = errors.New("ticbuf: text source out of range")

type textKey struct {
	tic    tics.Tic
	source uint8
}

// TextStore holds the text command bytes each source attached to a tic.
type TextStore struct {
	entries map[textKey][]byte
}

func NewTextStore() *TextStore {
	return &TextStore{entries: make(map[textKey][]byte)}
}

// Get returns the bytes stored for source at t.
func (s *TextStore) Get(t tics.Tic, source uint8) []byte {
	return s.entries[textKey{t, source}]
}

// Append adds data after anything source already has at t. The combined
// size may not exceed xcmd.MaxTextCmd.
func (s *TextStore) Append(t tics.Tic, source uint8, data []byte) error {
	if int(source) > protocol.ServerSource {
		return fmt.Errorf("%w: %d", ErrSourceRange, source)
	}
	key := textKey{t, source}
	existing := s.entries[key]
	if len(existing)+len(data) > xcmd.MaxTextCmd {
		return fmt.Errorf("%w: tic %d source %d has %d, adding %d", xcmd.ErrTextCmdOverflow, t, source, len(existing), len(data))
	}
	merged := make([]byte, 0, len(existing)+len(data))
	merged = append(merged, existing...)
	s.entries[key] = append(merged, data...)
	return nil
}

// Set replaces the bytes for source at t, used when a client copies the
// server's authoritative text.
func (s *TextStore) Set(t tics.Tic, source uint8, data []byte) {
	if len(data) == 0 {
		delete(s.entries, textKey{t, source})
		return
	}
	s.entries[textKey{t, source}] = append([]byte(nil), data...)
}

// Total is the wire size of the text section for t.
func (s *TextStore) Total(t tics.Tic) int {
	total := 1
	for key, data := range s.entries {
		if key.tic == t {
			total += 2 + len(data)
		}
	}
	return total
}

// Entries returns t's text in ascending source order.
func (s *TextStore) Entries(t tics.Tic) []protocol.TextEntry {
	var out []protocol.TextEntry
	for key, data := range s.entries {
		if key.tic == t {
			out = append(out, protocol.TextEntry{Source: key.source, Data: data})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Clear drops everything stored for t.
func (s *TextStore) Clear(t tics.Tic) {
	for key := range s.entries {
		if key.tic == t {
			delete(s.entries, key)
		}
	}
}

// ClearBefore drops every tic older than t.
func (s *TextStore) ClearBefore(t tics.Tic) {
	for key := range s.entries {
		if key.tic < t {
			delete(s.entries, key)
		}
	}
}

func (s *TextStore) Len() int {
	return len(s.entries)
}
