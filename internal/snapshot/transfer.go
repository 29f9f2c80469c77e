package snapshot

import (
	"fmt"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/tics"
)

// Fragment splits a packed snapshot into wire fragments.
func Fragment(tic tics.Tic, packed []byte) []protocol.SaveGameFragment {
	total := uint32(len(packed))
	if len(packed) == 0 {
		return []protocol.SaveGameFragment{{Tic: uint32(tic)}}
	}
	var out []protocol.SaveGameFragment
	for off := 0; off < len(packed); off += protocol.MaxFragmentData {
		end := off + protocol.MaxFragmentData
		if end > len(packed) {
			end = len(packed)
		}
		out = append(out, protocol.SaveGameFragment{
			Tic:    uint32(tic),
			Total:  total,
			Offset: uint32(off),
			Data:   packed[off:end],
		})
	}
	return out
}

// FreezeExtension is the extra time a node gets to receive size bytes.
func FreezeExtension(size int) tics.Tic {
	return tics.Tic(size / protocol.MaxFragmentData)
}

// Assembler rebuilds a packed snapshot from fragments in any order.
// Duplicates are harmless.
type Assembler struct {
	tic      uint32
	total    uint32
	data     []byte
	have     []bool
	received int
	started  bool
}

// Add stores f. It reports true once every byte has arrived. A fragment
// of a different transfer restarts assembly when it names a newer tic.
func (a *Assembler) Add(f protocol.SaveGameFragment) (bool, error) {
	if uint64(f.Offset)+uint64(len(f.Data)) > uint64(f.Total) || f.Total > MaxSize {
		return false, fmt.Errorf("%w: %d+%d of %d", ErrFragment, f.Offset, len(f.Data), f.Total)
	}
	if !a.started || f.Tic != a.tic || f.Total != a.total {
		if a.started && f.Tic < a.tic {
			return false, fmt.Errorf("%w: tic %d while assembling %d", ErrFragment, f.Tic, a.tic)
		}
		a.reset(f.Tic, f.Total)
	}
	first := int(f.Offset) / protocol.MaxFragmentData
	if int(f.Offset)%protocol.MaxFragmentData != 0 {
		return false, fmt.Errorf("%w: unaligned offset %d", ErrFragment, f.Offset)
	}
	if first < len(a.have) && !a.have[first] {
		copy(a.data[f.Offset:], f.Data)
		a.have[first] = true
		a.received++
	}
	return a.Done(), nil
}

func (a *Assembler) reset(tic, total uint32) {
	chunks := (int(total) + protocol.MaxFragmentData - 1) / protocol.MaxFragmentData
	if chunks == 0 {
		chunks = 1
	}
	a.tic = tic
	a.total = total
	a.data = make([]byte, total)
	a.have = make([]bool, chunks)
	a.received = 0
	a.started = true
}

// Done reports a complete transfer.
func (a *Assembler) Done() bool {
	return a.started && a.received == len(a.have)
}

// Progress reports received and total bytes.
func (a *Assembler) Progress() (int, int) {
	got := a.received * protocol.MaxFragmentData
	if got > int(a.total) {
		got = int(a.total)
	}
	return got, int(a.total)
}

// Missing lists up to limit offsets of the transfer in progress that have
// not arrived. Before the first fragment there is nothing to name.
func (a *Assembler) Missing(limit int) (uint32, []uint32) {
	if !a.started {
		return 0, nil
	}
	var out []uint32
	for i, ok := range a.have {
		if len(out) == limit {
			break
		}
		if !ok {
			out = append(out, uint32(i*protocol.MaxFragmentData))
		}
	}
	return a.tic, out
}

// Result returns the assembled bytes and the tic they represent.
func (a *Assembler) Result() ([]byte, tics.Tic, error) {
	if !a.Done() {
		return nil, 0, ErrIncomplete
	}
	return a.data, tics.Tic(a.tic), nil
}

// Reset forgets any partial transfer.
func (a *Assembler) Reset() {
	*a = Assembler{}
}
