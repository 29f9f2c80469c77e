package ticcmd

// MaxGentlemenDelay is how many past local commands are kept per split.
const MaxGentlemenDelay = 35

// InputSource samples local devices or bot policy into a command.
type InputSource interface {
	BuildCommand(split int, realtics int) Command
}

// InputFunc adapts a function into an InputSource.
type InputFunc func(split int, realtics int) Command

func (f InputFunc) BuildCommand(split int, realtics int) Command {
	if f == nil {
		return Command{}
	}
	return f(split, realtics)
}

// History keeps the most recent local commands for each split, newest first.
// Delaying what gets sent by a few entries aligns input with the slowest
// acceptable peer.
type History struct {
	source InputSource
	cmds   [4][MaxGentlemenDelay]Command
}

// NewHistory builds an empty history fed by source.
func NewHistory(source InputSource) *History {
	return &History{source: source}
}

// Build samples a new command for split and pushes it to the front of the
// history. With no elapsed frames nothing is sampled and the newest command
// is returned as is.
func (h *History) Build(split int, realtics int) Command {
	if h == nil || split < 0 || split >= len(h.cmds) {
		return Command{}
	}
	row := &h.cmds[split]
	if realtics <= 0 {
		return row[0]
	}
	copy(row[1:], row[:len(row)-1])
	var cmd Command
	if h.source != nil {
		cmd = h.source.BuildCommand(split, realtics)
	}
	cmd.Flags |= FlagReceived
	row[0] = cmd
	return cmd
}

// Delayed returns the command built delay frames ago, clamped to the history depth.
func (h *History) Delayed(split int, delay int) Command {
	if h == nil || split < 0 || split >= len(h.cmds) {
		return Command{}
	}
	if delay < 0 {
		delay = 0
	}
	if delay >= MaxGentlemenDelay {
		delay = MaxGentlemenDelay - 1
	}
	return h.cmds[split][delay]
}

// Reset forgets every stored command.
func (h *History) Reset() {
	if h == nil {
		return
	}
	h.cmds = [4][MaxGentlemenDelay]Command{}
}
