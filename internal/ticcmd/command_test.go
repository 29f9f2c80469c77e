package ticcmd

import "testing"

func TestCommandIllegalRanges(t *testing.T) {
	cases := []struct {
		name    string
		cmd     Command
		illegal bool
	}{
		{name: "neutral", cmd: Command{}},
		{name: "max forward", cmd: Command{ForwardMove: MaxPlayerMove}},
		{name: "over forward", cmd: Command{ForwardMove: MaxPlayerMove + 1}, illegal: true},
		{name: "under forward", cmd: Command{ForwardMove: -MaxPlayerMove - 1}, illegal: true},
		{name: "full turn", cmd: Command{Turning: -FullTurn}},
		{name: "over turn", cmd: Command{Turning: FullTurn + 1}, illegal: true},
		{name: "over throw", cmd: Command{ThrowDir: -FullTurn - 1}, illegal: true},
		{name: "aiming ignored", cmd: Command{Aiming: 32000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cmd.Illegal(); got != tc.illegal {
				t.Fatalf("Illegal() = %v, want %v", got, tc.illegal)
			}
		})
	}
}

func TestCommandEncodingPreservesSignedFields(t *testing.T) {
	cmd := Command{ForwardMove: -12, Turning: -800, Angle: 1234, ThrowDir: 5, Aiming: -7, Buttons: 0xBEEF, Latency: 4, Flags: FlagReceived}
	data := cmd.AppendBinary(nil)
	if len(data) != Size {
		t.Fatalf("expected %d bytes, got %d", Size, len(data))
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != cmd {
		t.Fatalf("decoded %+v, want %+v", decoded, cmd)
	}
	if _, err := Decode(data[:Size-1]); err != ErrShortCommand {
		t.Fatalf("expected ErrShortCommand, got %v", err)
	}
}

func TestHistoryDelaysCommands(t *testing.T) {
	next := int8(0)
	history := NewHistory(InputFunc(func(split int, realtics int) Command {
		next++
		return Command{ForwardMove: next}
	}))
	for i := 0; i < 5; i++ {
		history.Build(0, 1)
	}
	if got := history.Delayed(0, 0).ForwardMove; got != 5 {
		t.Fatalf("expected newest command 5, got %d", got)
	}
	if got := history.Delayed(0, 3).ForwardMove; got != 2 {
		t.Fatalf("expected delayed command 2, got %d", got)
	}
	if !history.Delayed(0, 0).Received() {
		t.Fatalf("expected local commands to be marked received")
	}
	if got := history.Delayed(1, 0); got != (Command{}) {
		t.Fatalf("expected untouched split to be empty, got %+v", got)
	}
}

func TestHistoryBuildWithZeroRealtics(t *testing.T) {
	samples := 0
	history := NewHistory(InputFunc(func(split int, realtics int) Command {
		samples++
		return Command{ForwardMove: int8(samples)}
	}))
	history.Build(2, 1)
	history.Build(2, 1)
	before := [2]Command{history.Delayed(2, 0), history.Delayed(2, 1)}

	for i := 0; i < 3; i++ {
		if cmd := history.Build(2, 0); cmd != before[0] {
			t.Fatalf("zero realtics returned %+v, want %+v", cmd, before[0])
		}
	}
	after := [2]Command{history.Delayed(2, 0), history.Delayed(2, 1)}
	if after != before {
		t.Fatalf("zero realtics shifted history: before %+v after %+v", before, after)
	}
	if samples != 2 {
		t.Fatalf("input sampled %d times, want 2", samples)
	}
	if history.Build(7, 0) != (Command{}) {
		t.Fatalf("expected out-of-range split to be ignored")
	}
}
