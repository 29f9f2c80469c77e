package world

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kartsync/server/internal/consistency"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
)

func rosterOf(players ...int) Roster {
	return func(p int) bool {
		for _, q := range players {
			if p == q {
				return true
			}
		}
		return false
	}
}

func drive(w *World, n int, cmd func(p int, tic tics.Tic) ticcmd.Command) {
	cmds := make([]ticcmd.Command, 16)
	for i := 0; i < n; i++ {
		tic := tics.Tic(i)
		for p := range cmds {
			cmds[p] = cmd(p, tic)
		}
		w.RunTic(tic, cmds)
	}
}

func TestIdenticalInputsStayIdentical(t *testing.T) {
	a := New(DefaultConfig(), rosterOf(0, 3))
	b := New(DefaultConfig(), rosterOf(0, 3))
	input := func(p int, tic tics.Tic) ticcmd.Command {
		return Bots{}.BotCommand(p, tic)
	}
	drive(a, 500, input)
	drive(b, 500, input)

	if diff := cmp.Diff(a.ConsistencyState(), b.ConsistencyState()); diff != "" {
		t.Fatalf("worlds diverged (-a +b):\n%s", diff)
	}
	if !a.Kart(0).Present || !a.Kart(3).Present || a.Kart(1).Present {
		t.Fatalf("unexpected bodies: %+v %+v %+v", a.Kart(0), a.Kart(1), a.Kart(3))
	}
	if a.LevelTime() != 500 {
		t.Fatalf("level time %d", a.LevelTime())
	}
}

func TestSaveLoadResumesExactly(t *testing.T) {
	roster := rosterOf(1, 2)
	a := New(DefaultConfig(), roster)
	drive(a, 200, func(p int, tic tics.Tic) ticcmd.Command {
		return ticcmd.Command{ForwardMove: 30, Turning: int16(p * 100), Buttons: ButtonItem}
	})
	data, err := a.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Seed = 99
	b := New(cfg, roster)
	if err := b.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := consistency.Hash(b.ConsistencyState()), consistency.Hash(a.ConsistencyState()); got != want {
		t.Fatalf("hash after load %d, want %d", got, want)
	}

	more := func(p int, tic tics.Tic) ticcmd.Command {
		return ticcmd.Command{ForwardMove: -20, Turning: 300}
	}
	drive(a, 100, more)
	drive(b, 100, more)
	if diff := cmp.Diff(a.ConsistencyState(), b.ConsistencyState()); diff != "" {
		t.Fatalf("diverged after load (-a +b):\n%s", diff)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	w := New(DefaultConfig(), nil)
	if err := w.Load([]byte("nope")); !errors.Is(err, ErrBadSave) {
		t.Fatalf("expected ErrBadSave, got %v", err)
	}
	data, err := w.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	data[0] = 'X'
	if err := w.Load(data); !errors.Is(err, ErrBadSave) {
		t.Fatalf("expected ErrBadSave for bad magic, got %v", err)
	}
}

func TestKartsStayInsideArena(t *testing.T) {
	cfg := DefaultConfig()
	w := New(cfg, rosterOf(0, 1, 2, 3))
	drive(w, 2000, func(p int, tic tics.Tic) ticcmd.Command {
		return ticcmd.Command{ForwardMove: ticcmd.MaxPlayerMove, Turning: int16(p * 37)}
	})
	for p := 0; p < 4; p++ {
		k := w.Kart(p)
		if k.X < KartHalf*Frac || k.X > (cfg.Width-KartHalf)*Frac ||
			k.Y < KartHalf*Frac || k.Y > (cfg.Height-KartHalf)*Frac {
			t.Fatalf("kart %d left the arena: %+v", p, k)
		}
		if w.blocked(k.X, k.Y) {
			t.Fatalf("kart %d inside an obstacle: %+v", p, k)
		}
	}
}

func TestLevelEndsAndRestarts(t *testing.T) {
	w := New(Config{LevelTics: 10, IntermissionTics: 5}, rosterOf(0))
	drive(w, 10, func(int, tics.Tic) ticcmd.Command { return ticcmd.Command{} })
	if w.InLevel() {
		t.Fatalf("level should have ended")
	}
	drive(w, 5, func(int, tics.Tic) ticcmd.Command { return ticcmd.Command{} })
	if !w.InLevel() || w.LevelTime() != 0 {
		t.Fatalf("level did not restart: in=%v time=%d", w.InLevel(), w.LevelTime())
	}
	if !w.Kart(0).Present {
		t.Fatalf("kart not respawned")
	}
}

func TestItemButtonToggles(t *testing.T) {
	w := New(DefaultConfig(), rosterOf(0))
	cmds := make([]ticcmd.Command, 16)
	w.RunTic(0, cmds)
	cmds[0].Buttons = ButtonItem
	w.RunTic(1, cmds)
	item := w.Kart(0).Item
	if item < 1 || item > ItemKinds {
		t.Fatalf("rolled item %d", item)
	}
	w.RunTic(2, cmds)
	if w.Kart(0).Item != 0 {
		t.Fatalf("item not used")
	}
}
