package xcmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBufferOverflowIsReported(t *testing.T) {
	var buf Buffer
	params := bytes.Repeat([]byte{7}, 100)
	if err := buf.Append(IDKick, params); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := buf.Append(IDKick, params); err != nil {
		t.Fatalf("second append: %v", err)
	}
	before := buf.Len()
	err := buf.Append(IDKick, params)
	if !errors.Is(err, ErrTextCmdOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if buf.Len() != before {
		t.Fatalf("overflow must not modify the buffer: %d != %d", buf.Len(), before)
	}
	if got := buf.Flush(); len(got) != before || buf.Len() != 0 {
		t.Fatalf("flush returned %d bytes, %d left", len(got), buf.Len())
	}
}

func TestRegistryExecutesInOrder(t *testing.T) {
	reg := NewRegistry()
	var seen []string
	record := func(label string) Handler {
		return func(params []byte, player int) error {
			seen = append(seen, label+":"+string(params))
			if player != 3 {
				t.Fatalf("unexpected player %d", player)
			}
			return nil
		}
	}
	if err := reg.Register(IDKick, "kick", record("kick")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(IDRemovePlayer, "remove", record("remove")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(IDKick, "again", record("x")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	var buf Buffer
	_ = buf.Append(IDRemovePlayer, []byte("a"))
	_ = buf.Append(IDKick, []byte("bc"))
	if err := reg.Execute(buf.Bytes(), 3); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if diff := cmp.Diff([]string{"remove:a", "kick:bc"}, seen); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestRegistryRejectsUnknownAndTruncated(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Execute([]byte{99, 0}, 0); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected unknown command, got %v", err)
	}
	if err := reg.Execute([]byte{byte(IDKick), 5, 1}, 0); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncated, got %v", err)
	}
}

func TestKickParams(t *testing.T) {
	custom := Kick{Player: 4, Message: KickCustomBan, Reason: "griefing"}
	got, err := DecodeKick(custom.Params())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(custom, got); diff != "" {
		t.Fatalf("kick mismatch (-want +got):\n%s", diff)
	}
	plain := Kick{Player: 1, Message: KickConFail, Reason: "ignored"}
	if len(plain.Params()) != 2 {
		t.Fatalf("plain kicks carry no reason")
	}
	if !KickGoAway.TemporaryBan() || KickGoAway.PermanentBan() || !KickBanned.PermanentBan() {
		t.Fatalf("unexpected ban classification")
	}
	if KickConFail.ClientText("") != "Server closed connection\n(Synch failure)" {
		t.Fatalf("unexpected client text %q", KickConFail.ClientText(""))
	}
}

func TestAddPlayerRejectsBadSplit(t *testing.T) {
	params := AddPlayer{Node: 2, Player: 3, Split: 4, Name: "sonic"}.Params()
	if _, err := DecodeAddPlayer(params); err == nil {
		t.Fatalf("expected split 4 to be rejected")
	}
}
