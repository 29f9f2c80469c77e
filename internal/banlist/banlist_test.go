package banlist

import (
	"bytes"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Unix(1_700_000_000, 0)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestLookupHonoursMasksAndExpiry(t *testing.T) {
	now := epoch
	list := New(fixedClock(&now))
	if err := list.Add(netip.MustParseAddr("10.1.2.3"), 16, "rival", "", time.Time{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := list.Add(netip.MustParseAddr("192.0.2.7"), 0, "", "spam", epoch.Add(time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}

	entry, ok := list.Lookup(netip.MustParseAddr("10.1.200.9"))
	if !ok || !entry.Permanent() || entry.Reason != DefaultReason {
		t.Fatalf("expected permanent range ban, got %+v %v", entry, ok)
	}
	if _, ok := list.Lookup(netip.MustParseAddr("10.2.0.1")); ok {
		t.Fatalf("address outside the mask must not be banned")
	}
	if _, ok := list.Lookup(netip.MustParseAddr("192.0.2.8")); ok {
		t.Fatalf("single address ban must not cover neighbours")
	}
	entry, ok = list.Lookup(netip.MustParseAddr("::ffff:192.0.2.7"))
	if !ok || entry.Username != DefaultUsername {
		t.Fatalf("expected mapped address to match, got %+v %v", entry, ok)
	}

	now = epoch.Add(time.Hour)
	if _, ok := list.Lookup(netip.MustParseAddr("192.0.2.7")); ok {
		t.Fatalf("served ban must not match")
	}
}

func TestWriteSkipsExpiredAndReadsBack(t *testing.T) {
	now := epoch
	list := New(fixedClock(&now))
	_ = list.Add(netip.MustParseAddr("203.0.113.5"), 0, "ghost", "a reason that is far longer than thirty characters", time.Time{})
	_ = list.Add(netip.MustParseAddr("198.51.100.0"), 24, "old", "done", epoch.Add(-time.Minute))
	_ = list.Add(netip.MustParseAddr("198.51.100.9"), 0, "timed", "cool off", epoch.Add(10*time.Minute))

	var buf bytes.Buffer
	if err := list.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "BANFORMAT 1\n" +
		"203.0.113.5/32 -1 \"ghost\" \"a reason that is far longer th\"\n" +
		"198.51.100.9/32 1700000600 \"timed\" \"cool off\"\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("unexpected file (-want +got):\n%s", diff)
	}

	restored := New(fixedClock(&now))
	malformed, err := restored.Read(&buf)
	if err != nil || malformed != 0 {
		t.Fatalf("read: malformed=%d err=%v", malformed, err)
	}
	if diff := cmp.Diff(list.Entries()[0], restored.Entries()[0], cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
	if len(restored.Entries()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(restored.Entries()))
	}
}

func TestReadRejectsUnknownFormat(t *testing.T) {
	list := New(nil)
	_ = list.Add(netip.MustParseAddr("192.0.2.1"), 0, "", "", time.Time{})
	_, err := list.Read(strings.NewReader("BANFORMAT 7\n1.2.3.4/0 -1 \"a\" \"b\"\n"))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected unknown format, got %v", err)
	}
	if len(list.Entries()) != 1 {
		t.Fatalf("failed load must leave the list untouched")
	}
}

func TestReadToleratesMalformedLines(t *testing.T) {
	list := New(nil)
	malformed, err := list.Read(strings.NewReader("BANFORMAT 1\n1.2.3.4/0 -1 \"only name\"\nnot-an-ip 5\n"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if malformed != 2 {
		t.Fatalf("expected two malformed lines, got %d", malformed)
	}
	entries := list.Entries()
	if len(entries) != 1 || entries[0].Username != "only name" || entries[0].Reason != DefaultReason {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestLegacyFormat(t *testing.T) {
	list := New(nil)
	if _, err := list.Read(strings.NewReader("192.0.2.4 0 NA\n192.0.2.5 0 griefing\n")); err != nil {
		t.Fatalf("read: %v", err)
	}
	entries := list.Entries()
	if len(entries) != 2 || !entries[0].Permanent() {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ban.txt")
	list := New(nil)
	if err := list.SaveFile(path); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected save before load to be refused, got %v", err)
	}
	if _, err := list.LoadFile(path); err != nil {
		t.Fatalf("missing file should load cleanly: %v", err)
	}
	_ = list.Add(netip.MustParseAddr("192.0.2.10"), 0, "x", "y", time.Time{})
	if err := list.SaveFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.HasPrefix(string(data), "BANFORMAT 1\n") {
		t.Fatalf("unexpected file %q: %v", data, err)
	}
}

func TestRemainingText(t *testing.T) {
	cases := []struct {
		left time.Duration
		want string
	}{
		{29 * time.Second, "<1 minute"},
		{60 * time.Second, "1 minute"},
		{90 * time.Second, "2 minutes"},
		{59 * time.Minute, "1 hour"},
		{3 * time.Hour, "3 hours"},
		{23 * time.Hour, "1 day"},
		{72 * time.Hour, "3 days"},
	}
	for _, tc := range cases {
		if got := RemainingText(tc.left); got != tc.want {
			t.Fatalf("RemainingText(%s) = %q, want %q", tc.left, got, tc.want)
		}
	}
}
