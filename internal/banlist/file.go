package banlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FormatVersion is written as "BANFORMAT 1" on the first line.
const FormatVersion = 1

// noBanTime marks a permanent ban on disk.
const noBanTime = -1

// LoadFile replaces the list with the contents of path. A missing file is
// not an error.
func (l *List) LoadFile(path string) (malformed int, err error) {
	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open ban file: %w", err)
	}
	defer f.Close()
	return l.Read(f)
}

// SaveFile writes the list to path through a temporary file.
func (l *List) SaveFile(path string) error {
	l.mu.RLock()
	loaded := l.loaded
	l.mu.RUnlock()
	if !loaded {
		return ErrNotLoaded
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ban-*.txt")
	if err != nil {
		return fmt.Errorf("create ban file: %w", err)
	}
	if err := l.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ban file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace ban file: %w", err)
	}
	return nil
}

// Write emits the header and every unexpired entry.
func (l *List) Write(w io.Writer) error {
	now := l.now()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "BANFORMAT %d\n", FormatVersion)
	for _, e := range l.Entries() {
		if e.Expired(now) {
			continue
		}
		unban := int64(noBanTime)
		if !e.Permanent() {
			unban = e.Unban.Unix()
		}
		fmt.Fprintf(bw, "%s/%d %d \"%s\" \"%s\"\n", e.Prefix.Addr(), e.Prefix.Bits(), unban, e.Username, e.Reason)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write ban file: %w", err)
	}
	return nil
}

// Read replaces the list with the bans in r. It returns how many lines were
// malformed; those are loaded as best it can or skipped. A header naming an
// unknown format leaves the list untouched.
func (l *List) Read(r io.Reader) (malformed int, err error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	format := 0
	for line := 0; scanner.Scan(); line++ {
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if line == 0 && strings.HasPrefix(text, "BANFORMAT") {
			format, err = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(text, "BANFORMAT")))
			if err != nil || format != FormatVersion {
				return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, text)
			}
			continue
		}
		entry, ok, bad := parseLine(text, format)
		if bad {
			malformed++
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return malformed, fmt.Errorf("read ban file: %w", err)
	}
	l.mu.Lock()
	l.entries = entries
	l.rebuild()
	l.mu.Unlock()
	return malformed, nil
}

func parseLine(text string, format int) (entry Entry, ok, malformed bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Entry{}, false, true
	}
	address, bits := fields[0], 0
	rest := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	if slash := strings.IndexByte(address, '/'); slash >= 0 {
		bits, _ = strconv.Atoi(address[slash+1:])
		address = address[:slash]
	} else if len(fields) > 1 {
		bits, _ = strconv.Atoi(fields[1])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return Entry{}, false, true
	}
	addr = addr.Unmap()
	if bits <= 0 || bits > addr.BitLen() {
		bits = addr.BitLen()
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return Entry{}, false, true
	}
	entry = Entry{Prefix: prefix, Username: DefaultUsername, Reason: DefaultReason}

	if format == 0 {
		if rest != "" && rest != "NA" {
			entry.Reason = rest
		}
		entry.Reason = truncate(entry.Reason)
		return entry, true, false
	}

	unbanField, rest, _ := strings.Cut(rest, " ")
	unban, err := strconv.ParseInt(unbanField, 10, 64)
	if err != nil {
		malformed = true
	} else if unban != noBanTime {
		entry.Unban = time.Unix(unban, 0)
	}
	quoted := quotedFields(rest)
	if len(quoted) > 0 {
		entry.Username = quoted[0]
	} else {
		malformed = true
	}
	if len(quoted) > 1 {
		entry.Reason = truncate(quoted[1])
	} else {
		malformed = true
	}
	return entry, true, malformed
}

func quotedFields(s string) []string {
	var out []string
	for {
		start := strings.IndexByte(s, '"')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(s[start+1:], '"')
		if end < 0 {
			return out
		}
		out = append(out, s[start+1:start+1+end])
		s = s[start+end+2:]
	}
}

func truncate(reason string) string {
	if len(reason) > MaxReasonLength {
		return reason[:MaxReasonLength]
	}
	return reason
}
